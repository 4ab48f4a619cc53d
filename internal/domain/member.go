package domain

// Member is a participant's presence in a room.
// No transport or lifecycle logic here.
type Member struct {
	Peer    PeerID `json:"peerId"`
	Name    string `json:"name"`
	View    string `json:"tabId,omitempty"`
	Section *int   `json:"section,omitempty"`
}

func NewMember(peer PeerID, name string) Member {
	return Member{Peer: peer, Name: name}
}

// HasSection reports whether the member owns a section.
func (m Member) HasSection() bool { return m.Section != nil }

func SectionRef(i int) *int { return &i }
