package domain

import "bytes"

// ParamEdit is one parameter change addressed by instrument and dot-path.
type ParamEdit struct {
	Instrument string `json:"instrument"`
	Path       string `json:"path"`
	Value      any    `json:"value"`
}

// EditKey identifies an edit slot; later edits to the same key replace earlier ones.
type EditKey struct {
	Instrument string
	Path       string
}

func (e ParamEdit) Key() EditKey { return EditKey{Instrument: e.Instrument, Path: e.Path} }

// CrossLink connects an output of one instrument to an input of another.
type CrossLink struct {
	SourceInst string `json:"sourceInst"`
	SourceID   string `json:"sourceId"`
	DestInst   string `json:"destInst"`
	DestID     string `json:"destId"`
}

// Snapshot is an opaque serialized state tree. It is embedded verbatim in messages.
type Snapshot []byte

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	*s = append((*s)[:0], data...)
	return nil
}

func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	return append(Snapshot(nil), s...)
}

func (s Snapshot) Equal(o Snapshot) bool { return bytes.Equal(s, o) }

// IsEmpty is true for a missing or JSON null snapshot.
func (s Snapshot) IsEmpty() bool {
	return len(s) == 0 || bytes.Equal(bytes.TrimSpace(s), []byte("null"))
}
