package protocol

import (
	"testing"

	"github.com/dkeye/patchroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSetsDiscriminator(t *testing.T) {
	data, err := Encode(&ParamBatch{
		Params: []domain.ParamEdit{{Instrument: "crave", Path: "vco.frequency", Value: 440}},
		Origin: Origin{From: "guest-a"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "paramBatch",
		"params": [{"instrument": "crave", "path": "vco.frequency", "value": 440}],
		"fromPeer": "guest-a"
	}`, string(data))
}

func TestEncodePatchChangeFlattensLink(t *testing.T) {
	data, err := Encode(&PatchChange{
		Action:    PatchAdd,
		CrossLink: domain.CrossLink{SourceInst: "edge", SourceID: "env", DestInst: "crave", DestID: "vcf"},
		Origin:    Origin{From: "h"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"patchChange","action":"add","sourceInst":"edge","sourceId":"env","destInst":"crave","destId":"vcf","fromPeer":"h"}`, string(data))
}

func TestRoomFullWireType(t *testing.T) {
	data, err := Encode(&RoomFull{Message: "Room is full (max 3 players)"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"room-full","message":"Room is full (max 3 players)"}`, string(data))
}

func TestDecodeKnownTypes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Message
	}{
		{
			name: "join",
			in:   `{"type":"join","name":"Ann","peerId":"p1"}`,
			want: &Join{Name: "Ann", Peer: "p1"},
		},
		{
			name: "fullSync",
			in:   `{"type":"fullSync","state":{"crave":{"vco":{"frequency":220}}}}`,
			want: &FullSync{State: domain.Snapshot(`{"crave":{"vco":{"frequency":220}}}`)},
		},
		{
			name: "noteOn",
			in:   `{"type":"noteOn","instrument":"crave","note":60,"fromPeer":"p1"}`,
			want: &NoteOn{Instrument: "crave", Note: 60, Origin: Origin{From: "p1"}},
		},
		{
			name: "seqControl",
			in:   `{"type":"seqControl","instrument":"edge","action":"stop","fromPeer":"p1"}`,
			want: &SeqControl{Instrument: "edge", Action: SeqStop, Origin: Origin{From: "p1"}},
		},
		{
			name: "tabChange",
			in:   `{"type":"tabChange","tabId":"spice","fromPeer":"p2"}`,
			want: &TabChange{Tab: "spice", Origin: Origin{From: "p2"}},
		},
		{
			name: "playerLeft",
			in:   `{"type":"playerLeft","peerId":"p2","section":1}`,
			want: &PlayerLeft{Peer: "p2", Section: domain.SectionRef(1)},
		},
		{
			name: "error",
			in:   `{"type":"error","message":"boom"}`,
			want: &Error{Message: "boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeParamBatchValue(t *testing.T) {
	m, err := Decode([]byte(`{"type":"paramBatch","params":[{"instrument":"crave","path":"vco.frequency","value":440}],"fromPeer":"a"}`))
	require.NoError(t, err)
	batch, ok := m.(*ParamBatch)
	require.True(t, ok)
	require.Len(t, batch.Params, 1)
	assert.Equal(t, float64(440), batch.Params[0].Value)
	assert.Equal(t, domain.PeerID("a"), batch.Originator())
}

func TestDecodeUnknownTypeIsIgnorable(t *testing.T) {
	m, err := Decode([]byte(`{"type":"cursorMove","x":1}`))
	require.NoError(t, err)
	assert.Equal(t, Type("cursorMove"), m.Type())
	_, isUnknown := m.(*Unknown)
	assert.True(t, isUnknown)
}

func TestDecodeMalformed(t *testing.T) {
	for name, in := range map[string]string{
		"not json":            `{"type":`,
		"no type":             `{"note":1}`,
		"type not string":     `{"type":5}`,
		"relay without from":  `{"type":"noteOff","instrument":"crave"}`,
		"bad seq action":      `{"type":"seqControl","instrument":"crave","action":"pause","fromPeer":"a"}`,
		"bad patch action":    `{"type":"patchChange","action":"toggle","fromPeer":"a"}`,
		"param without path":  `{"type":"paramBatch","params":[{"instrument":"crave","value":1}],"fromPeer":"a"}`,
		"fullSync null state": `{"type":"fullSync","state":null}`,
		"wrong field type":    `{"type":"noteOn","instrument":"crave","note":"C4","fromPeer":"a"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeUnknownFails(t *testing.T) {
	_, err := Encode(&Unknown{Kind: "x"})
	assert.ErrorIs(t, err, ErrUnencodable)
}

func TestRelayableSet(t *testing.T) {
	relayable := []Message{&ParamBatch{}, &StateUpdate{}, &NoteOn{}, &NoteOff{}, &SeqControl{}, &PatchChange{}, &TabChange{}}
	for _, m := range relayable {
		_, ok := m.(Relayable)
		assert.True(t, ok, "%s should be relayable", m.Type())
	}
	direct := []Message{&Join{}, &FullSync{}, &Welcome{}, &PlayerJoined{}, &PlayerLeft{}, &Error{}, &RoomFull{}}
	for _, m := range direct {
		_, ok := m.(Relayable)
		assert.False(t, ok, "%s should not be relayable", m.Type())
	}
}
