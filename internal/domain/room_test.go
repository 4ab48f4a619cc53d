package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeAlphabet(t *testing.T) {
	for i := 0; i < 10000; i++ {
		code := GenerateCode()
		require.Len(t, string(code), CodeLen)
		for _, c := range string(code) {
			require.True(t, strings.ContainsRune(CodeAlphabet, c), "disallowed %q in %s", c, code)
		}
	}
}

func TestCodeAlphabetHasNoAmbiguousCharacters(t *testing.T) {
	for _, c := range "0O1I" {
		assert.False(t, strings.ContainsRune(CodeAlphabet, c), "%q must be excluded", c)
	}
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		in      string
		want    RoomCode
		wantErr error
	}{
		{in: "AB23", want: "AB23"},
		{in: " ab23 ", want: "AB23"},
		{in: "ab2", wantErr: ErrCodeLength},
		{in: "AB234", wantErr: ErrCodeLength},
		{in: "AB10", wantErr: ErrCodeCharset},
		{in: "OOPS", wantErr: ErrCodeCharset},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCode(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHostRendezvousID(t *testing.T) {
	assert.Equal(t, PeerID("patchroom-AB23-host"), HostRendezvousID("", "AB23"))
	assert.Equal(t, PeerID("studio-AB23-host"), HostRendezvousID("studio-", "AB23"))

	room := NewRoom("", "XY45")
	assert.Equal(t, HostRendezvousID("", "XY45"), room.HostRendezvousID)
}

func TestDisplayName(t *testing.T) {
	name, err := DisplayName("  ", "Host")
	require.NoError(t, err)
	assert.Equal(t, "Host", name)

	name, err = DisplayName(" Ann ", "Host")
	require.NoError(t, err)
	assert.Equal(t, "Ann", name)

	_, err = DisplayName(strings.Repeat("x", MaxDisplayNameLen+1), "Host")
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)
}

func TestSnapshotJSON(t *testing.T) {
	var s Snapshot
	require.NoError(t, s.UnmarshalJSON([]byte(`{"a":1}`)))
	out, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))

	assert.True(t, Snapshot(nil).IsEmpty())
	assert.True(t, Snapshot("null").IsEmpty())
	assert.False(t, s.IsEmpty())

	c := s.Clone()
	c[0] = '['
	assert.Equal(t, byte('{'), s[0])
}
