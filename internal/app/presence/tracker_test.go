package presence

import (
	"testing"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinWithoutSections(t *testing.T) {
	tr := New(0)
	m, err := tr.Join("a", "Ann")
	require.NoError(t, err)
	assert.Nil(t, m.Section)
	assert.False(t, tr.SectionsEnabled())
	assert.Equal(t, 1, tr.Len())
}

func TestSectionsFirstFit(t *testing.T) {
	tr := New(3)
	a, err := tr.Join("a", "Ann")
	require.NoError(t, err)
	b, err := tr.Join("b", "Bob")
	require.NoError(t, err)
	c, err := tr.Join("c", "Cid")
	require.NoError(t, err)
	assert.Equal(t, 0, *a.Section)
	assert.Equal(t, 1, *b.Section)
	assert.Equal(t, 2, *c.Section)

	_, err = tr.Join("d", "Dee")
	assert.ErrorIs(t, err, core.ErrNoSection)
	_, ok := tr.Get("d")
	assert.False(t, ok, "a rejected joiner leaves no record")

	released, ok := tr.Release("b")
	require.True(t, ok)
	assert.Equal(t, 1, *released.Section)
	assert.Equal(t, []int{1}, tr.FreeSections())

	d, err := tr.Join("d", "Dee")
	require.NoError(t, err)
	assert.Equal(t, 1, *d.Section, "freed section goes to the next joiner")
}

func TestJoinIsIdempotent(t *testing.T) {
	tr := New(2)
	first, err := tr.Join("a", "Ann")
	require.NoError(t, err)
	again, err := tr.Join("a", "Ann")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, []int{1}, tr.FreeSections())
}

func TestSetViewAndRelease(t *testing.T) {
	tr := New(0)
	_, _ = tr.Join("a", "Ann")
	tr.SetView("a", "edge")
	m, ok := tr.Get("a")
	require.True(t, ok)
	assert.Equal(t, "edge", m.View)

	tr.SetView("ghost", "spice")
	_, ok = tr.Get("ghost")
	assert.True(t, ok)

	_, ok = tr.Release("a")
	assert.True(t, ok)
	_, ok = tr.Release("a")
	assert.False(t, ok)
}

func TestUpsertMovesSection(t *testing.T) {
	tr := New(2)
	tr.Upsert(domain.Member{Peer: "h", Name: "Host", Section: domain.SectionRef(0)})
	tr.Upsert(domain.Member{Peer: "g", Name: "Guest", Section: domain.SectionRef(1)})
	assert.Empty(t, tr.FreeSections())

	tr.Upsert(domain.Member{Peer: "g", Name: "Guest"})
	assert.Equal(t, []int{1}, tr.FreeSections())

	roster := tr.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, domain.PeerID("h"), roster[0].Peer)
	assert.Equal(t, domain.PeerID("g"), roster[1].Peer)
}

func TestReset(t *testing.T) {
	tr := New(2)
	_, _ = tr.Join("a", "Ann")
	tr.Reset()
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, []int{0, 1}, tr.FreeSections())
}
