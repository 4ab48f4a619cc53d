package statesync

import (
	"testing"
	"time"

	"github.com/dkeye/patchroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scheduled struct {
	d        time.Duration
	fn       func()
	canceled bool
}

// manualScheduler records timers; the test fires them explicitly.
type manualScheduler struct {
	timers []*scheduled
}

func (m *manualScheduler) schedule(d time.Duration, fn func()) func() {
	s := &scheduled{d: d, fn: fn}
	m.timers = append(m.timers, s)
	return func() { s.canceled = true }
}

func (m *manualScheduler) active() []*scheduled {
	var out []*scheduled
	for _, s := range m.timers {
		if !s.canceled {
			out = append(out, s)
		}
	}
	return out
}

func (m *manualScheduler) fireAll() {
	for _, s := range m.active() {
		s.canceled = true
		s.fn()
	}
}

func edit(inst, path string, v any) domain.ParamEdit {
	return domain.ParamEdit{Instrument: inst, Path: path, Value: v}
}

func TestBatcherCoalescesSameKey(t *testing.T) {
	sched := &manualScheduler{}
	var batches [][]domain.ParamEdit
	b := NewBatcher(DefaultInterval, sched.schedule, func(e []domain.ParamEdit) { batches = append(batches, e) })

	b.Upsert(edit("crave", "vco.frequency", 220))
	b.Upsert(edit("crave", "vco.frequency", 330))
	b.Upsert(edit("crave", "vco.frequency", 440))

	assert.Equal(t, 1, b.Pending())
	require.Len(t, sched.active(), 1, "timer is armed once per window")
	assert.Equal(t, DefaultInterval, sched.active()[0].d)

	sched.fireAll()
	require.Len(t, batches, 1)
	assert.Equal(t, []domain.ParamEdit{edit("crave", "vco.frequency", 440)}, batches[0])
	assert.Equal(t, 0, b.Pending())
	assert.False(t, b.Armed())
}

func TestBatcherKeepsDottedNamesApart(t *testing.T) {
	sched := &manualScheduler{}
	var got []domain.ParamEdit
	b := NewBatcher(DefaultInterval, sched.schedule, func(e []domain.ParamEdit) { got = e })

	b.Upsert(edit("a.b", "c", 1))
	b.Upsert(edit("a", "b.c", 2))
	assert.Equal(t, 2, b.Pending())
	sched.fireAll()

	assert.Equal(t, []domain.ParamEdit{edit("a.b", "c", 1), edit("a", "b.c", 2)}, got)
}

func TestBatcherKeepsFirstSeenOrder(t *testing.T) {
	sched := &manualScheduler{}
	var got []domain.ParamEdit
	b := NewBatcher(DefaultInterval, sched.schedule, func(e []domain.ParamEdit) { got = e })

	b.Upsert(edit("crave", "vcf.cutoff", 1000))
	b.Upsert(edit("edge", "vcf.cutoff", 500))
	b.Upsert(edit("crave", "vcf.cutoff", 1200))
	sched.fireAll()

	assert.Equal(t, []domain.ParamEdit{
		edit("crave", "vcf.cutoff", 1200),
		edit("edge", "vcf.cutoff", 500),
	}, got)
}

func TestBatcherWindowNotExtendedByEdits(t *testing.T) {
	sched := &manualScheduler{}
	flushes := 0
	b := NewBatcher(DefaultInterval, sched.schedule, func([]domain.ParamEdit) { flushes++ })

	// A steady stream still produces one flush per window.
	for window := 0; window < 3; window++ {
		for i := 0; i < 50; i++ {
			b.Upsert(edit("crave", "vco.frequency", i))
		}
		require.Len(t, sched.active(), 1)
		sched.fireAll()
	}
	assert.Equal(t, 3, flushes)
}

func TestBatcherEmptyFlushEmitsNothing(t *testing.T) {
	called := false
	b := NewBatcher(DefaultInterval, (&manualScheduler{}).schedule, func([]domain.ParamEdit) { called = true })
	b.Flush()
	assert.False(t, called)
}

func TestBatcherStopDropsPending(t *testing.T) {
	sched := &manualScheduler{}
	called := false
	b := NewBatcher(DefaultInterval, sched.schedule, func([]domain.ParamEdit) { called = true })
	b.Upsert(edit("crave", "glide", 0.2))
	b.Stop()
	assert.Empty(t, sched.active())
	assert.Equal(t, 0, b.Pending())
	b.Flush()
	assert.False(t, called)
}

func TestBatcherWithTimer(t *testing.T) {
	done := make(chan []domain.ParamEdit, 1)
	b := NewBatcher(5*time.Millisecond, nil, func(e []domain.ParamEdit) { done <- e })
	b.Upsert(edit("crave", "vca.level", 0.5))

	select {
	case got := <-done:
		assert.Len(t, got, 1)
	case <-time.After(time.Second):
		t.Fatal("batch was not flushed")
	}
}

func TestThrottleFirstTriggerFiresImmediately(t *testing.T) {
	now := time.Unix(1000, 0)
	sched := &manualScheduler{}
	emits := 0
	th := NewThrottle(DefaultInterval, func() time.Time { return now }, sched.schedule, func() { emits++ })

	th.Trigger()
	assert.Equal(t, 1, emits)
	assert.Empty(t, sched.active())
}

func TestThrottleReschedulesRemainingDelay(t *testing.T) {
	now := time.Unix(1000, 0)
	sched := &manualScheduler{}
	emits := 0
	th := NewThrottle(DefaultInterval, func() time.Time { return now }, sched.schedule, func() { emits++ })

	th.Trigger()
	now = now.Add(10 * time.Millisecond)
	th.Trigger()
	th.Trigger()

	require.Len(t, sched.active(), 1)
	assert.Equal(t, DefaultInterval-10*time.Millisecond, sched.active()[0].d)
	assert.Equal(t, 1, emits)

	now = now.Add(23 * time.Millisecond)
	sched.fireAll()
	assert.Equal(t, 2, emits)

	now = now.Add(DefaultInterval)
	th.Trigger()
	assert.Equal(t, 3, emits)
}

func TestThrottleStop(t *testing.T) {
	now := time.Unix(1000, 0)
	sched := &manualScheduler{}
	th := NewThrottle(DefaultInterval, func() time.Time { return now }, sched.schedule, func() {})
	th.Trigger()
	th.Trigger()
	th.Stop()
	assert.Empty(t, sched.active())
}
