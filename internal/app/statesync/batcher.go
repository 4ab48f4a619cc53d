// Package statesync bounds the outbound rate of parameter edits.
package statesync

import (
	"time"

	"github.com/dkeye/patchroom/internal/domain"
)

// DefaultInterval caps flushes at roughly 30 per second.
const DefaultInterval = 33 * time.Millisecond

// Scheduler runs fn once after d and returns a function that cancels it.
// The session's scheduler delivers fn on its event loop.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// TimerScheduler runs fn on a timer goroutine.
func TimerScheduler(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Batcher coalesces edits by key and emits them at most once per interval.
// The window opens with the first edit after a flush and is not extended by later edits.
// Not safe for concurrent use; it belongs to one event loop.
type Batcher struct {
	interval time.Duration
	schedule Scheduler
	emit     func([]domain.ParamEdit)

	index  map[domain.EditKey]int
	edits  []domain.ParamEdit
	cancel func()
}

func NewBatcher(interval time.Duration, schedule Scheduler, emit func([]domain.ParamEdit)) *Batcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if schedule == nil {
		schedule = TimerScheduler
	}
	return &Batcher{
		interval: interval,
		schedule: schedule,
		emit:     emit,
		index:    make(map[domain.EditKey]int),
	}
}

// Upsert records e, replacing any pending edit with the same key in place.
func (b *Batcher) Upsert(e domain.ParamEdit) {
	k := e.Key()
	if i, ok := b.index[k]; ok {
		b.edits[i] = e
	} else {
		b.index[k] = len(b.edits)
		b.edits = append(b.edits, e)
	}
	if b.cancel == nil {
		b.cancel = b.schedule(b.interval, b.Flush)
	}
}

// Flush emits the pending edits, if any, and disarms the timer.
func (b *Batcher) Flush() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if len(b.edits) == 0 {
		return
	}
	batch := b.edits
	b.edits = nil
	clear(b.index)
	b.emit(batch)
}

func (b *Batcher) Pending() int { return len(b.edits) }

func (b *Batcher) Armed() bool { return b.cancel != nil }

// Stop drops pending edits and disarms the timer.
func (b *Batcher) Stop() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.edits = nil
	clear(b.index)
}
