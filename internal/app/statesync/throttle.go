package statesync

import "time"

// Throttle emits at most once per interval measured from the previous emission.
// A trigger inside the interval schedules one emission for the remaining delay; the
// emitter reads current state when it fires, so the latest value always goes out.
type Throttle struct {
	interval time.Duration
	now      func() time.Time
	schedule Scheduler
	emit     func()

	last   time.Time
	cancel func()
}

func NewThrottle(interval time.Duration, now func() time.Time, schedule Scheduler, emit func()) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if now == nil {
		now = time.Now
	}
	if schedule == nil {
		schedule = TimerScheduler
	}
	return &Throttle{interval: interval, now: now, schedule: schedule, emit: emit}
}

func (t *Throttle) Trigger() {
	if t.cancel != nil {
		return
	}
	elapsed := t.now().Sub(t.last)
	if t.last.IsZero() || elapsed >= t.interval {
		t.fire()
		return
	}
	t.cancel = t.schedule(t.interval-elapsed, t.fire)
}

func (t *Throttle) fire() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.last = t.now()
	t.emit()
}

func (t *Throttle) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
