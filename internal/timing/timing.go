package timing

import (
	"sync"
	"time"
)

// StageTime is the measured duration of one pipeline stage.
type StageTime struct {
	Stage      string
	DurationMs int64
}

// Tracker collects stage durations for one run.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	start  time.Time
	stages []StageTime
}

func NewTracker() *Tracker {
	return newTrackerWithClock(time.Now)
}

func newTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now, start: now()}
}

// Start begins timing stage. The returned func stops the clock, records the
// stage and returns its duration in milliseconds.
func (t *Tracker) Start(stage string) func() int64 {
	begin := t.now()
	return func() int64 {
		ms := t.now().Sub(begin).Milliseconds()
		t.mu.Lock()
		t.stages = append(t.stages, StageTime{Stage: stage, DurationMs: ms})
		t.mu.Unlock()
		return ms
	}
}

func (t *Tracker) Stages() []StageTime {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]StageTime(nil), t.stages...)
}

// TotalMs returns the time since the tracker was created.
func (t *Tracker) TotalMs() int64 {
	return t.now().Sub(t.start).Milliseconds()
}

// Keyvals flattens the recorded stages into logger key/value pairs,
// e.g. "metadata_ms", 12.
func (t *Tracker) Keyvals() []any {
	stages := t.Stages()
	out := make([]any, 0, 2*len(stages)+2)
	for _, s := range stages {
		out = append(out, s.Stage+"_ms", s.DurationMs)
	}
	return append(out, "total_ms", t.TotalMs())
}
