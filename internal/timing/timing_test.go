package timing

import (
	"reflect"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTracker(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := newTrackerWithClock(clock.now)

	stop := tr.Start("metadata")
	clock.advance(120 * time.Millisecond)
	if got := stop(); got != 120 {
		t.Fatalf("expected 120ms, got %d", got)
	}

	stop = tr.Start("edges")
	clock.advance(2 * time.Second)
	stop()

	want := []StageTime{{Stage: "metadata", DurationMs: 120}, {Stage: "edges", DurationMs: 2000}}
	if got := tr.Stages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := tr.TotalMs(); got != 2120 {
		t.Fatalf("expected total 2120ms, got %d", got)
	}

	kv := tr.Keyvals()
	wantKV := []any{"metadata_ms", int64(120), "edges_ms", int64(2000), "total_ms", int64(2120)}
	if !reflect.DeepEqual(kv, wantKV) {
		t.Fatalf("expected %v, got %v", wantKV, kv)
	}
}
