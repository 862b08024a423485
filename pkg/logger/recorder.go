package logger

import (
	"fmt"
	"sync"
)

// Entry is a single recorded log call.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// Recorder is an in-memory LoggerInstance. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(level, message string, keyvals []any) {
	fields := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fields[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Message: message, Fields: fields})
	r.mu.Unlock()
}

func (r *Recorder) Log(message string, keyvals ...any)   { r.record("log", message, keyvals) }
func (r *Recorder) Debug(message string, keyvals ...any) { r.record("debug", message, keyvals) }
func (r *Recorder) Info(message string, keyvals ...any)  { r.record("info", message, keyvals) }
func (r *Recorder) Warn(message string, keyvals ...any)  { r.record("warn", message, keyvals) }
func (r *Recorder) Error(message string, keyvals ...any) { r.record("error", message, keyvals) }

// Fatal records the entry. Unlike the console backend it does not exit.
func (r *Recorder) Fatal(message string, keyvals ...any) { r.record("fatal", message, keyvals) }

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many entries have the given message.
func (r *Recorder) Count(message string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Message == message {
			n++
		}
	}
	return n
}

// CountEvent returns how many entries carry event=name.
func (r *Recorder) CountEvent(name string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Fields["event"] == name {
			n++
		}
	}
	return n
}
