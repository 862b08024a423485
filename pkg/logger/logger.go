package logger

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Logger dispatches log calls to all of its backends. Key/value pairs bound
// with With are prepended to every call.
//
// A nil *Logger is valid and discards everything.
type Logger struct {
	instances []LoggerInstance
	fields    []any
}

// New creates a logger writing to the given backends.
func New(instances ...LoggerInstance) *Logger {
	return &Logger{instances: instances}
}

// Nop returns a logger without backends.
func Nop() *Logger {
	return &Logger{}
}

// With returns a child logger that adds keyvals to every entry. The parent
// is not modified.
func (l *Logger) With(keyvals ...any) *Logger {
	if l == nil {
		return nil
	}
	fields := make([]any, 0, len(l.fields)+len(keyvals))
	fields = append(fields, l.fields...)
	fields = append(fields, keyvals...)
	return &Logger{instances: l.instances, fields: fields}
}

func (l *Logger) merge(keyvals []any) []any {
	if len(l.fields) == 0 {
		return keyvals
	}
	out := make([]any, 0, len(l.fields)+len(keyvals))
	out = append(out, l.fields...)
	return append(out, keyvals...)
}

// Log writes a message at the default log level to all configured backends.
func (l *Logger) Log(message string, keyvals ...any) {
	if l == nil {
		return
	}
	kv := l.merge(keyvals)
	for _, instance := range l.instances {
		instance.Log(message, kv...)
	}
}

// Info writes a message at INFO level to all configured backends.
func (l *Logger) Info(message string, keyvals ...any) {
	if l == nil {
		return
	}
	kv := l.merge(keyvals)
	for _, instance := range l.instances {
		instance.Info(message, kv...)
	}
}

// Warn writes a message at WARN level to all configured backends.
func (l *Logger) Warn(message string, keyvals ...any) {
	if l == nil {
		return
	}
	kv := l.merge(keyvals)
	for _, instance := range l.instances {
		instance.Warn(message, kv...)
	}
}

// Error writes a message at ERROR level to all configured backends.
func (l *Logger) Error(message string, keyvals ...any) {
	if l == nil {
		return
	}
	kv := l.merge(keyvals)
	for _, instance := range l.instances {
		instance.Error(message, kv...)
	}
}

// Debug writes a message at DEBUG level to all configured backends.
func (l *Logger) Debug(message string, keyvals ...any) {
	if l == nil {
		return
	}
	kv := l.merge(keyvals)
	for _, instance := range l.instances {
		instance.Debug(message, kv...)
	}
}

// Fatal writes a message at FATAL level and terminates the program.
func (l *Logger) Fatal(message string, keyvals ...any) {
	if l == nil {
		return
	}
	kv := l.merge(keyvals)
	for _, instance := range l.instances {
		instance.Fatal(message, kv...)
	}
}
