package relog

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Level represents the severity of an Event.
type Level int8

const (
	// DebugLevel is for detailed debugging information.
	DebugLevel Level = iota
	// InfoLevel is for general informational messages.
	InfoLevel
	// WarnLevel is for warnings.
	WarnLevel
	// ErrorLevel is for errors. By default, events at or above ErrorLevel
	// bypass the async queue and are flushed to disk immediately if spooled.
	ErrorLevel
	// FatalLevel is for unrecoverable errors.
	FatalLevel
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// SlogLevel maps the Level onto the closest slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= DebugLevel:
		return slog.LevelDebug
	case l == InfoLevel:
		return slog.LevelInfo
	case l == WarnLevel:
		return slog.LevelWarn
	case l == ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

// LevelFromSlog maps a slog.Level onto a Level. Anything above
// slog.LevelError is treated as FatalLevel.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return DebugLevel
	case l < slog.LevelWarn:
		return InfoLevel
	case l < slog.LevelError:
		return WarnLevel
	case l == slog.LevelError:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

// Event is a single log event travelling through the delivery pipeline.
//
// Delivery is at-least-once, so the same Event can reach a Sink more than
// once after an outage. The ID is stable across retries and can be used
// downstream for de-duplication.
type Event struct {
	ID      string         `msgpack:"id" json:"id"`
	Time    time.Time      `msgpack:"time" json:"time"`
	Level   Level          `msgpack:"level" json:"level"`
	Message string         `msgpack:"msg" json:"msg"`
	Fields  map[string]any `msgpack:"fields,omitempty" json:"fields,omitempty"`
}

// NewEvent returns an Event stamped with the current time and a new ID.
func NewEvent(level Level, msg string, fields map[string]any) *Event {
	return &Event{
		ID:      NewEventID(),
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  fields,
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a time-sortable ULID encoded as a 26-character string.
func NewEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// stamp fills in the ID and Time of an Event when they are missing.
func (e *Event) stamp() {
	if e.ID == "" {
		e.ID = NewEventID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
}
