package relog

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Logger receives diagnostics from the delivery pipeline itself: sink
// outages, spool corruption, reconnects. It is satisfied by *slog.Logger.
//
// Each component takes its Logger through its options. A nil Logger is
// replaced with DefaultLogger() when the options are resolved, after which
// the component never consults the package default again.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var defaultLogger atomic.Value

func init() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	defaultLogger.Store(loggerHolder{slog.New(h).With("lib", "relog")})
}

// atomic.Value requires a consistent concrete type
type loggerHolder struct{ Logger }

// DefaultLogger returns the Logger injected into components that were not
// given one explicitly.
func DefaultLogger() Logger { return defaultLogger.Load().(loggerHolder).Logger }

// SetDefaultLogger makes l the Logger injected into components constructed
// afterwards. Components that already exist keep the Logger they were given.
func SetDefaultLogger(l Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(loggerHolder{l})
}

// NewZapLogger adapts a zap.Logger so it can be used as a diagnostic Logger.
func NewZapLogger(z *zap.Logger) Logger {
	return zapLogger{z.Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z zapLogger) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }
func (z zapLogger) Info(msg string, args ...any)  { z.s.Infow(msg, args...) }
func (z zapLogger) Warn(msg string, args ...any)  { z.s.Warnw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }

// errorLimiter lets through the first error for a key and then at most one
// per window, so a long sink outage produces a handful of log lines instead
// of one per event.
type errorLimiter struct {
	log    Logger
	window time.Duration

	mu    sync.Mutex
	sites map[string]*rate.Sometimes
}

func newErrorLimiter(log Logger, window time.Duration) *errorLimiter {
	return &errorLimiter{
		log:    log,
		window: window,
		sites:  make(map[string]*rate.Sometimes),
	}
}

// Error logs msg unless the key has already been logged within the window.
func (l *errorLimiter) Error(key, msg string, args ...any) {
	l.mu.Lock()
	s, ok := l.sites[key]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: l.window}
		l.sites[key] = s
	}
	l.mu.Unlock()

	s.Do(func() { l.log.Error(msg, args...) })
}
