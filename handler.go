package relog

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"go.opentelemetry.io/otel/trace"
)

type ccKey struct{}

// ContextKey is used to extract a log value from context.Context. The value
// must be be `slog.Attr`.
//
//		Example:
//	 	ctx := context.WithValue(ctx, relog.ContextKey,
//	 		slog.Group("req",
//	 			slog.String("method", r.Method),
//	 			slog.String("url", r.URL.String()),
//	 		)
//	 	)
//
// These attrs are added to the top scope of the event fields.
var ContextKey *ccKey = &ccKey{}

// Field keys added by the Handler.
const (
	FieldKeySource  = slog.SourceKey
	FieldKeyTraceID = "trace_id"
	FieldKeySpanID  = "span_id"
)

// scope provides the attrs for one level of nesting. WithGroup() is used to
// create new, nested scopes.
type scope struct {
	key   string
	attrs []slog.Attr
}

// Handler is a slog.Handler that turns each slog.Record into an Event and
// writes it to a Sink, usually a Reliable wrapper.
//
//	// Example of basic usage
//	r, err := relog.NewReliable(sink, relog.DefaultReliableOptions(dir))
//	if err != nil {
//	   log.Fatalln(err)
//	}
//
//	logger := slog.New(relog.NewHandler(r, nil))
//	slog.SetDefault(logger)
//
//	slog.Info("unrecognized user", "user_id", user_id)
type Handler struct {
	*HandlerOptions
	sink   Sink
	scopes []scope
}

// compile-time check for slog.Handler conformance
var _ slog.Handler = (*Handler)(nil)

// NewHandler creates a Handler writing to sink.
func NewHandler(sink Sink, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		opts.resolve()
	}

	return &Handler{
		HandlerOptions: opts,
		sink:           sink,
		scopes:         make([]scope, 1), // 1 for the root scope
	}
}

// Shutdown closes the sink, letting it flush within the deadline when it
// supports one. You MUST NOT log through the Handler after calling Shutdown.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.debug("shutting down the logging stack")
	if s, ok := h.sink.(interface {
		Shutdown(context.Context) error
	}); ok {
		return s.Shutdown(ctx)
	}
	return h.sink.Close()
}

// deepCopy creates a copy of the Handler that can be modified without
// impacting the parent handler it derives from.
func (h *Handler) deepCopy() *Handler {
	h2 := *h
	h2.scopes = make([]scope, len(h.scopes))
	for i, s := range h.scopes {
		h2.scopes[i] = scope{key: s.key, attrs: s.attrs[:len(s.attrs):len(s.attrs)]}
	}
	return &h2
}

func (h *Handler) debug(msg string, args ...any) {
	if !h.Verbose {
		return
	}
	h.Logger.Debug("handler: "+msg, args...)
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.Level.Level()
}

// Handle converts the Record into an Event and writes it to the sink,
// returning the sink's error.
//
// Handle follows the slog.Handler rules:
//   - If r.Time is the zero time, the Event time is left for the pipeline
//     to stamp.
//   - If r.PC is zero, no source is added.
//   - Attr's values are resolved.
//   - If an Attr's key and value are both the zero value, the Attr is
//     ignored.
//   - If a group's key is empty, the group's Attrs are inlined.
//   - If a group has no Attrs (even if it has a non-empty key), it is
//     ignored.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]any, r.NumAttrs()+4)

	// rule: ignore source if no program counter, else add to top scope
	if h.AddSource && r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		fields[FieldKeySource] = fmt.Sprintf("%s:%d", f.File, f.Line)
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields[FieldKeyTraceID] = sc.TraceID().String()
		fields[FieldKeySpanID] = sc.SpanID().String()
	}

	// slog.Attrs passed in via the ctx also go to the top scope
	if ctxAttr, ok := ctx.Value(ContextKey).(slog.Attr); ok {
		h.addAttr(fields, ctxAttr)
	}

	// walk the scopes from the deepest, so that empty groups collapse
	var inner map[string]any
	for i := len(h.scopes) - 1; i >= 0; i-- {
		s := h.scopes[i]
		m := fields
		if i > 0 {
			m = make(map[string]any, len(s.attrs)+1)
		}
		for _, a := range s.attrs {
			h.addAttr(m, a)
		}

		// record attrs land in the last scope
		if i == len(h.scopes)-1 {
			r.Attrs(func(a slog.Attr) bool {
				h.addAttr(m, a)
				return true
			})
		} else if len(inner) > 0 {
			m[h.scopes[i+1].key] = inner
		}
		inner = m
	}

	e := &Event{
		ID:      NewEventID(),
		Time:    r.Time,
		Level:   LevelFromSlog(r.Level),
		Message: r.Message,
	}
	if len(fields) > 0 {
		e.Fields = fields
	}
	return h.sink.Write(e)
}

// addAttr resolves a and adds it to m, returning the number of keys added.
func (h *Handler) addAttr(m map[string]any, a slog.Attr) int {

	// rule: must first resolve, and then ignore if empty
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return 0
	}

	k, v := a.Key, a.Value
	if v.Kind() != slog.KindGroup {
		// rule: ignore non-group attrs with empty keys
		if len(k) == 0 {
			return 0
		}
		m[k] = h.value(v)
		return 1
	}

	attrs := v.Group()

	// rule: inline attrs if key is empty
	if len(k) == 0 {
		n := 0
		for _, ga := range attrs {
			n += h.addAttr(m, ga)
		}
		return n
	}

	g := make(map[string]any, len(attrs))
	for _, ga := range attrs {
		h.addAttr(g, ga)
	}

	// rule: ignore empty groups entirely
	if len(g) == 0 {
		return 0
	}
	m[k] = g
	return 1
}

// value converts a resolved, non-group slog.Value into a field value both
// the msgpack and JSON codecs can serialize.
func (h *Handler) value(v slog.Value) any {
	switch v.Kind() {
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Format(h.TimeFormat)
	case slog.KindUint64:
		return v.Uint64()
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	}
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {

	// rule: skip if no attrs
	if len(attrs) == 0 {
		return h
	}

	h2 := h.deepCopy()
	last := &h2.scopes[len(h2.scopes)-1]
	last.attrs = append(last.attrs, attrs...)
	return h2
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups. The new scope ends at the end of the log
// event. That is,
//
//	logger.WithGroup("s").LogAttrs(level, msg, slog.Int("a", 1), slog.Int("b", 2))
//
//	behaves like
//
//	logger.LogAttrs(level, msg, slog.Group("s", slog.Int("a", 1), slog.Int("b", 2)))
//
// If the name is empty, WithGroup returns the receiver, which results in the
// nested attributes being inlined into the parent scope.
func (h *Handler) WithGroup(name string) slog.Handler {

	// rule: ignore if name is empty (true for any attr)
	if len(name) == 0 {
		return h
	}

	h2 := h.deepCopy()
	h2.scopes = append(h2.scopes, scope{key: name})
	return h2
}
