package hklog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// LogEmitter is the interface for emitting internal logs as process events.
// Implemented by process.EventLog; kept as an interface here (rather than
// an import) to avoid hklog depending on the process package.
type LogEmitter interface {
	EmitLog(pid uint64, level, component, message string, fields map[string]string)
}

var (
	emitter   LogEmitter
	emitterMu sync.RWMutex
)

// SetEventLogEmitter registers a LogEmitter so that slog output at INFO+ is
// also emitted as a process.ProcessEvent of type "log" (once
// AddEventLogHandler has installed the handler).
func SetEventLogEmitter(e LogEmitter) {
	emitterMu.Lock()
	defer emitterMu.Unlock()
	emitter = e
}

// getEmitter returns the current emitter (or nil).
func getEmitter() LogEmitter {
	emitterMu.RLock()
	defer emitterMu.RUnlock()
	return emitter
}

// eventLogHandler is an slog.Handler that forwards INFO+ records to the
// EventLog via the registered LogEmitter.
type eventLogHandler struct {
	component string
	minLevel  slog.Level
}

// NewEventLogHandler creates a handler that emits to the EventLog.
// Only records at minLevel or above are emitted.
func NewEventLogHandler(minLevel slog.Level) slog.Handler {
	return &eventLogHandler{minLevel: minLevel}
}

func (h *eventLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *eventLogHandler) Handle(_ context.Context, r slog.Record) error {
	em := getEmitter()
	if em == nil {
		return nil
	}

	level := "debug"
	switch {
	case r.Level >= slog.LevelError:
		level = "error"
	case r.Level >= slog.LevelWarn:
		level = "warn"
	case r.Level >= slog.LevelInfo:
		level = "info"
	}

	// Extract component and other fields from attributes.
	component := h.component
	fields := make(map[string]string)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			fields[a.Key] = fmt.Sprint(a.Value.Any())
		}
		return true
	})

	em.EmitLog(0, level, component, r.Message, fields)
	return nil
}

func (h *eventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Extract component from attrs if present.
	comp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			comp = a.Value.String()
		}
	}
	return &eventLogHandler{component: comp, minLevel: h.minLevel}
}

func (h *eventLogHandler) WithGroup(name string) slog.Handler {
	comp := h.component
	if comp == "" {
		comp = name
	} else {
		comp = comp + "." + name
	}
	return &eventLogHandler{component: comp, minLevel: h.minLevel}
}

var _ slog.Handler = (*eventLogHandler)(nil)

// AddEventLogHandler extends Init by appending the event log handler to the
// global slog default. Call this after Init() and after the emitter is set.
func AddEventLogHandler() {
	mu.Lock()
	defer mu.Unlock()

	current := slog.Default().Handler()

	evtHandler := &eventLogHandler{minLevel: slog.LevelInfo}

	// If already a multiHandler, append to it.
	if mh, ok := current.(*multiHandler); ok {
		mh.handlers = append(mh.handlers, evtHandler)
		return
	}

	// Wrap current + event handler in a multiHandler.
	slog.SetDefault(slog.New(&multiHandler{
		handlers: []slog.Handler{current, evtHandler},
	}))
}
