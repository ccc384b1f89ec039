// Package incident provides sinks for node failures recorded by the engine.
package incident

import (
	"context"
	"fmt"
	"sync"

	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.uber.org/zap"
)

// Handler receives incidents. Implementations must not block for long; the
// engine calls them inline and swallows any panic they raise.
type Handler interface {
	Handle(ctx context.Context, inc process.Incident)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inc process.Incident)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, inc process.Incident) {
	f(ctx, inc)
}

// LogHandler logs incidents. It is the engine default.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a handler writing to logger.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &LogHandler{logger: logger}
}

// Handle logs the incident at error level.
func (h *LogHandler) Handle(_ context.Context, inc process.Incident) {
	h.logger.Error("Process incident",
		zap.String("process", inc.Node.Process.String()),
		zap.String("instance_id", inc.Node.InstanceID),
		zap.String("node_id", inc.NodeID),
		zap.String("error_ref", inc.ErrorRef),
		zap.String("error_msg", inc.ErrorMsg))
}

// Recorder keeps incidents in memory so callers and tests can inspect them.
type Recorder struct {
	mu        sync.Mutex
	incidents []process.Incident
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Handle records the incident.
func (r *Recorder) Handle(_ context.Context, inc process.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, inc)
}

// Incidents returns every recorded incident in arrival order.
func (r *Recorder) Incidents() []process.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]process.Incident(nil), r.incidents...)
}

// Count returns the number of recorded incidents.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.incidents)
}

// ForInstance returns the incidents recorded for one instance.
func (r *Recorder) ForInstance(instanceID string) []process.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []process.Incident
	for _, inc := range r.incidents {
		if inc.Node.InstanceID == instanceID {
			out = append(out, inc)
		}
	}
	return out
}

// Multi fans an incident out to several handlers. A panicking handler does
// not prevent the others from running.
type Multi struct {
	handlers []Handler
	logger   *zap.Logger
}

// NewMulti creates a fan-out handler. Nil handlers are skipped.
func NewMulti(logger *zap.Logger, handlers ...Handler) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger}
	for _, h := range handlers {
		if h != nil {
			m.handlers = append(m.handlers, h)
		}
	}
	return m
}

// Handle delivers inc to every handler.
func (m *Multi) Handle(ctx context.Context, inc process.Incident) {
	for _, h := range m.handlers {
		if err := Deliver(ctx, h, inc); err != nil {
			m.logger.Error("Incident handler failed",
				zap.String("instance_id", inc.Node.InstanceID),
				zap.String("node_id", inc.NodeID),
				zap.Error(err))
		}
	}
}

// Deliver calls h and converts a panic into an error.
func Deliver(ctx context.Context, h Handler, inc process.Incident) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	h.Handle(ctx, inc)
	return nil
}
