package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/wehubfusion/Ariadne/pkg/process"
)

// SentryHandler reports incidents to Sentry as error-level messages tagged
// with the process, node and error reference.
type SentryHandler struct {
	hub *sentry.Hub
}

// NewSentryHandler reports through hub, or through the current hub when nil.
func NewSentryHandler(hub *sentry.Hub) *SentryHandler {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryHandler{hub: hub}
}

// NewSentryHandlerFromOptions creates a dedicated client and hub.
func NewSentryHandlerFromOptions(opts sentry.ClientOptions) (*SentryHandler, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &SentryHandler{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Handle captures the incident.
func (h *SentryHandler) Handle(_ context.Context, inc process.Incident) {
	h.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("process", inc.Node.Process.String())
		scope.SetTag("node_id", inc.NodeID)
		scope.SetTag("error_ref", inc.ErrorRef)
		scope.SetContext("incident", sentry.Context{
			"instance_id": inc.Node.InstanceID,
			"node":        inc.Node.String(),
			"error_msg":   inc.ErrorMsg,
			"occurred_at": inc.OccurredAt.Format(time.RFC3339Nano),
		})
		h.hub.CaptureMessage(fmt.Sprintf("incident %s at %s: %s", inc.ErrorRef, inc.Node.String(), inc.ErrorMsg))
	})
}

// Flush waits for buffered events to be sent.
func (h *SentryHandler) Flush(timeout time.Duration) bool {
	return h.hub.Flush(timeout)
}
