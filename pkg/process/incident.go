package process

import "time"

// Reserved incident error references raised by the engine itself.
const (
	ErrorRefInternal             = "internal-error"
	ErrorRefCascadeDepthExceeded = "cascade-depth-exceeded"
	ErrorRefProcessNotFound      = "process-not-found"
	ErrorRefStorage              = "storage-error"
	ErrorRefStepLimitExceeded    = "step-limit-exceeded"
	ErrorRefNoOutgoingFlow       = "no-outgoing-flow"
	ErrorRefScript               = "script-error"
	ErrorRefService              = "service-error"
	ErrorRefRule                 = "rule-error"
	ErrorRefCancelled            = "cancelled"
)

// Incident is a recorded node failure that parks its instance until retried.
type Incident struct {
	Node       NodeRef   `json:"node"`
	NodeID     string    `json:"node_id"`
	ErrorRef   string    `json:"error_ref"`
	ErrorMsg   string    `json:"error_msg,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
