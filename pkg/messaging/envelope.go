package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wehubfusion/Ariadne/pkg/process"
)

// ErrInvalidEvent marks a message body that cannot become an event. Such
// messages are terminated instead of redelivered.
var ErrInvalidEvent = errors.New("invalid event")

// DefaultPrefix is the subject prefix events are published under.
const DefaultPrefix = "ariadne.events"

// Subject returns <prefix>.<kind>.<name>. Characters NATS reserves inside a
// token are replaced so that one event name is always one subject token.
func Subject(prefix string, event process.Event) string {
	return prefix + "." + token(string(event.Kind)) + "." + token(event.Name)
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Encode renders the wire body of an event.
func Encode(event process.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", event.Key(), err)
	}
	return data, nil
}

// Decode parses and validates a wire body.
func Decode(data []byte) (process.Event, error) {
	var event process.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return process.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	switch event.Kind {
	case process.EventMessage, process.EventSignal, process.EventError,
		process.EventTimer, process.EventTask, process.EventCompletion:
	default:
		return process.Event{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, event.Kind)
	}
	if event.Name == "" {
		return process.Event{}, fmt.Errorf("%w: name is empty", ErrInvalidEvent)
	}
	return event, nil
}
