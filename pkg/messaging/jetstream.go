// Package messaging connects the engine to NATS JetStream. Publisher sends
// every event the engine raises to a stream and Bridge feeds events from a
// stream back into the engine.
package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// JSContext is the subset of JetStream the package depends on. Tests supply
// a fake; production code wraps nats.JetStreamContext with WrapJetStream.
type JSContext interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error)
	StreamInfo(stream string) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error)
}

// JSSubscription is the pull subscription surface used by Bridge.
type JSSubscription interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Drain() error
	IsValid() bool
}

// WrapJetStream adapts a nats.JetStreamContext to JSContext.
func WrapJetStream(js nats.JetStreamContext) JSContext {
	return &jsAdapter{js: js}
}

type jsAdapter struct {
	js nats.JetStreamContext
}

func (a *jsAdapter) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.PublishMsg(m, opts...)
}

func (a *jsAdapter) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	sub, err := a.js.PullSubscribe(subj, durable, opts...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *jsAdapter) StreamInfo(stream string) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream)
}

func (a *jsAdapter) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg)
}

// StreamConfig describes the stream events are stored in.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
}

// EnsureStream creates the stream when it does not exist yet. An existing
// stream is left untouched.
func EnsureStream(js JSContext, cfg StreamConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		return errors.New("stream name cannot be empty")
	}
	if len(cfg.Subjects) == 0 {
		return fmt.Errorf("stream %s has no subjects", cfg.Name)
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}

	_, err := js.StreamInfo(cfg.Name)
	if err == nil {
		logger.Debug("Stream exists", zap.String("stream", cfg.Name))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	logger.Info("Creating stream",
		zap.String("stream", cfg.Name),
		zap.Strings("subjects", cfg.Subjects))

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	return nil
}
