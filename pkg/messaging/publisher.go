package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Ariadne/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Prefix is prepended to every subject. Defaults to DefaultPrefix.
	Prefix string

	// MaxRetries is the number of publish attempts per event. Defaults to 3.
	MaxRetries int

	// RetryDelay is multiplied by the attempt number between attempts.
	// Defaults to one second.
	RetryDelay time.Duration

	// Breaker, when set, fails publishes fast after repeated errors.
	Breaker *concurrency.CircuitBreaker

	Logger *zap.Logger
}

// Validate fills in defaults and rejects impossible settings.
func (c *PublisherConfig) Validate() error {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be positive, got %d", c.MaxRetries)
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Publisher writes engine events to JetStream. It satisfies engine.EventSink.
type Publisher struct {
	js     JSContext
	config PublisherConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// NewPublisher creates a publisher on js.
func NewPublisher(js JSContext, config PublisherConfig) (*Publisher, error) {
	if js == nil {
		return nil, sdkerrors.ErrNotConnected
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid publisher config: %w", err)
	}
	return &Publisher{
		js:     js,
		config: config,
		logger: config.Logger,
		tracer: otel.Tracer("ariadne/messaging"),
	}, nil
}

// Subjects returns the wildcard covering every subject this publisher uses.
func (p *Publisher) Subjects() []string {
	return []string{p.config.Prefix + ".>"}
}

// Publish sends one event, retrying with a linear backoff until the attempts
// run out or ctx ends.
func (p *Publisher) Publish(ctx context.Context, event process.Event) error {
	subject := Subject(p.config.Prefix, event)
	ctx, span := p.tracer.Start(ctx, "messaging.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", subject),
			attribute.String("event.kind", string(event.Kind)),
			attribute.String("event.name", event.Name),
		))
	defer span.End()

	err := p.publish(ctx, subject, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (p *Publisher) publish(ctx context.Context, subject string, event process.Event) error {
	if err := p.config.Breaker.Allow(); err != nil {
		return sdkerrors.NewError(sdkerrors.CodePublish, "publisher circuit is open",
			fmt.Errorf("%w: %w", sdkerrors.ErrPublishFailed, err))
	}

	data, err := Encode(event)
	if err != nil {
		return sdkerrors.NewError(sdkerrors.CodePublish, "failed to encode event", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	var lastErr error
retry:
	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		_, lastErr = p.js.PublishMsg(msg, nats.Context(ctx))
		if lastErr == nil {
			p.config.Breaker.Record(nil)
			p.logger.Debug("Published event",
				zap.String("subject", subject),
				zap.String("event", event.Key().String()),
				zap.Int("attempt", attempt))
			return nil
		}

		p.logger.Warn("Publish attempt failed",
			zap.String("subject", subject),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", p.config.MaxRetries),
			zap.Error(lastErr))

		if ctx.Err() != nil || errors.Is(lastErr, nats.ErrConnectionClosed) {
			break retry
		}
		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(time.Duration(attempt) * p.config.RetryDelay):
				p.logger.Info("Retrying publish",
					zap.String("subject", subject),
					zap.Int("next_attempt", attempt+1))
			}
		}
	}

	p.config.Breaker.Record(lastErr)
	return sdkerrors.NewError(sdkerrors.CodePublish,
		fmt.Sprintf("failed to publish %s", subject),
		fmt.Errorf("%w: %w", sdkerrors.ErrPublishFailed, lastErr))
}
