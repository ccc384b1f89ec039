package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Ariadne/pkg/concurrency"
	"github.com/wehubfusion/Ariadne/pkg/engine"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Emitter receives decoded events. *engine.Engine implements it.
type Emitter interface {
	Emit(ctx context.Context, event process.Event) ([]*engine.Result, error)
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Stream  string
	Subject string
	Durable string

	// BatchSize is the number of messages fetched per pull. Defaults to 10.
	BatchSize int

	// Workers is the number of goroutines delivering events. Defaults to 4.
	Workers int

	// FetchWait bounds one pull request. Defaults to two seconds.
	FetchWait time.Duration

	// ProcessTimeout bounds the delivery of one event. Zero disables it.
	ProcessTimeout time.Duration

	// Limiter caps concurrent deliveries across every bridge sharing it.
	// Defaults to one slot per worker.
	Limiter *concurrency.Limiter

	// Middleware wraps the delivery handler, outermost first.
	Middleware []Middleware

	Logger *zap.Logger
}

// Validate fills in defaults and rejects missing settings.
func (c *BridgeConfig) Validate() error {
	if c.Stream == "" {
		return errors.New("stream cannot be empty")
	}
	if c.Subject == "" {
		return errors.New("subject cannot be empty")
	}
	if c.Durable == "" {
		return errors.New("durable cannot be empty")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 2 * time.Second
	}
	if c.Limiter == nil {
		c.Limiter = concurrency.NewLimiter(c.Workers, nil)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Bridge pulls events from a JetStream consumer and emits them into the
// engine. Messages are acknowledged after a successful Emit, negatively
// acknowledged on failure and terminated when the body is not an event.
type Bridge struct {
	js      JSContext
	emitter Emitter
	config  BridgeConfig
	logger  *zap.Logger
	handler Handler
}

// NewBridge creates a bridge. Call Run to start consuming.
func NewBridge(js JSContext, emitter Emitter, config BridgeConfig) (*Bridge, error) {
	if js == nil {
		return nil, errors.New("jetstream context cannot be nil")
	}
	if emitter == nil {
		return nil, errors.New("emitter cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge config: %w", err)
	}
	b := &Bridge{
		js:      js,
		emitter: emitter,
		config:  config,
		logger:  config.Logger,
	}
	b.handler = Chain(config.Middleware...)(b.deliver)
	return b, nil
}

// Run consumes until ctx is cancelled and returns the context error.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.js.PullSubscribe(b.config.Subject, b.config.Durable, nats.BindStream(b.config.Stream))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.config.Subject, err)
	}
	defer func() {
		if sub.IsValid() {
			if err := sub.Drain(); err != nil {
				b.logger.Warn("Failed to drain subscription", zap.Error(err))
			}
		}
	}()

	b.logger.Info("Bridge started",
		zap.String("stream", b.config.Stream),
		zap.String("subject", b.config.Subject),
		zap.String("durable", b.config.Durable),
		zap.Int("workers", b.config.Workers))

	msgs := make(chan *nats.Msg, b.config.BatchSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(msgs)
		b.pull(gctx, sub, msgs)
		return nil
	})
	for i := 0; i < b.config.Workers; i++ {
		g.Go(func() error {
			for msg := range msgs {
				b.process(gctx, msg)
			}
			return nil
		})
	}

	err = g.Wait()
	b.logger.Info("Bridge stopped", zap.Error(ctx.Err()))
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (b *Bridge) pull(ctx context.Context, sub JSSubscription, out chan<- *nats.Msg) {
	const maxBackoff = 5 * time.Second
	backoff := 100 * time.Millisecond

	for ctx.Err() == nil {
		msgs, err := sub.Fetch(b.config.BatchSize, nats.MaxWait(b.config.FetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			b.logger.Error("Error pulling messages", zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 100 * time.Millisecond

		for _, msg := range msgs {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Bridge) process(ctx context.Context, msg *nats.Msg) {
	if b.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.ProcessTimeout)
		defer cancel()
	}

	err := b.handler(ctx, msg)
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack()
	case errors.Is(err, ErrInvalidEvent):
		b.logger.Warn("Terminating undecodable message",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		ackErr = msg.Term()
	default:
		ackErr = msg.Nak()
	}
	if ackErr != nil && !errors.Is(ackErr, nats.ErrMsgNotBound) {
		b.logger.Warn("Failed to acknowledge message",
			zap.String("subject", msg.Subject),
			zap.Error(ackErr))
	}
}

// deliver is the innermost handler: decode, then emit inside a limiter slot.
func (b *Bridge) deliver(ctx context.Context, msg *nats.Msg) error {
	event, err := Decode(msg.Data)
	if err != nil {
		return err
	}
	return b.config.Limiter.Do(ctx, func(ctx context.Context) error {
		results, err := b.emitter.Emit(ctx, event)
		if err != nil {
			return fmt.Errorf("failed to emit %s: %w", event.Key(), err)
		}
		for _, r := range results {
			b.logger.Debug("Event advanced instance",
				zap.String("event", event.Key().String()),
				zap.String("instance_id", r.InstanceID),
				zap.String("status", string(r.Status)))
		}
		return nil
	})
}
