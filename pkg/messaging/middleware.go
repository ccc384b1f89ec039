package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler processes one inbound message. Bridge acknowledges the message
// based on the returned error, so handlers must not Ack or Nak themselves.
type Handler func(ctx context.Context, msg *nats.Msg) error

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain composes middlewares. The first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			if middlewares[i] != nil {
				h = middlewares[i](h)
			}
		}
		return h
	}
}

// RecoveryMiddleware turns a panicking handler into an error.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *nats.Msg) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Handler panicked",
						zap.String("subject", msg.Subject),
						zap.Any("panic", r))
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// LoggingMiddleware logs every message with its outcome and duration.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *nats.Msg) error {
			start := time.Now()
			err := next(ctx, msg)
			fields := []zap.Field{
				zap.String("subject", msg.Subject),
				zap.Int("size", len(msg.Data)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("Failed to process message", append(fields, zap.Error(err))...)
				return err
			}
			logger.Debug("Processed message", fields...)
			return nil
		}
	}
}

// TracingMiddleware continues the trace carried in the message headers and
// opens a consumer span around the handler. A nil tracer uses the global
// provider.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer("ariadne/messaging")
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *nats.Msg) error {
			if msg.Header != nil {
				ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
			}
			ctx, span := tracer.Start(ctx, "messaging.deliver",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(attribute.String("messaging.source", msg.Subject)))
			defer span.End()

			err := next(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			span.SetStatus(codes.Ok, "")
			return nil
		}
	}
}
