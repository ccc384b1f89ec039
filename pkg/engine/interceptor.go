package engine

import (
	"context"
	"time"

	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Interceptor wraps a node before each execution. It may return node itself
// or a decorated Executable with the same ID.
type Interceptor func(ref process.NodeRef, node process.Executable) process.Executable

// Chain composes interceptors. The first interceptor is the outermost wrapper.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(ref process.NodeRef, node process.Executable) process.Executable {
		for i := len(interceptors) - 1; i >= 0; i-- {
			if interceptors[i] != nil {
				node = interceptors[i](ref, node)
			}
		}
		return node
	}
}

// TracingInterceptor opens one span per node execution. A nil tracer uses the
// global provider.
func TracingInterceptor(tracer trace.Tracer) Interceptor {
	if tracer == nil {
		tracer = otel.Tracer("ariadne/engine")
	}
	return func(ref process.NodeRef, node process.Executable) process.Executable {
		return process.Func{
			NodeID: node.ID(),
			Fn: func(ctx context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
				ctx, span := tracer.Start(ctx, "engine.execute",
					trace.WithAttributes(
						attribute.String("process", ref.Process.String()),
						attribute.String("instance.id", ref.InstanceID),
						attribute.String("node.id", ref.NodeID),
						attribute.Bool("node.resumed", env.Resumed()),
						attribute.Int("cascade.depth", ref.Depth()),
					))
				defer span.End()

				next, actions, err := node.Execute(ctx, state, env)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return next, actions, err
				}
				for _, a := range actions {
					span.AddEvent(string(a.Kind()))
					if inc, ok := a.(process.IncidentAction); ok {
						span.SetAttributes(attribute.String("incident.error_ref", inc.ErrorRef))
						span.SetStatus(codes.Error, inc.ErrorMsg)
						return next, actions, nil
					}
				}
				span.SetStatus(codes.Ok, "")
				return next, actions, nil
			},
		}
	}
}

// LoggingInterceptor logs every node execution at debug level.
func LoggingInterceptor(logger *zap.Logger) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ref process.NodeRef, node process.Executable) process.Executable {
		return process.Func{
			NodeID: node.ID(),
			Fn: func(ctx context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
				start := time.Now()
				next, actions, err := node.Execute(ctx, state, env)

				kinds := make([]string, 0, len(actions))
				for _, a := range actions {
					kinds = append(kinds, string(a.Kind()))
				}
				logger.Debug("Executed node",
					zap.String("process", ref.Process.String()),
					zap.String("instance_id", ref.InstanceID),
					zap.String("node_id", ref.NodeID),
					zap.Bool("resumed", env.Resumed()),
					zap.Strings("actions", kinds),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err))
				return next, actions, err
			},
		}
	}
}
