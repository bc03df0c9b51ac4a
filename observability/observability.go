// Package observability wraps OpenTelemetry tracing behind a small
// interface so calculation and queue code can create spans without caring
// how the SDK is wired. Production wiring (exporters, sampling) is owned by
// whoever embeds this core; NewLocalObserver gives a stdout pipeline for
// local runs and tests.
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/yuru-sha/fuji-calendar-sub001"

// ObserverInterface creates spans for instrumented operations.
type ObserverInterface interface {
	CreateSpan(ctx context.Context, name string) (context.Context, trace.Span)
	Shutdown(ctx context.Context) error
}

var (
	mu       sync.RWMutex
	instance ObserverInterface = &noopObserver{}
)

// Observer returns the process observer. Before initialization it returns a
// no-op implementation, so packages may call it at construction time.
func Observer() ObserverInterface {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// SetObserver installs a custom observer. The embedding service uses this to
// plug its own tracer provider.
func SetObserver(o ObserverInterface) {
	mu.Lock()
	defer mu.Unlock()
	instance = o
}

// NewLocalObserver installs a stdout-exporting tracer provider and returns
// it. Used by the CLI and by tests.
func NewLocalObserver() ObserverInterface {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		// stdout exporter construction cannot realistically fail; keep the
		// no-op observer if it somehow does.
		return Observer()
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	o := &otelObserver{tracer: tp.Tracer(tracerName), provider: tp}
	SetObserver(o)
	return o
}

type otelObserver struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

func (o *otelObserver) CreateSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name)
}

func (o *otelObserver) Shutdown(ctx context.Context) error {
	return o.provider.Shutdown(ctx)
}

type noopObserver struct{}

func (n *noopObserver) CreateSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return noop.NewTracerProvider().Tracer(tracerName).Start(ctx, name)
}

func (n *noopObserver) Shutdown(context.Context) error { return nil }
