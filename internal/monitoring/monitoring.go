package monitoring

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook callbacks by alert name and outcome",
	}, []string{"alert_name", "outcome"})

	WebhookRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejections_total",
		Help: "Webhook callbacks rejected before dispatch",
	}, []string{"reason"})

	PaymentAPIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_api_duration_seconds",
		Help:    "Duration of payment session API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	CheckoutTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_transitions_total",
		Help: "Checkout controller state transitions by target state",
	}, []string{"state"})

	ConfirmationUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confirmation_updates_total",
		Help: "Transaction status updates by source and whether they changed the stored state",
	}, []string{"source", "applied"})
)

// InitTracer installs an OTLP gRPC tracer provider. Without an endpoint the
// global no-op provider stays in place and the returned shutdown is a no-op.
func InitTracer(ctx context.Context, serviceName, endpoint string, log *zap.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		log.Info("tracing disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing initialized", zap.String("service_name", serviceName), zap.String("endpoint", endpoint))

	return tp.Shutdown, nil
}
