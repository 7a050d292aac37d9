// Package telemetry sets up OpenTelemetry tracing and the echo middleware creating request spans.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
)

const tracerName = "github.com/SkTech0/VirtualClassroom-sub000/apps/api"

// Setup registers a global tracer provider exporting to conf.Telemetry.Endpoint.
// Tracing is opt-in: without an endpoint, Setup returns a no-op shutdown function.
// The returned shutdown function flushes pending spans.
func Setup(ctx context.Context, conf *core.Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if conf.Telemetry.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(conf.Telemetry.Endpoint))
	if err != nil {
		return noop, errors.Wrap(err, "creating otlp exporter")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(conf.Telemetry.ServiceName),
			semconv.ServiceVersion(conf.Build),
			semconv.DeploymentEnvironment(conf.Env),
		),
	)
	if err != nil {
		return noop, errors.Wrap(err, "creating otel resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}

// Middleware starts a server span per request, continuing the caller's trace when one is propagated.
// Spans go to the global tracer provider, a no-op until Setup registers one.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			tracer := otel.Tracer(tracerName)
			propagator := otel.GetTextMapPropagator()

			route := ctx.Path()
			if route == "" {
				route = req.URL.Path
			}
			reqCtx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			reqCtx, span := tracer.Start(reqCtx, fmt.Sprintf("%s %s", req.Method, route),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(req.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(req.URL.Path),
					semconv.ClientAddress(ctx.RealIP()),
				),
			)
			defer span.End()
			ctx.SetRequest(req.WithContext(reqCtx))

			err := next(ctx)
			if err != nil {
				// let the error handler write the response so the status is known
				ctx.Error(err)
				span.RecordError(err)
			}

			status := ctx.Response().Status
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return nil
		}
	}
}
