package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "svc"})
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestNewTracerProviderEmitsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(exp, Config{ServiceName: "testsvc", ServiceVersion: "v0"})
	if err != nil {
		t.Fatalf("new tracer provider: %v", err)
	}

	_, sp := tp.Tracer("test").Start(context.Background(), "pipeline.render")
	sp.End()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "pipeline.render" {
		t.Fatalf("unexpected span name: %q", spans[0].Name)
	}
	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == attribute.Key("service.name") && kv.Value.AsString() == "testsvc" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected resource to include service.name=testsvc")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
