package services_test

import (
	"context"
	"testing"

	"sead/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSIPID(ctx, "sip-42")
	ctx = services.WithStage(ctx, "ingest")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.SIPIDFromContext(ctx); !ok || id != "sip-42" {
		t.Fatalf("unexpected sip id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "ingest" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithSIPID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.SIPIDFromContext(ctx); ok {
		t.Fatal("expected no sip id value")
	}
}
