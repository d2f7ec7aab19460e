package tracing

import (
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsUserContent(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/charges"),
		attribute.String("metadata", `{"query":"shoes"}`),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("storage_unavailable: %w", errors.New("dial tcp 10.0.0.1:5432: connection refused"))
	if got := SafeError(err).Error(); got != "storage_unavailable" {
		t.Fatalf("expected storage_unavailable, got %q", got)
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}
