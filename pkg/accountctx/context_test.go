package accountctx

import (
	"context"
	"testing"
)

func TestAccountIDRoundTrip(t *testing.T) {
	ctx := WithAccountID(context.Background(), "  acc-1 ")
	id, ok := AccountID(ctx)
	if !ok || id != "acc-1" {
		t.Fatalf("expected acc-1, got %q (ok=%v)", id, ok)
	}
}

func TestBlankValuesAreIgnored(t *testing.T) {
	ctx := WithAccountID(context.Background(), " ")
	ctx = WithRequestID(ctx, "")
	if _, ok := AccountID(ctx); ok {
		t.Fatalf("expected no account id")
	}
	if _, ok := RequestID(ctx); ok {
		t.Fatalf("expected no request id")
	}
}
