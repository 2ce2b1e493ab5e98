package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestJSONRPCCode_Stable(t *testing.T) {
	// The code mapping is part of the external contract; spot-check the
	// endpoints and one middle value so accidental reordering is caught.
	cases := []struct {
		kind Kind
		code int
	}{
		{ToolNotFound, -32000},
		{InvalidArguments, -32001},
		{Cancelled, -32008},
		{Internal, -32014},
	}
	for _, c := range cases {
		if got := c.kind.JSONRPCCode(); got != c.code {
			t.Errorf("%s: code = %d, want %d", c.kind, got, c.code)
		}
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := E(ClientTimeout, "no reply within 60s")
	outer := fmt.Errorf("invoke: %w", inner)

	if got := KindOf(outer); got != ClientTimeout {
		t.Errorf("KindOf = %s, want ClientTimeout", got)
	}
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Errorf("KindOf(plain) = %s, want Internal", got)
	}
}

func TestRetryable(t *testing.T) {
	for k := ToolNotFound; k <= Internal; k++ {
		want := k == UpstreamError || k == UpstreamRateLimited
		if got := k.Retryable(); got != want {
			t.Errorf("%s: Retryable = %v, want %v", k, got, want)
		}
	}
}

func TestAsError_PreservesKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", E(QueueFull, "queue at capacity"))
	be := AsError(err)
	if be.Kind != QueueFull {
		t.Errorf("Kind = %s, want QueueFull", be.Kind)
	}

	be = AsError(errors.New("boom"))
	if be.Kind != Internal {
		t.Errorf("Kind = %s, want Internal", be.Kind)
	}
}
