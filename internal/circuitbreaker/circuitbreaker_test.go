package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	}
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.RecordFailure(ctx)
		if err := cb.Allow(ctx); err != nil {
			t.Fatalf("breaker should stay closed after %d failures", i+1)
		}
	}

	cb.RecordFailure(ctx)
	if err := cb.Allow(ctx); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Fatalf("expected ErrCircuitBreakerOpen, got %v", err)
	}
	if cb.State(ctx) != StateOpen {
		t.Fatalf("state = %v, want open", cb.State(ctx))
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	cb.RecordSuccess(ctx)
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	if err := cb.Allow(ctx); err != nil {
		t.Fatal("breaker should be closed, success reset the count")
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}
	if err := cb.Allow(ctx); err == nil {
		t.Fatal("breaker should be open")
	}

	time.Sleep(60 * time.Millisecond)

	// Timeout elapsed: probe allowed, breaker half-open.
	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	if cb.State(ctx) != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State(ctx))
	}

	cb.RecordSuccess(ctx)
	cb.RecordSuccess(ctx)
	if cb.State(ctx) != StateClosed {
		t.Fatalf("state = %v, want closed after recovery", cb.State(ctx))
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}
	time.Sleep(60 * time.Millisecond)
	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}

	cb.RecordFailure(ctx)
	if cb.State(ctx) != StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", cb.State(ctx))
	}
	if err := cb.Allow(ctx); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Fatalf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestManagerPerEndpoint(t *testing.T) {
	m := NewManager(testConfig())
	ctx := context.Background()

	a := m.Get("http://a")
	b := m.Get("http://b")

	if a == b {
		t.Fatal("endpoints must get independent breakers")
	}
	if m.Get("http://a") != a {
		t.Fatal("same endpoint must get the same breaker")
	}

	for i := 0; i < 3; i++ {
		a.RecordFailure(ctx)
	}

	states := m.States()
	if states["http://a"] != "open" {
		t.Fatalf("breaker a state = %q, want open", states["http://a"])
	}
	if states["http://b"] != "closed" {
		t.Fatalf("breaker b state = %q, want closed", states["http://b"])
	}
}
