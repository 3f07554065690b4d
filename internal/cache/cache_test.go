package cache

import (
	"context"
	"testing"
	"time"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

func TestGenerateKeyDeterministic(t *testing.T) {
	available := []domain.Mode{{Language: "es", Domain: "legal"}}

	k1 := GenerateKey("hola", "es", "", available)
	k2 := GenerateKey("hola", "es", "", available)
	if k1 != k2 {
		t.Fatalf("same inputs should produce the same key: %q vs %q", k1, k2)
	}
}

func TestGenerateKeyIgnoresModeOrder(t *testing.T) {
	modes := []domain.Mode{
		{Language: "es", Domain: "legal"},
		{Language: "eu", Domain: "health"},
		{Language: "es", Domain: "general"},
		{Language: "gl", Domain: "tax"},
	}
	base := GenerateKey("hola", "", "", modes)

	// The candidate list comes from a map walk, so every permutation of
	// the same modes must hash to the same key.
	permuted := []domain.Mode{modes[2], modes[0], modes[3], modes[1]}
	if got := GenerateKey("hola", "", "", permuted); got != base {
		t.Fatalf("permuted mode list changed the key: %q vs %q", got, base)
	}

	reversed := []domain.Mode{modes[3], modes[2], modes[1], modes[0]}
	if got := GenerateKey("hola", "", "", reversed); got != base {
		t.Fatalf("reversed mode list changed the key: %q vs %q", got, base)
	}
}

func TestGenerateKeyDoesNotMutateInput(t *testing.T) {
	modes := []domain.Mode{
		{Language: "eu", Domain: "health"},
		{Language: "es", Domain: "legal"},
	}
	GenerateKey("hola", "", "", modes)

	if modes[0].Language != "eu" || modes[1].Language != "es" {
		t.Fatalf("input slice was reordered: %+v", modes)
	}
}

func TestGenerateKeyDiffers(t *testing.T) {
	available := []domain.Mode{{Language: "es", Domain: "legal"}}
	base := GenerateKey("hola", "es", "", available)

	tests := []struct {
		name string
		key  string
	}{
		{"different prompt", GenerateKey("adios", "es", "", available)},
		{"different language hint", GenerateKey("hola", "eu", "", available)},
		{"different domain hint", GenerateKey("hola", "es", "legal", available)},
		{"different available modes", GenerateKey("hola", "es", "", nil)},
	}
	for _, tt := range tests {
		if tt.key == base {
			t.Errorf("%s should change the key", tt.name)
		}
	}
}

func TestInMemoryCacheRoundtrip(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()
	mode := domain.Mode{Language: "eu", Domain: "legal"}

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	if err := c.Set(ctx, "k", mode, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if got != mode {
		t.Fatalf("got %+v, want %+v", got, mode)
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", domain.Mode{Language: "es"}, 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}
