package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"lendsure/internal/protocol"
	"lendsure/internal/storage"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := storage.NewMemStore()
	err := store.CreateRiskProfile(context.Background(), storage.RiskProfile{
		ID:          1,
		PerilType:   "flood",
		BaseRateBps: 500,
		Adjustments: map[string]uint64{"Kaduna": 300},
	})
	if err != nil {
		t.Fatalf("create risk profile: %v", err)
	}
	return New(store, zerolog.Nop())
}

func TestCalculatePremiumWithAdjustment(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	premium, err := engine.CalculatePremium(ctx, 1, 100000000, "Kaduna")
	if err != nil {
		t.Fatalf("calculate premium: %v", err)
	}
	if premium != 8000000 {
		t.Fatalf("premium = %d, want 8000000 (base 500 + Kaduna 300 bps)", premium)
	}
}

func TestCalculatePremiumUnlistedLocation(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	premium, err := engine.CalculatePremium(ctx, 1, 100000000, "Lagos")
	if err != nil {
		t.Fatalf("calculate premium: %v", err)
	}
	if premium != 5000000 {
		t.Fatalf("premium = %d, want 5000000 (base rate only)", premium)
	}
}

func TestCalculatePremiumIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.CalculatePremium(ctx, 1, 123456789, "Kaduna")
	if err != nil {
		t.Fatalf("first quote: %v", err)
	}
	second, err := engine.CalculatePremium(ctx, 1, 123456789, "Kaduna")
	if err != nil {
		t.Fatalf("second quote: %v", err)
	}
	if first != second {
		t.Fatalf("quotes differ: %d != %d", first, second)
	}
}

func TestCalculatePremiumTruncates(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	// 999 * 800 / 10000 = 79.92, truncating to 79.
	premium, err := engine.CalculatePremium(ctx, 1, 999, "Kaduna")
	if err != nil {
		t.Fatalf("calculate premium: %v", err)
	}
	if premium != 79 {
		t.Fatalf("premium = %d, want 79", premium)
	}
}

func TestCalculatePremiumLargeCoverage(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	// coverage * 800 wraps uint64 to exactly zero; the wide multiply keeps
	// the truncating quotient.
	premium, err := engine.CalculatePremium(ctx, 1, 1<<61, "Kaduna")
	if err != nil {
		t.Fatalf("calculate premium: %v", err)
	}
	if premium != 184467440737095516 {
		t.Fatalf("premium = %d, want 184467440737095516", premium)
	}
}

func TestCalculatePremiumUnrepresentable(t *testing.T) {
	store := storage.NewMemStore()
	err := store.CreateRiskProfile(context.Background(), storage.RiskProfile{
		ID:          2,
		PerilType:   "flood",
		BaseRateBps: 20000,
	})
	if err != nil {
		t.Fatalf("create risk profile: %v", err)
	}
	engine := New(store, zerolog.Nop())

	if _, err := engine.CalculatePremium(context.Background(), 2, math.MaxUint64, "Kaduna"); !errors.Is(err, protocol.ErrInvalidParameters) {
		t.Fatalf("premium beyond uint64: err = %v, want ErrInvalidParameters", err)
	}
}

func TestCalculatePremiumUnknownProfile(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.CalculatePremium(ctx, 42, 100000000, "Kaduna"); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("unknown profile: err = %v, want ErrNotFound", err)
	}
}
