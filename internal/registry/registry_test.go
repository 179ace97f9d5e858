package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"lendsure/internal/protocol"
	"lendsure/internal/storage"
)

var (
	admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	appraiser = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func knownCurves(kind string) bool {
	return kind == "linear" || kind == "flat"
}

func newTestRegistry(t *testing.T) (*Registry, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	return New(admin, store, knownCurves, zerolog.Nop()), store
}

func validParams() CollectionParams {
	return CollectionParams{
		Name:       "punks",
		MaxLTVBps:  5500,
		MinRateBps: 500,
		MaxRateBps: 2000,
		CurveKind:  "linear",
		MinValue:   1,
		MaxValue:   100000000,
	}
}

func TestRegisterCollectionAdminOnly(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.RegisterCollection(ctx, stranger, validParams()); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("non-admin register: err = %v, want ErrUnauthorized", err)
	}
	if err := registry.RegisterCollection(ctx, admin, validParams()); err != nil {
		t.Fatalf("admin register: %v", err)
	}
}

func TestRegisterCollectionValidation(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CollectionParams)
	}{
		{"empty name", func(p *CollectionParams) { p.Name = " " }},
		{"zero max ltv", func(p *CollectionParams) { p.MaxLTVBps = 0 }},
		{"ltv above 100%", func(p *CollectionParams) { p.MaxLTVBps = 10001 }},
		{"inverted rates", func(p *CollectionParams) { p.MinRateBps = 3000 }},
		{"inverted values", func(p *CollectionParams) { p.MinValue = p.MaxValue }},
		{"unknown curve", func(p *CollectionParams) { p.CurveKind = "exponential" }},
	}
	for _, tc := range cases {
		params := validParams()
		tc.mutate(&params)
		if err := registry.RegisterCollection(ctx, admin, params); !errors.Is(err, protocol.ErrInvalidParameters) {
			t.Fatalf("%s: err = %v, want ErrInvalidParameters", tc.name, err)
		}
	}
}

func TestRegisterCollectionDuplicate(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.RegisterCollection(ctx, admin, validParams()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := registry.RegisterCollection(ctx, admin, validParams()); !errors.Is(err, protocol.ErrAlreadyExists) {
		t.Fatalf("duplicate register: err = %v, want ErrAlreadyExists", err)
	}
}

func TestAuthorizeAppraiser(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.RegisterCollection(ctx, admin, validParams()); err != nil {
		t.Fatalf("register collection: %v", err)
	}

	if err := registry.AuthorizeAppraiser(ctx, stranger, appraiser, []string{"punks"}); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("non-admin authorize: err = %v, want ErrUnauthorized", err)
	}
	if err := registry.AuthorizeAppraiser(ctx, admin, appraiser, nil); !errors.Is(err, protocol.ErrInvalidParameters) {
		t.Fatalf("empty collections: err = %v, want ErrInvalidParameters", err)
	}
	if err := registry.AuthorizeAppraiser(ctx, admin, appraiser, []string{"ghosts"}); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("unknown collection: err = %v, want ErrNotFound", err)
	}

	if err := registry.AuthorizeAppraiser(ctx, admin, appraiser, []string{"punks"}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	// Re-authorization is a no-op, not an error.
	if err := registry.AuthorizeAppraiser(ctx, admin, appraiser, []string{"punks"}); err != nil {
		t.Fatalf("re-authorize: %v", err)
	}

	authorized, err := store.IsAuthorizedAppraiser(ctx, appraiser, "punks")
	if err != nil || !authorized {
		t.Fatalf("appraiser should be authorized: %v %v", authorized, err)
	}
}

func TestRevokeAppraiser(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.RegisterCollection(ctx, admin, validParams()); err != nil {
		t.Fatalf("register collection: %v", err)
	}
	if err := registry.AuthorizeAppraiser(ctx, admin, appraiser, []string{"punks"}); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	if err := registry.RevokeAppraiser(ctx, admin, appraiser, "punks"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	authorized, _ := store.IsAuthorizedAppraiser(ctx, appraiser, "punks")
	if authorized {
		t.Fatal("revoked appraiser should not be authorized")
	}

	if err := registry.RevokeAppraiser(ctx, admin, stranger, "punks"); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("revoke unknown appraiser: err = %v, want ErrNotFound", err)
	}
}

func TestRegisterOracle(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.RegisterOracle(ctx, stranger, "noaa-1", "NOAA", "flood"); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("non-admin register: err = %v, want ErrUnauthorized", err)
	}
	if err := registry.RegisterOracle(ctx, admin, "", "NOAA", "flood"); !errors.Is(err, protocol.ErrInvalidParameters) {
		t.Fatalf("empty id: err = %v, want ErrInvalidParameters", err)
	}
	if err := registry.RegisterOracle(ctx, admin, "noaa-1", "NOAA", "flood"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.RegisterOracle(ctx, admin, "noaa-1", "NOAA", "flood"); !errors.Is(err, protocol.ErrAlreadyExists) {
		t.Fatalf("duplicate register: err = %v, want ErrAlreadyExists", err)
	}

	oracle, err := registry.Oracle(ctx, "noaa-1")
	if err != nil {
		t.Fatalf("get oracle: %v", err)
	}
	if !oracle.Active {
		t.Fatal("new oracle should be active")
	}
	if oracle.LastTimestamp != 0 {
		t.Fatalf("watermark = %d, want 0", oracle.LastTimestamp)
	}
}

func TestRegisterRiskProfile(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	profile := storage.RiskProfile{ID: 1, PerilType: "flood", BaseRateBps: 500}
	if err := registry.RegisterRiskProfile(ctx, stranger, profile); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("non-admin register: err = %v, want ErrUnauthorized", err)
	}
	if err := registry.RegisterRiskProfile(ctx, admin, profile); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.RegisterRiskProfile(ctx, admin, profile); !errors.Is(err, protocol.ErrAlreadyExists) {
		t.Fatalf("duplicate register: err = %v, want ErrAlreadyExists", err)
	}
}
