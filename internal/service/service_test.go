package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lendsure/internal/alerting"
	"lendsure/internal/claims"
	"lendsure/internal/config"
	"lendsure/internal/consensus"
	"lendsure/internal/core"
	"lendsure/internal/pricing"
	"lendsure/internal/registry"
	"lendsure/internal/storage"
	"lendsure/internal/underwriting"
)

var (
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	insured = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

// countingNotifier records every delivered notification.
type countingNotifier struct {
	notes []alerting.Notification
}

func (n *countingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

type fixedSource struct {
	height uint64
}

func (f *fixedSource) Height(context.Context) (uint64, error) {
	return f.height, nil
}

func newTestService(t *testing.T) (*Service, *core.Core, *countingNotifier, *fixedSource) {
	t.Helper()
	store := storage.NewMemStore()
	logger := zerolog.Nop()
	source := &fixedSource{height: 100}

	pricer := pricing.New(store, logger)
	c := core.New(core.Deps{
		Registry:  registry.New(admin, store, underwriting.KnownCurve, logger),
		Consensus: consensus.New(store, consensus.Options{Quorum: 3, AppraisalTTLBlocks: 1008}, logger),
		Underwriting: underwriting.New(store, underwriting.NewLogCustodian(logger), underwriting.Bounds{
			MinDurationBlocks: 144,
			MaxDurationBlocks: 52560,
			BlocksPerYear:     52560,
		}, logger),
		Pricing: pricer,
		Claims:  claims.New(store, pricer, claims.NewLogTreasury(logger), logger),
		Chain:   source,
		Backend: store,
	}, logger)

	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.Channels = []string{"telegram"}

	notifier := &countingNotifier{}
	svc := New(cfg, nil, c, store, notifier, logger)
	return svc, c, notifier, source
}

func setupPolicy(t *testing.T, c *core.Core) uint64 {
	t.Helper()
	ctx := context.Background()

	if err := c.RegisterOracle(ctx, admin, "noaa-1", "NOAA", "flood"); err != nil {
		t.Fatalf("register oracle: %v", err)
	}
	err := c.RegisterRiskProfile(ctx, admin, storage.RiskProfile{
		ID: 1, PerilType: "flood", BaseRateBps: 500,
		Adjustments: map[string]uint64{"Kaduna": 300},
	})
	if err != nil {
		t.Fatalf("register risk profile: %v", err)
	}

	id, err := c.PurchasePolicy(ctx, claims.PolicyParams{
		Insured:          insured,
		CoverageAmount:   100000000,
		PerilType:        "flood",
		Location:         "Kaduna",
		ProfileID:        1,
		DurationBlocks:   1000,
		TriggerThreshold: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("purchase policy: %v", err)
	}
	return id
}

func TestSweepAlertsOnceOnTrigger(t *testing.T) {
	svc, c, notifier, _ := newTestService(t)
	ctx := context.Background()
	policyID := setupPolicy(t, c)

	// Quiet sweep: policy is active but nothing has been observed.
	if err := svc.Sweep(ctx, time.Now()); err != nil {
		t.Fatalf("sweep without data: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("no alert expected, got %d", len(notifier.notes))
	}

	now := time.Now().Unix() + 60
	if err := c.SubmitOracleData(ctx, "noaa-1", "flood", "Kaduna", decimal.NewFromInt(150), now); err != nil {
		t.Fatalf("submit oracle data: %v", err)
	}

	if err := svc.Sweep(ctx, time.Now()); err != nil {
		t.Fatalf("sweep after trigger: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("alerts = %d, want 1", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.PolicyID != policyID || note.PerilType != "flood" || note.Location != "Kaduna" {
		t.Fatalf("unexpected notification: %+v", note)
	}

	// The policy is still triggered; the alert must not repeat.
	if err := svc.Sweep(ctx, time.Now()); err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("alerts after repeat sweep = %d, want 1", len(notifier.notes))
	}
}

func TestSweepExpiresElapsedPolicies(t *testing.T) {
	svc, c, notifier, source := newTestService(t)
	ctx := context.Background()
	policyID := setupPolicy(t, c)

	// Past the coverage window of 1000 blocks from height 100.
	source.height = 1101
	if err := svc.Sweep(ctx, time.Now()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	policy, err := c.GetPolicy(ctx, policyID)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if policy.Status != storage.PolicyExpired {
		t.Fatalf("status = %s, want expired", policy.Status)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("expired policy must not alert, got %d", len(notifier.notes))
	}
}
