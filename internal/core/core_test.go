package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lendsure/internal/claims"
	"lendsure/internal/consensus"
	"lendsure/internal/pricing"
	"lendsure/internal/protocol"
	"lendsure/internal/registry"
	"lendsure/internal/storage"
	"lendsure/internal/underwriting"
)

var (
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	appraiserA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	appraiserB = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	appraiserC = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	borrower   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

// fixedSource lets tests advance the chain by hand.
type fixedSource struct {
	height uint64
}

func (f *fixedSource) Height(context.Context) (uint64, error) {
	return f.height, nil
}

func newTestCore(t *testing.T) (*Core, *fixedSource) {
	t.Helper()
	store := storage.NewMemStore()
	logger := zerolog.Nop()
	source := &fixedSource{height: 100}

	pricer := pricing.New(store, logger)
	c := New(Deps{
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
	c.now = func() time.Time { return time.Unix(1000, 0) }
	return c, source
}

func TestLendingLifecycle(t *testing.T) {
	c, source := newTestCore(t)
	ctx := context.Background()

	err := c.RegisterCollection(ctx, admin, registry.CollectionParams{
		Name:       "punks",
		MaxLTVBps:  5500,
		MinRateBps: 500,
		MaxRateBps: 2000,
		CurveKind:  "linear",
		MinValue:   1,
		MaxValue:   100000000,
	})
	if err != nil {
		t.Fatalf("register collection: %v", err)
	}
	if err := c.AuthorizeAppraiser(ctx, admin, appraiserA, []string{"punks"}); err != nil {
		t.Fatalf("authorize appraiser: %v", err)
	}
	if err := c.AuthorizeAppraiser(ctx, admin, appraiserB, []string{"punks"}); err != nil {
		t.Fatalf("authorize appraiser: %v", err)
	}
	if err := c.AuthorizeAppraiser(ctx, admin, appraiserC, []string{"punks"}); err != nil {
		t.Fatalf("authorize appraiser: %v", err)
	}

	reqID, err := c.RequestAppraisal(ctx, "punks", "1")
	if err != nil {
		t.Fatalf("request appraisal: %v", err)
	}

	for i, sub := range []struct {
		value     uint64
		appraiser common.Address
	}{
		{10000000, appraiserA},
		{12000000, appraiserB},
		{11000000, appraiserC},
	} {
		finalized, err := c.SubmitAppraisal(ctx, reqID, sub.value, sub.appraiser)
		if err != nil {
			t.Fatalf("submit appraisal %d: %v", i, err)
		}
		if finalized != (i == 2) {
			t.Fatalf("submission %d: finalized = %v", i, finalized)
		}
	}

	req, err := c.GetAppraisalRequest(ctx, reqID)
	if err != nil {
		t.Fatalf("get appraisal: %v", err)
	}
	if req.FinalValue == nil || *req.FinalValue != 11000000 {
		t.Fatalf("final value = %v, want 11000000", req.FinalValue)
	}

	// 55% of 11,000,000.
	loanID, err := c.ApplyForLoan(ctx, borrower, "punks", "1", 6050000, 1000)
	if err != nil {
		t.Fatalf("apply for loan: %v", err)
	}
	if _, err := c.ApplyForLoan(ctx, borrower, "punks", "1", 6050001, 1000); !errors.Is(err, protocol.ErrExceedsMaxLTV) {
		t.Fatalf("over-LTV loan: err = %v, want ErrExceedsMaxLTV", err)
	}

	if err := c.RepayLoan(ctx, admin, loanID, 10000000); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("stranger repay: err = %v, want ErrUnauthorized", err)
	}

	source.height = 600
	owed, err := c.OutstandingBalance(ctx, loanID)
	if err != nil {
		t.Fatalf("outstanding balance: %v", err)
	}
	if owed <= 6050000 {
		t.Fatalf("outstanding = %d, want interest on top of principal", owed)
	}

	if err := c.RepayLoan(ctx, borrower, loanID, owed); err != nil {
		t.Fatalf("repay loan: %v", err)
	}
	loan, err := c.GetLoan(ctx, loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.State != storage.LoanRepaid {
		t.Fatalf("state = %s, want repaid", loan.State)
	}
}

func TestInsuranceLifecycle(t *testing.T) {
	c, source := newTestCore(t)
	ctx := context.Background()

	if err := c.RegisterOracle(ctx, admin, "noaa-1", "NOAA", "flood"); err != nil {
		t.Fatalf("register oracle: %v", err)
	}
	err := c.RegisterRiskProfile(ctx, admin, storage.RiskProfile{
		ID:          1,
		PerilType:   "flood",
		BaseRateBps: 500,
		Adjustments: map[string]uint64{"Kaduna": 300},
	})
	if err != nil {
		t.Fatalf("register risk profile: %v", err)
	}

	premium, err := c.CalculatePremium(ctx, 1, 100000000, "Kaduna")
	if err != nil {
		t.Fatalf("calculate premium: %v", err)
	}
	if premium != 8000000 {
		t.Fatalf("premium = %d, want 8000000", premium)
	}

	policyID, err := c.PurchasePolicy(ctx, claims.PolicyParams{
		Insured:          borrower,
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

	if c.ConditionMet(ctx, policyID) {
		t.Fatal("policy without data must not trigger")
	}
	if c.ConditionMet(ctx, 999) {
		t.Fatal("unknown policy must evaluate to false")
	}

	err = c.SubmitOracleData(ctx, "noaa-1", "flood", "Kaduna", decimal.NewFromInt(150), 1500)
	if err != nil {
		t.Fatalf("submit oracle data: %v", err)
	}
	if err := c.SubmitOracleData(ctx, "noaa-1", "flood", "Kaduna", decimal.NewFromInt(160), 1500); !errors.Is(err, protocol.ErrInvalidTimestamp) {
		t.Fatalf("replayed timestamp: err = %v, want ErrInvalidTimestamp", err)
	}

	if !c.ConditionMet(ctx, policyID) {
		t.Fatal("observation above threshold must trigger")
	}

	if err := c.SettleClaim(ctx, policyID); err != nil {
		t.Fatalf("settle claim: %v", err)
	}
	policy, err := c.GetPolicy(ctx, policyID)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if policy.Status != storage.PolicyClaimed {
		t.Fatalf("status = %s, want claimed", policy.Status)
	}

	source.height = 2000
	if _, err := c.ExpirePolicy(ctx, policyID); !errors.Is(err, protocol.ErrPolicyNotActive) {
		t.Fatalf("expire settled policy: err = %v, want ErrPolicyNotActive", err)
	}
}

func TestOptionalLookups(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	if _, found, err := c.GetOracle(ctx, "ghost"); err != nil || found {
		t.Fatalf("unknown oracle: found=%v err=%v, want absent without error", found, err)
	}
	if _, found, err := c.GetRiskProfile(ctx, 42); err != nil || found {
		t.Fatalf("unknown profile: found=%v err=%v, want absent without error", found, err)
	}

	if err := c.RegisterOracle(ctx, admin, "noaa-1", "NOAA", "flood"); err != nil {
		t.Fatalf("register oracle: %v", err)
	}
	oracle, found, err := c.GetOracle(ctx, "noaa-1")
	if err != nil || !found {
		t.Fatalf("registered oracle: found=%v err=%v", found, err)
	}
	if oracle.PerilType != "flood" {
		t.Fatalf("peril = %s, want flood", oracle.PerilType)
	}
}
