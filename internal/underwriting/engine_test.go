package underwriting

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"lendsure/internal/protocol"
	"lendsure/internal/storage"
)

var borrower = common.HexToAddress("0x00000000000000000000000000000000000000b1")

func newTestEngine(t *testing.T) (*Engine, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	ctx := context.Background()

	err := store.CreateCollection(ctx, storage.Collection{
		Name:       "punks",
		MaxLTVBps:  5500,
		MinRateBps: 500,
		MaxRateBps: 2000,
		CurveKind:  "linear",
		MinValue:   1,
		MaxValue:   100000000,
	})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}

	id, err := store.CreateAppraisalRequest(ctx, storage.AppraisalRequest{
		Collection: "punks", ItemID: "1", CreatedAtHeight: 50,
	})
	if err != nil {
		t.Fatalf("create appraisal request: %v", err)
	}
	if err := store.FinalizeAppraisal(ctx, id, 10000000); err != nil {
		t.Fatalf("finalize appraisal: %v", err)
	}

	engine := New(store, NewLogCustodian(zerolog.Nop()), Bounds{
		MinDurationBlocks: 144,
		MaxDurationBlocks: 52560,
		BlocksPerYear:     52560,
	}, zerolog.Nop())
	return engine, store
}

func TestApplyForLoanAtExactLTVBoundary(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// 55% of the 10,000,000 appraisal, to the unit.
	id, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", 5500000, 1000, 100)
	if err != nil {
		t.Fatalf("loan at exact LTV bound should be granted: %v", err)
	}

	loan, err := engine.Loan(ctx, id)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.State != storage.LoanActive {
		t.Fatalf("state = %s, want active", loan.State)
	}
	if loan.RateBps != 2000 {
		t.Fatalf("rate = %d, want 2000 at full LTV utilisation", loan.RateBps)
	}
	if loan.StartHeight != 100 {
		t.Fatalf("start height = %d, want 100", loan.StartHeight)
	}
}

func TestApplyForLoanExceedsLTV(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", 5500001, 1000, 100); !errors.Is(err, protocol.ErrExceedsMaxLTV) {
		t.Fatalf("one unit over the bound: err = %v, want ErrExceedsMaxLTV", err)
	}
}

func TestApplyForLoanRejectsWrappingAmount(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// amount * 10000 wraps uint64 down to 4000, which a naive comparison
	// would accept against the 10,000,000 appraisal.
	const amount = 1844674407370955162
	if _, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", amount, 1000, 100); !errors.Is(err, protocol.ErrExceedsMaxLTV) {
		t.Fatalf("wrapping amount: err = %v, want ErrExceedsMaxLTV", err)
	}
}

func TestApplyForLoanRejectsInterestOverflow(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	err := store.CreateCollection(ctx, storage.Collection{
		Name:       "vaults",
		MaxLTVBps:  5500,
		MinRateBps: 500,
		MaxRateBps: 2000,
		CurveKind:  "linear",
		MinValue:   1,
		MaxValue:   math.MaxUint64,
	})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	id, err := store.CreateAppraisalRequest(ctx, storage.AppraisalRequest{
		Collection: "vaults", ItemID: "1", CreatedAtHeight: 50,
	})
	if err != nil {
		t.Fatalf("create appraisal request: %v", err)
	}
	if err := store.FinalizeAppraisal(ctx, id, math.MaxUint64/2); err != nil {
		t.Fatalf("finalize appraisal: %v", err)
	}

	// Inside the LTV bound, but amount*rate*duration does not fit uint64.
	if _, err := engine.ApplyForLoan(ctx, borrower, "vaults", "1", math.MaxUint64/4, 1000, 100); !errors.Is(err, protocol.ErrInvalidParameters) {
		t.Fatalf("overflowing interest terms: err = %v, want ErrInvalidParameters", err)
	}
}

func TestApplyForLoanWithoutAppraisal(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.ApplyForLoan(ctx, borrower, "punks", "99", 1000000, 1000, 100); !errors.Is(err, protocol.ErrNoFinalizedAppraisal) {
		t.Fatalf("unappraised item: err = %v, want ErrNoFinalizedAppraisal", err)
	}
}

func TestApplyForLoanDurationBounds(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", 1000000, 100, 100); !errors.Is(err, protocol.ErrInvalidDuration) {
		t.Fatalf("too-short duration: err = %v, want ErrInvalidDuration", err)
	}
	if _, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", 1000000, 60000, 100); !errors.Is(err, protocol.ErrInvalidDuration) {
		t.Fatalf("too-long duration: err = %v, want ErrInvalidDuration", err)
	}
}

func TestLinearRateScalesWithLTV(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// 27.5% LTV is half of the permitted 55%, so the rate lands midway
	// between 500 and 2000.
	id, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", 2750000, 1000, 100)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	loan, err := engine.Loan(ctx, id)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.RateBps != 1250 {
		t.Fatalf("rate = %d, want 1250", loan.RateBps)
	}
}

func TestOutstandingAccruesSimpleInterest(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", 5500000, 1000, 100)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	loan, err := engine.Loan(ctx, id)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}

	if got := engine.Outstanding(loan, 100); got != 5500000 {
		t.Fatalf("outstanding at start = %d, want principal only", got)
	}

	// Half a year elapsed at 20%: 5,500,000 * 2000 * 26280 / (10000 * 52560).
	if got := engine.Outstanding(loan, 100+26280); got != 5500000+550000 {
		t.Fatalf("outstanding at half year = %d, want 6050000", got)
	}

	// Interest accrual stops at the loan duration.
	atDuration := engine.Outstanding(loan, 100+1000)
	if got := engine.Outstanding(loan, 100+5000); got != atDuration {
		t.Fatalf("interest should cap at duration: %d != %d", got, atDuration)
	}
}

func TestRepayLoan(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", 5500000, 1000, 100)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := engine.RepayLoan(ctx, common.HexToAddress("0xff"), id, 10000000, 100); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("stranger repay: err = %v, want ErrUnauthorized", err)
	}
	if err := engine.RepayLoan(ctx, borrower, id, 1, 100); !errors.Is(err, protocol.ErrInvalidParameters) {
		t.Fatalf("partial repay: err = %v, want ErrInvalidParameters", err)
	}

	loan, _ := engine.Loan(ctx, id)
	owed := engine.Outstanding(loan, 200)
	if err := engine.RepayLoan(ctx, borrower, id, owed, 200); err != nil {
		t.Fatalf("full repay: %v", err)
	}

	loan, _ = engine.Loan(ctx, id)
	if loan.State != storage.LoanRepaid {
		t.Fatalf("state = %s, want repaid", loan.State)
	}

	if err := engine.RepayLoan(ctx, borrower, id, owed, 200); !errors.Is(err, protocol.ErrLoanNotActive) {
		t.Fatalf("repay settled loan: err = %v, want ErrLoanNotActive", err)
	}
}

func TestLiquidateLoan(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.ApplyForLoan(ctx, borrower, "punks", "1", 5500000, 1000, 100)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Still inside the term, including the final block.
	if err := engine.LiquidateLoan(ctx, id, 1100); !errors.Is(err, protocol.ErrLoanNotExpired) {
		t.Fatalf("liquidate in-term loan: err = %v, want ErrLoanNotExpired", err)
	}

	if err := engine.LiquidateLoan(ctx, id, 1101); err != nil {
		t.Fatalf("liquidate expired loan: %v", err)
	}

	loan, _ := engine.Loan(ctx, id)
	if loan.State != storage.LoanLiquidated {
		t.Fatalf("state = %s, want liquidated", loan.State)
	}

	if err := engine.LiquidateLoan(ctx, id, 1200); !errors.Is(err, protocol.ErrLoanNotActive) {
		t.Fatalf("liquidate twice: err = %v, want ErrLoanNotActive", err)
	}
}
