// Package underwriting turns finalized collateral appraisals into loans and
// manages their lifecycle. Loan terms are fixed at creation; the state
// machine only moves forward.
package underwriting

import (
	"context"
	"errors"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"lendsure/internal/protocol"
	"lendsure/internal/storage"
)

const bpsDenominator = 10000

// Bounds hold protocol-wide loan term limits.
type Bounds struct {
	MinDurationBlocks uint64
	MaxDurationBlocks uint64
	// BlocksPerYear anchors interest accrual; interest is simple and
	// prorated by elapsed blocks.
	BlocksPerYear uint64
}

// Engine issues and services loans.
type Engine struct {
	loans       storage.LoanStore
	appraisals  storage.AppraisalStore
	collections storage.CollectionStore
	custodian   Custodian
	bounds      Bounds
	logger      zerolog.Logger
}

// New constructs the underwriting engine.
func New(backend storage.Backend, custodian Custodian, bounds Bounds, logger zerolog.Logger) *Engine {
	return &Engine{
		loans:       backend,
		appraisals:  backend,
		collections: backend,
		custodian:   custodian,
		bounds:      bounds,
		logger:      logger.With().Str("component", "underwriting").Logger(),
	}
}

// ApplyForLoan issues a loan against the latest finalized appraisal for the
// item. The LTV bound is exact: amount * 10000 <= max-ltv-bps * final-value.
func (e *Engine) ApplyForLoan(ctx context.Context, borrower common.Address, collection, itemID string, amount, durationBlocks, height uint64) (uint64, error) {
	coll, err := e.collections.GetCollection(ctx, collection)
	if err != nil {
		return 0, err
	}

	req, err := e.appraisals.LatestCompletedAppraisal(ctx, collection, itemID)
	if errors.Is(err, protocol.ErrNotFound) {
		return 0, protocol.ErrNoFinalizedAppraisal
	}
	if err != nil {
		return 0, err
	}
	if req.FinalValue == nil {
		return 0, protocol.ErrNoFinalizedAppraisal
	}
	finalValue := *req.FinalValue

	if amount == 0 {
		return 0, protocol.Errf(protocol.CodeInvalidParameters, "loan amount must be positive")
	}
	if mulExceeds(amount, bpsDenominator, coll.MaxLTVBps, finalValue) {
		return 0, protocol.ErrExceedsMaxLTV
	}
	if durationBlocks < e.bounds.MinDurationBlocks || durationBlocks > e.bounds.MaxDurationBlocks {
		return 0, protocol.ErrInvalidDuration
	}

	curve, ok := CurveFor(coll.CurveKind)
	if !ok {
		return 0, protocol.Errf(protocol.CodeInvalidParameters, "unknown rate curve %q", coll.CurveKind)
	}
	// The LTV check bounds amount*10000 by maxLTVBps*finalValue, so the
	// quotient fits in 64 bits.
	hi, lo := bits.Mul64(amount, bpsDenominator)
	ltvBps, _ := bits.Div64(hi, lo, finalValue)
	rate := curve.Rate(ltvBps, coll.MaxLTVBps, coll.MinRateBps, coll.MaxRateBps)
	if interestOverflows(amount, rate, durationBlocks) {
		return 0, protocol.Errf(protocol.CodeInvalidParameters,
			"loan terms too large for interest accrual")
	}

	if err := e.custodian.Lock(ctx, coll.NFTContract, itemID, borrower); err != nil {
		return 0, err
	}

	id, err := e.loans.CreateLoan(ctx, storage.Loan{
		Borrower:       borrower,
		Collection:     collection,
		ItemID:         itemID,
		Amount:         amount,
		RateBps:        rate,
		DurationBlocks: durationBlocks,
		State:          storage.LoanActive,
		StartHeight:    height,
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info().Uint64("loan", id).
		Str("borrower", borrower.Hex()).
		Str("collection", collection).
		Str("item", itemID).
		Uint64("amount", amount).
		Uint64("rate_bps", rate).
		Uint64("ltv_bps", ltvBps).
		Msg("loan issued")
	return id, nil
}

// Outstanding computes principal plus accrued interest at the given height.
func (e *Engine) Outstanding(loan storage.Loan, height uint64) uint64 {
	return loan.Amount + e.accruedInterest(loan, height)
}

// accruedInterest is simple interest prorated by elapsed blocks, truncating.
// ApplyForLoan rejects terms whose full-duration product would wrap, so the
// multiplication here stays inside uint64.
func (e *Engine) accruedInterest(loan storage.Loan, height uint64) uint64 {
	if height <= loan.StartHeight {
		return 0
	}
	elapsed := height - loan.StartHeight
	if elapsed > loan.DurationBlocks {
		elapsed = loan.DurationBlocks
	}
	return loan.Amount * loan.RateBps * elapsed / (bpsDenominator * e.bounds.BlocksPerYear)
}

// mulExceeds reports a*b > c*d on the full 128-bit products, so oversized
// operands cannot wrap past the comparison.
func mulExceeds(a, b, c, d uint64) bool {
	hi1, lo1 := bits.Mul64(a, b)
	hi2, lo2 := bits.Mul64(c, d)
	return hi1 > hi2 || (hi1 == hi2 && lo1 > lo2)
}

// interestOverflows reports whether amount*rateBps*durationBlocks exceeds
// uint64, the worst case accruedInterest ever multiplies.
func interestOverflows(amount, rateBps, durationBlocks uint64) bool {
	hi, lo := bits.Mul64(amount, rateBps)
	if hi != 0 {
		return true
	}
	hi, _ = bits.Mul64(lo, durationBlocks)
	return hi != 0
}

// RepayLoan settles a loan in full and returns the collateral. Partial
// repayments are rejected.
func (e *Engine) RepayLoan(ctx context.Context, caller common.Address, loanID, amount, height uint64) error {
	loan, err := e.loans.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.State != storage.LoanActive {
		return protocol.ErrLoanNotActive
	}
	if caller != loan.Borrower {
		return protocol.ErrUnauthorized
	}

	owed := e.Outstanding(loan, height)
	if amount < owed {
		return protocol.Errf(protocol.CodeInvalidParameters,
			"repayment %d below outstanding balance %d", amount, owed)
	}

	if err := e.loans.SetLoanState(ctx, loanID, storage.LoanRepaid); err != nil {
		return err
	}

	coll, err := e.collections.GetCollection(ctx, loan.Collection)
	if err != nil {
		return err
	}
	if err := e.custodian.Release(ctx, coll.NFTContract, loan.ItemID, loan.Borrower); err != nil {
		return err
	}

	e.logger.Info().Uint64("loan", loanID).Uint64("repaid", owed).Msg("loan repaid")
	return nil
}

// LiquidateLoan seizes collateral from a loan whose duration has elapsed
// without repayment.
func (e *Engine) LiquidateLoan(ctx context.Context, loanID, height uint64) error {
	loan, err := e.loans.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.State != storage.LoanActive {
		return protocol.ErrLoanNotActive
	}
	if height <= loan.StartHeight+loan.DurationBlocks {
		return protocol.ErrLoanNotExpired
	}

	if err := e.loans.SetLoanState(ctx, loanID, storage.LoanLiquidated); err != nil {
		return err
	}

	coll, err := e.collections.GetCollection(ctx, loan.Collection)
	if err != nil {
		return err
	}
	if err := e.custodian.Seize(ctx, coll.NFTContract, loan.ItemID); err != nil {
		return err
	}

	e.logger.Info().Uint64("loan", loanID).Msg("loan liquidated")
	return nil
}

// Loan looks up a loan by id.
func (e *Engine) Loan(ctx context.Context, id uint64) (storage.Loan, error) {
	return e.loans.GetLoan(ctx, id)
}
