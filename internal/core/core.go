// Package core exposes the protocol's external entry points. Every call is
// serialised behind one mutex so each operation sees and mutates state
// atomically, mirroring the single-call transaction model of the host chain
// the contracts came from.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lendsure/internal/chain"
	"lendsure/internal/claims"
	"lendsure/internal/consensus"
	"lendsure/internal/pricing"
	"lendsure/internal/protocol"
	"lendsure/internal/registry"
	"lendsure/internal/storage"
	"lendsure/internal/underwriting"
)

// Deps wires the engines into a Core.
type Deps struct {
	Registry     *registry.Registry
	Consensus    *consensus.Engine
	Underwriting *underwriting.Engine
	Pricing      *pricing.Engine
	Claims       *claims.Evaluator
	Chain        chain.Source
	Backend      storage.Backend
}

// Core is the protocol facade.
type Core struct {
	mu sync.Mutex

	registry     *registry.Registry
	consensus    *consensus.Engine
	underwriting *underwriting.Engine
	pricing      *pricing.Engine
	claims       *claims.Evaluator
	chain        chain.Source
	backend      storage.Backend
	logger       zerolog.Logger
	now          func() time.Time
}

// New constructs the protocol core.
func New(deps Deps, logger zerolog.Logger) *Core {
	return &Core{
		registry:     deps.Registry,
		consensus:    deps.Consensus,
		underwriting: deps.Underwriting,
		pricing:      deps.Pricing,
		claims:       deps.Claims,
		chain:        deps.Chain,
		backend:      deps.Backend,
		logger:       logger.With().Str("component", "core").Logger(),
		now:          time.Now,
	}
}

func (c *Core) height(ctx context.Context) (uint64, error) {
	height, err := c.chain.Height(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch block height: %w", err)
	}
	return height, nil
}

// RegisterCollection registers an NFT collection. Admin only.
func (c *Core) RegisterCollection(ctx context.Context, caller common.Address, params registry.CollectionParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.RegisterCollection(ctx, caller, params)
}

// AuthorizeAppraiser grants appraisal rights. Admin only.
func (c *Core) AuthorizeAppraiser(ctx context.Context, caller, appraiser common.Address, collections []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.AuthorizeAppraiser(ctx, caller, appraiser, collections)
}

// RevokeAppraiser withdraws appraisal rights. Admin only.
func (c *Core) RevokeAppraiser(ctx context.Context, caller, appraiser common.Address, collection string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.RevokeAppraiser(ctx, caller, appraiser, collection)
}

// RegisterOracle registers a data submitter. Admin only.
func (c *Core) RegisterOracle(ctx context.Context, caller common.Address, id, name, perilType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.RegisterOracle(ctx, caller, id, name, perilType)
}

// RegisterRiskProfile registers pricing reference data. Admin only.
func (c *Core) RegisterRiskProfile(ctx context.Context, caller common.Address, profile storage.RiskProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.RegisterRiskProfile(ctx, caller, profile)
}

// RequestAppraisal opens a pending appraisal request.
func (c *Core) RequestAppraisal(ctx context.Context, collection, itemID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return 0, err
	}
	return c.consensus.RequestAppraisal(ctx, collection, itemID, height)
}

// SubmitAppraisal records an appraiser's value; true when it finalized.
func (c *Core) SubmitAppraisal(ctx context.Context, requestID, value uint64, submitter common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consensus.SubmitAppraisal(ctx, requestID, value, submitter)
}

// GetAppraisalRequest returns a request with its submissions.
func (c *Core) GetAppraisalRequest(ctx context.Context, id uint64) (storage.AppraisalRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consensus.Appraisal(ctx, id)
}

// ApplyForLoan issues a loan against a finalized appraisal.
func (c *Core) ApplyForLoan(ctx context.Context, borrower common.Address, collection, itemID string, amount, durationBlocks uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return 0, err
	}
	return c.underwriting.ApplyForLoan(ctx, borrower, collection, itemID, amount, durationBlocks, height)
}

// RepayLoan settles a loan in full.
func (c *Core) RepayLoan(ctx context.Context, caller common.Address, loanID, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return err
	}
	return c.underwriting.RepayLoan(ctx, caller, loanID, amount, height)
}

// LiquidateLoan seizes collateral from an expired loan.
func (c *Core) LiquidateLoan(ctx context.Context, loanID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return err
	}
	return c.underwriting.LiquidateLoan(ctx, loanID, height)
}

// GetLoan looks up a loan.
func (c *Core) GetLoan(ctx context.Context, id uint64) (storage.Loan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.underwriting.Loan(ctx, id)
}

// OutstandingBalance reports principal plus accrued interest right now.
func (c *Core) OutstandingBalance(ctx context.Context, loanID uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return 0, err
	}
	loan, err := c.underwriting.Loan(ctx, loanID)
	if err != nil {
		return 0, err
	}
	return c.underwriting.Outstanding(loan, height), nil
}

// GetCollection looks up a registered collection.
func (c *Core) GetCollection(ctx context.Context, name string) (storage.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Collection(ctx, name)
}

// GetOracle looks up an oracle; the bool mirrors the optional contract.
func (c *Core) GetOracle(ctx context.Context, id string) (storage.Oracle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	oracle, err := c.registry.Oracle(ctx, id)
	if errors.Is(err, protocol.ErrNotFound) {
		return storage.Oracle{}, false, nil
	}
	if err != nil {
		return storage.Oracle{}, false, err
	}
	return oracle, true, nil
}

// GetRiskProfile looks up a risk profile; the bool mirrors the optional contract.
func (c *Core) GetRiskProfile(ctx context.Context, id uint64) (storage.RiskProfile, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	profile, err := c.registry.RiskProfile(ctx, id)
	if errors.Is(err, protocol.ErrNotFound) {
		return storage.RiskProfile{}, false, nil
	}
	if err != nil {
		return storage.RiskProfile{}, false, err
	}
	return profile, true, nil
}

// CalculatePremium prices coverage. Pure and idempotent.
func (c *Core) CalculatePremium(ctx context.Context, profileID, coverage uint64, location string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pricing.CalculatePremium(ctx, profileID, coverage, location)
}

// SubmitOracleData appends one observation.
func (c *Core) SubmitOracleData(ctx context.Context, oracleID, perilType, location string, magnitude decimal.Decimal, timestamp int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consensus.SubmitOracleData(ctx, oracleID, perilType, location, magnitude, timestamp)
}

// PurchasePolicy prices and issues a policy.
func (c *Core) PurchasePolicy(ctx context.Context, params claims.PolicyParams) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return 0, err
	}
	return c.claims.PurchasePolicy(ctx, params, height, c.now().Unix())
}

// ConditionMet reports whether a policy's trigger condition holds. Never
// fails; unknown policies are false.
func (c *Core) ConditionMet(ctx context.Context, policyID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims.ConditionMet(ctx, policyID)
}

// EvaluatePolicy exposes the tri-state trigger result for the monitor.
func (c *Core) EvaluatePolicy(ctx context.Context, policyID uint64) (claims.TriggerState, storage.OracleDataPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims.Evaluate(ctx, policyID)
}

// SettleClaim pays out a triggered policy still inside its coverage window.
func (c *Core) SettleClaim(ctx context.Context, policyID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return err
	}
	return c.claims.SettleClaim(ctx, policyID, height)
}

// ExpirePolicy lazily closes an elapsed policy.
func (c *Core) ExpirePolicy(ctx context.Context, policyID uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return false, err
	}
	return c.claims.ExpirePolicy(ctx, policyID, height)
}

// GetPolicy looks up a policy.
func (c *Core) GetPolicy(ctx context.Context, id uint64) (storage.Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims.Policy(ctx, id)
}

// ActivePolicies lists open policies for the monitor.
func (c *Core) ActivePolicies(ctx context.Context) ([]storage.Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims.ActivePolicies(ctx)
}

// ExpireStaleAppraisals lazily expires pending requests past their TTL.
func (c *Core) ExpireStaleAppraisals(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.height(ctx)
	if err != nil {
		return 0, err
	}
	return c.consensus.ExpireStaleAppraisals(ctx, height)
}

// RecentLoans lists the most recent loans.
func (c *Core) RecentLoans(ctx context.Context, limit int) ([]storage.Loan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.ListRecentLoans(ctx, limit)
}

// RecentAppraisals lists the most recent appraisal requests.
func (c *Core) RecentAppraisals(ctx context.Context, limit int) ([]storage.AppraisalRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.ListRecentAppraisals(ctx, limit)
}

// OracleDataBetween lists observations for export.
func (c *Core) OracleDataBetween(ctx context.Context, perilType, location string, from, to int64) ([]storage.OracleDataPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.ListOracleDataBetween(ctx, perilType, location, from, to)
}
