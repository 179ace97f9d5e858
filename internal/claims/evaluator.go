// Package claims manages parametric insurance policies and decides payout
// eligibility from oracle observations. The trigger predicate is pure and
// default-false, so callers may poll it unconditionally.
package claims

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lendsure/internal/pricing"
	"lendsure/internal/protocol"
	"lendsure/internal/storage"
)

// TriggerState keeps the missing-data case distinct from an explicit
// non-trigger; the boundary collapses both to false.
type TriggerState int

const (
	StateNoData TriggerState = iota
	StateNotTriggered
	StateTriggered
)

// PolicyParams carry the purchase-policy arguments.
type PolicyParams struct {
	Insured          common.Address
	CoverageAmount   uint64
	PerilType        string
	Location         string
	ProfileID        uint64
	DurationBlocks   uint64
	TriggerThreshold decimal.Decimal
}

// Evaluator issues policies and evaluates trigger conditions.
type Evaluator struct {
	policies storage.PolicyStore
	data     storage.OracleDataStore
	pricing  *pricing.Engine
	treasury Treasury
	logger   zerolog.Logger
}

// New constructs the claims evaluator.
func New(backend storage.Backend, pricer *pricing.Engine, treasury Treasury, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		policies: backend,
		data:     backend,
		pricing:  pricer,
		treasury: treasury,
		logger:   logger.With().Str("component", "claims").Logger(),
	}
}

// PurchasePolicy prices, collects, and records a new active policy.
func (e *Evaluator) PurchasePolicy(ctx context.Context, params PolicyParams, height uint64, nowUnix int64) (uint64, error) {
	if params.CoverageAmount == 0 {
		return 0, protocol.Errf(protocol.CodeInvalidParameters, "coverage amount must be positive")
	}
	if params.DurationBlocks == 0 {
		return 0, protocol.Errf(protocol.CodeInvalidParameters, "duration must be positive")
	}
	if params.TriggerThreshold.Sign() <= 0 {
		return 0, protocol.Errf(protocol.CodeInvalidParameters, "trigger threshold must be positive")
	}

	premium, err := e.pricing.CalculatePremium(ctx, params.ProfileID, params.CoverageAmount, params.Location)
	if err != nil {
		return 0, err
	}

	if err := e.treasury.Collect(ctx, params.Insured, premium); err != nil {
		return 0, err
	}

	id, err := e.policies.CreatePolicy(ctx, storage.Policy{
		Insured:          params.Insured,
		CoverageAmount:   params.CoverageAmount,
		PerilType:        params.PerilType,
		Location:         params.Location,
		PremiumPaid:      premium,
		TriggerThreshold: params.TriggerThreshold,
		Status:           storage.PolicyActive,
		StartHeight:      height,
		DurationBlocks:   params.DurationBlocks,
		StartTimestamp:   nowUnix,
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info().Uint64("policy", id).
		Str("insured", params.Insured.Hex()).
		Str("peril", params.PerilType).
		Str("location", params.Location).
		Uint64("premium", premium).
		Msg("policy issued")
	return id, nil
}

// Evaluate inspects the latest qualifying observation for a policy. It
// never fails: unknown or inactive policies and absent data all come back
// as StateNoData. The second return is the observation that decided the
// state, zero-valued when there is none.
func (e *Evaluator) Evaluate(ctx context.Context, policyID uint64) (TriggerState, storage.OracleDataPoint) {
	policy, err := e.policies.GetPolicy(ctx, policyID)
	if err != nil {
		return StateNoData, storage.OracleDataPoint{}
	}
	if policy.Status != storage.PolicyActive {
		return StateNoData, storage.OracleDataPoint{}
	}

	point, err := e.data.LatestOracleData(ctx, policy.PerilType, policy.Location)
	if err != nil {
		return StateNoData, storage.OracleDataPoint{}
	}
	if point.Timestamp < policy.StartTimestamp {
		// Observation predates the policy; no qualifying data yet.
		return StateNoData, storage.OracleDataPoint{}
	}

	if point.Magnitude.Cmp(policy.TriggerThreshold) >= 0 {
		return StateTriggered, point
	}
	return StateNotTriggered, point
}

// ConditionMet collapses Evaluate to the external boolean contract.
func (e *Evaluator) ConditionMet(ctx context.Context, policyID uint64) bool {
	state, _ := e.Evaluate(ctx, policyID)
	return state == StateTriggered
}

// SettleClaim pays out a triggered policy inside its coverage window and
// closes it. A policy whose window has already elapsed is expired instead of
// paid, even when the latest observation would trigger it.
func (e *Evaluator) SettleClaim(ctx context.Context, policyID, height uint64) error {
	policy, err := e.policies.GetPolicy(ctx, policyID)
	if err != nil {
		return err
	}
	if policy.Status != storage.PolicyActive {
		return protocol.ErrPolicyNotActive
	}
	if height > policy.StartHeight+policy.DurationBlocks {
		if _, err := e.ExpirePolicy(ctx, policyID, height); err != nil {
			return err
		}
		return protocol.ErrPolicyNotActive
	}

	state, point := e.Evaluate(ctx, policyID)
	if state != StateTriggered {
		return protocol.ErrConditionNotMet
	}

	if err := e.treasury.Pay(ctx, policy.Insured, policy.CoverageAmount); err != nil {
		return err
	}
	if err := e.policies.SetPolicyStatus(ctx, policyID, storage.PolicyClaimed); err != nil {
		return err
	}

	e.logger.Info().Uint64("policy", policyID).
		Uint64("payout", policy.CoverageAmount).
		Str("magnitude", point.Magnitude.String()).
		Msg("claim settled")
	return nil
}

// ExpirePolicy lazily closes a policy whose coverage window has elapsed.
// Returns true when the policy transitioned to expired.
func (e *Evaluator) ExpirePolicy(ctx context.Context, policyID, height uint64) (bool, error) {
	policy, err := e.policies.GetPolicy(ctx, policyID)
	if err != nil {
		return false, err
	}
	if policy.Status != storage.PolicyActive {
		return false, protocol.ErrPolicyNotActive
	}
	if height <= policy.StartHeight+policy.DurationBlocks {
		return false, nil
	}
	if err := e.policies.SetPolicyStatus(ctx, policyID, storage.PolicyExpired); err != nil {
		return false, err
	}
	e.logger.Info().Uint64("policy", policyID).Msg("policy expired")
	return true, nil
}

// Policy looks up a policy by id.
func (e *Evaluator) Policy(ctx context.Context, id uint64) (storage.Policy, error) {
	return e.policies.GetPolicy(ctx, id)
}

// ActivePolicies lists policies still in their coverage window.
func (e *Evaluator) ActivePolicies(ctx context.Context) ([]storage.Policy, error) {
	return e.policies.ListPoliciesByStatus(ctx, storage.PolicyActive)
}
