// Package pricing computes parametric insurance premiums from static risk
// profiles. Calculation is pure: no state is written, and identical inputs
// always produce identical premiums.
package pricing

import (
	"context"
	"math/bits"

	"github.com/rs/zerolog"

	"lendsure/internal/protocol"
	"lendsure/internal/storage"
)

const bpsDenominator = 10000

// Engine prices coverage against registered risk profiles.
type Engine struct {
	profiles storage.RiskProfileStore
	logger   zerolog.Logger
}

// New constructs the pricing engine.
func New(profiles storage.RiskProfileStore, logger zerolog.Logger) *Engine {
	return &Engine{
		profiles: profiles,
		logger:   logger.With().Str("component", "pricing").Logger(),
	}
}

// CalculatePremium prices coverage for a location. The total rate is the
// profile's base rate plus the location adjustment (zero for unlisted
// locations); premium = coverage * total / 10000, truncating toward zero.
func (e *Engine) CalculatePremium(ctx context.Context, profileID, coverage uint64, location string) (uint64, error) {
	profile, err := e.profiles.GetRiskProfile(ctx, profileID)
	if err != nil {
		return 0, err
	}

	totalBps := profile.BaseRateBps + profile.Adjustments[location]
	hi, lo := bits.Mul64(coverage, totalBps)
	if hi >= bpsDenominator {
		// The quotient would not fit in uint64.
		return 0, protocol.Errf(protocol.CodeInvalidParameters,
			"coverage %d at %d bps exceeds the representable premium", coverage, totalBps)
	}
	premium, _ := bits.Div64(hi, lo, bpsDenominator)

	e.logger.Debug().Uint64("profile", profileID).
		Str("location", location).
		Uint64("total_bps", totalBps).
		Uint64("premium", premium).
		Msg("premium quoted")
	return premium, nil
}
