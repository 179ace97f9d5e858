// Package registry holds the protocol's authorization lists and static
// reference data: collections, appraiser permissions, oracles, and risk
// profiles. All writes are restricted to the protocol administrator.
package registry

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"lendsure/internal/protocol"
	"lendsure/internal/storage"
)

const maxLTVCeilingBps = 10000

// CollectionParams carry the register-collection arguments.
type CollectionParams struct {
	Name        string
	NFTContract common.Address
	MetadataURI string
	MaxLTVBps   uint64
	MinRateBps  uint64
	MaxRateBps  uint64
	CurveKind   string
	RarityTiers []string
	MinValue    uint64
	MaxValue    uint64
}

// Registry guards the protocol's lookup tables.
type Registry struct {
	admin       common.Address
	collections storage.CollectionStore
	appraisers  storage.AppraiserStore
	oracles     storage.OracleStore
	profiles    storage.RiskProfileStore
	knownCurve  func(kind string) bool
	logger      zerolog.Logger
}

// New constructs a Registry. knownCurve validates curve kinds at
// registration so an unloanable collection can never be created.
func New(admin common.Address, backend storage.Backend, knownCurve func(string) bool, logger zerolog.Logger) *Registry {
	return &Registry{
		admin:       admin,
		collections: backend,
		appraisers:  backend,
		oracles:     backend,
		profiles:    backend,
		knownCurve:  knownCurve,
		logger:      logger.With().Str("component", "registry").Logger(),
	}
}

func (r *Registry) requireAdmin(caller common.Address) error {
	if caller != r.admin {
		return protocol.ErrUnauthorized
	}
	return nil
}

// RegisterCollection creates an immutable collection record.
func (r *Registry) RegisterCollection(ctx context.Context, caller common.Address, params CollectionParams) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if strings.TrimSpace(params.Name) == "" {
		return protocol.Errf(protocol.CodeInvalidParameters, "collection name is required")
	}
	if params.MaxLTVBps == 0 || params.MaxLTVBps > maxLTVCeilingBps {
		return protocol.Errf(protocol.CodeInvalidParameters, "max-ltv-bps must be in (0, %d]", maxLTVCeilingBps)
	}
	if params.MinRateBps > params.MaxRateBps {
		return protocol.Errf(protocol.CodeInvalidParameters, "min-rate-bps exceeds max-rate-bps")
	}
	if params.MinValue >= params.MaxValue {
		return protocol.Errf(protocol.CodeInvalidParameters, "min-value must be below max-value")
	}
	if r.knownCurve != nil && !r.knownCurve(params.CurveKind) {
		return protocol.Errf(protocol.CodeInvalidParameters, "unknown rate curve %q", params.CurveKind)
	}

	err := r.collections.CreateCollection(ctx, storage.Collection{
		Name:        params.Name,
		NFTContract: params.NFTContract,
		MetadataURI: params.MetadataURI,
		MaxLTVBps:   params.MaxLTVBps,
		MinRateBps:  params.MinRateBps,
		MaxRateBps:  params.MaxRateBps,
		CurveKind:   params.CurveKind,
		RarityTiers: params.RarityTiers,
		MinValue:    params.MinValue,
		MaxValue:    params.MaxValue,
	})
	if err != nil {
		return err
	}

	r.logger.Info().Str("collection", params.Name).
		Uint64("max_ltv_bps", params.MaxLTVBps).
		Str("curve", params.CurveKind).
		Msg("collection registered")
	return nil
}

// AuthorizeAppraiser grants appraisal rights for the named collections.
// Re-authorizing an active appraiser is a no-op, not an error.
func (r *Registry) AuthorizeAppraiser(ctx context.Context, caller, appraiser common.Address, collections []string) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if len(collections) == 0 {
		return protocol.Errf(protocol.CodeInvalidParameters, "at least one collection is required")
	}
	for _, name := range collections {
		if _, err := r.collections.GetCollection(ctx, name); err != nil {
			return err
		}
	}
	for _, name := range collections {
		if err := r.appraisers.AuthorizeAppraiser(ctx, appraiser, name); err != nil {
			return err
		}
	}
	r.logger.Info().Str("appraiser", appraiser.Hex()).
		Strs("collections", collections).
		Msg("appraiser authorized")
	return nil
}

// RevokeAppraiser withdraws appraisal rights for one collection.
func (r *Registry) RevokeAppraiser(ctx context.Context, caller, appraiser common.Address, collection string) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if err := r.appraisers.RevokeAppraiser(ctx, appraiser, collection); err != nil {
		return err
	}
	r.logger.Info().Str("appraiser", appraiser.Hex()).
		Str("collection", collection).
		Msg("appraiser revoked")
	return nil
}

// RegisterOracle records a new oracle as active.
func (r *Registry) RegisterOracle(ctx context.Context, caller common.Address, id, name, perilType string) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" || strings.TrimSpace(perilType) == "" {
		return protocol.Errf(protocol.CodeInvalidParameters, "oracle id and peril type are required")
	}
	err := r.oracles.CreateOracle(ctx, storage.Oracle{
		ID:        id,
		Name:      name,
		PerilType: perilType,
		Active:    true,
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("oracle", id).Str("peril", perilType).Msg("oracle registered")
	return nil
}

// RegisterRiskProfile records static pricing reference data.
func (r *Registry) RegisterRiskProfile(ctx context.Context, caller common.Address, profile storage.RiskProfile) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if strings.TrimSpace(profile.PerilType) == "" {
		return protocol.Errf(protocol.CodeInvalidParameters, "peril type is required")
	}
	if err := r.profiles.CreateRiskProfile(ctx, profile); err != nil {
		return err
	}
	r.logger.Info().Uint64("profile", profile.ID).
		Str("peril", profile.PerilType).
		Uint64("base_rate_bps", profile.BaseRateBps).
		Msg("risk profile registered")
	return nil
}

// Collection looks up a collection by name.
func (r *Registry) Collection(ctx context.Context, name string) (storage.Collection, error) {
	return r.collections.GetCollection(ctx, name)
}

// Oracle looks up an oracle by id.
func (r *Registry) Oracle(ctx context.Context, id string) (storage.Oracle, error) {
	return r.oracles.GetOracle(ctx, id)
}

// RiskProfile looks up a risk profile by id.
func (r *Registry) RiskProfile(ctx context.Context, id uint64) (storage.RiskProfile, error) {
	return r.profiles.GetRiskProfile(ctx, id)
}
