// Package consensus converges reports from independent permissioned
// submitters into canonical values. Appraisals finalize once via a quorum
// aggregate; oracle observations are appended as independent facts guarded
// by per-oracle timestamp monotonicity.
package consensus

import (
	"context"
	"errors"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lendsure/internal/protocol"
	"lendsure/internal/storage"
)

// Options tune finalization behaviour.
type Options struct {
	// Quorum caps the number of submissions required to finalize. A request
	// finalizes at min(Quorum, authorized appraiser count) distinct submitters.
	Quorum int
	// AppraisalTTLBlocks is the age past which a pending request may be
	// lazily expired. Zero disables expiry.
	AppraisalTTLBlocks uint64
}

// Engine ingests appraisal and oracle submissions.
type Engine struct {
	appraisals  storage.AppraisalStore
	collections storage.CollectionStore
	appraisers  storage.AppraiserStore
	oracles     storage.OracleStore
	oracleData  storage.OracleDataStore
	opts        Options
	logger      zerolog.Logger
}

// New constructs the consensus engine.
func New(backend storage.Backend, opts Options, logger zerolog.Logger) *Engine {
	if opts.Quorum <= 0 {
		opts.Quorum = 1
	}
	return &Engine{
		appraisals:  backend,
		collections: backend,
		appraisers:  backend,
		oracles:     backend,
		oracleData:  backend,
		opts:        opts,
		logger:      logger.With().Str("component", "consensus").Logger(),
	}
}

// RequestAppraisal opens a pending request for an item and returns its id.
func (e *Engine) RequestAppraisal(ctx context.Context, collection, itemID string, height uint64) (uint64, error) {
	if _, err := e.collections.GetCollection(ctx, collection); err != nil {
		return 0, err
	}

	id, err := e.appraisals.CreateAppraisalRequest(ctx, storage.AppraisalRequest{
		Collection:      collection,
		ItemID:          itemID,
		CreatedAtHeight: height,
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info().Uint64("request", id).
		Str("collection", collection).
		Str("item", itemID).
		Msg("appraisal requested")
	return id, nil
}

// SubmitAppraisal records one appraiser's value. Returns true when the
// submission completed the quorum and the request finalized.
func (e *Engine) SubmitAppraisal(ctx context.Context, requestID, value uint64, submitter common.Address) (bool, error) {
	req, err := e.appraisals.GetAppraisalRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	if req.Status != storage.AppraisalPending {
		return false, protocol.ErrAlreadyFinalized
	}

	authorized, err := e.appraisers.IsAuthorizedAppraiser(ctx, submitter, req.Collection)
	if err != nil {
		return false, err
	}
	if !authorized {
		return false, protocol.ErrUnauthorized
	}

	coll, err := e.collections.GetCollection(ctx, req.Collection)
	if err != nil {
		return false, err
	}
	if value < coll.MinValue || value > coll.MaxValue {
		return false, protocol.Errf(protocol.CodeInvalidParameters,
			"value %d outside collection bounds [%d, %d]", value, coll.MinValue, coll.MaxValue)
	}

	if err := e.appraisals.AppendSubmission(ctx, requestID, storage.Submission{
		Appraiser: submitter,
		Value:     value,
	}); err != nil {
		return false, err
	}

	submitted := len(req.Submissions) + 1
	required, err := e.requiredSubmissions(ctx, req.Collection)
	if err != nil {
		return false, err
	}

	e.logger.Info().Uint64("request", requestID).
		Str("appraiser", submitter.Hex()).
		Int("submitted", submitted).
		Int("required", required).
		Msg("appraisal submitted")

	if submitted < required {
		return false, nil
	}

	values := make([]uint64, 0, submitted)
	for _, sub := range req.Submissions {
		values = append(values, sub.Value)
	}
	values = append(values, value)

	final := meanValue(values)
	if err := e.appraisals.FinalizeAppraisal(ctx, requestID, final); err != nil {
		return false, err
	}

	e.logger.Info().Uint64("request", requestID).
		Uint64("final_value", final).
		Int("submissions", submitted).
		Msg("appraisal finalized")
	return true, nil
}

// requiredSubmissions is the finalization threshold for a collection: every
// authorized appraiser, capped at the configured quorum.
func (e *Engine) requiredSubmissions(ctx context.Context, collection string) (int, error) {
	count, err := e.appraisers.CountAppraisers(ctx, collection)
	if err != nil {
		return 0, err
	}
	required := count
	if e.opts.Quorum < required {
		required = e.opts.Quorum
	}
	if required < 1 {
		required = 1
	}
	return required, nil
}

// meanValue is the canonical aggregate: arithmetic mean with truncating
// integer division. Order-independent by construction. The sum is kept at
// 128 bits so collections permitting large values cannot wrap it; its high
// word stays below len(values), which keeps the division in range.
func meanValue(values []uint64) uint64 {
	var hi, lo uint64
	for _, v := range values {
		var carry uint64
		lo, carry = bits.Add64(lo, v, 0)
		hi += carry
	}
	mean, _ := bits.Div64(hi, lo, uint64(len(values)))
	return mean
}

// SubmitOracleData appends one observation. Each call is an independent
// fact; the only gates are oracle authorization and timestamp monotonicity.
func (e *Engine) SubmitOracleData(ctx context.Context, oracleID, perilType, location string, magnitude decimal.Decimal, timestamp int64) error {
	oracle, err := e.oracles.GetOracle(ctx, oracleID)
	if errors.Is(err, protocol.ErrNotFound) {
		return protocol.Errf(protocol.CodeUnauthorized, "oracle %q not registered", oracleID)
	}
	if err != nil {
		return err
	}
	if !oracle.Active {
		return protocol.Errf(protocol.CodeUnauthorized, "oracle %q inactive", oracleID)
	}
	if oracle.PerilType != perilType {
		return protocol.Errf(protocol.CodeUnauthorized,
			"oracle %q reports %q, not %q", oracleID, oracle.PerilType, perilType)
	}
	if timestamp <= oracle.LastTimestamp {
		return protocol.Errf(protocol.CodeInvalidTimestamp,
			"timestamp %d not after watermark %d", timestamp, oracle.LastTimestamp)
	}

	if err := e.oracleData.AppendOracleData(ctx, storage.OracleDataPoint{
		OracleID:  oracleID,
		PerilType: perilType,
		Location:  location,
		Magnitude: magnitude,
		Timestamp: timestamp,
	}); err != nil {
		return err
	}
	if err := e.oracles.SetOracleTimestamp(ctx, oracleID, timestamp); err != nil {
		return err
	}

	e.logger.Info().Str("oracle", oracleID).
		Str("peril", perilType).
		Str("location", location).
		Str("magnitude", magnitude.String()).
		Int64("ts", timestamp).
		Msg("oracle data accepted")
	return nil
}

// ExpireStaleAppraisals lazily expires pending requests older than the TTL.
// Returns the number of requests expired.
func (e *Engine) ExpireStaleAppraisals(ctx context.Context, height uint64) (int, error) {
	if e.opts.AppraisalTTLBlocks == 0 {
		return 0, nil
	}
	pending, err := e.appraisals.ListPendingAppraisals(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, req := range pending {
		if height <= req.CreatedAtHeight+e.opts.AppraisalTTLBlocks {
			continue
		}
		if err := e.appraisals.ExpireAppraisal(ctx, req.ID); err != nil {
			return expired, err
		}
		expired++
		e.logger.Info().Uint64("request", req.ID).Msg("stale appraisal expired")
	}
	return expired, nil
}

// Appraisal returns a request with its submissions.
func (e *Engine) Appraisal(ctx context.Context, id uint64) (storage.AppraisalRequest, error) {
	return e.appraisals.GetAppraisalRequest(ctx, id)
}
