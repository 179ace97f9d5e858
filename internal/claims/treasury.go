package claims

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Treasury is the external value-transfer collaborator: it collects
// premiums from the insured and pays out coverage. Token custody lives
// outside this module.
type Treasury interface {
	Collect(ctx context.Context, from common.Address, amount uint64) error
	Pay(ctx context.Context, to common.Address, amount uint64) error
}

// LogTreasury records transfer instructions without moving value. Used when
// no treasury integration is configured.
type LogTreasury struct {
	logger zerolog.Logger
}

// NewLogTreasury builds a log-only treasury.
func NewLogTreasury(logger zerolog.Logger) *LogTreasury {
	return &LogTreasury{logger: logger.With().Str("component", "treasury").Logger()}
}

func (t *LogTreasury) Collect(_ context.Context, from common.Address, amount uint64) error {
	t.logger.Info().Str("from", from.Hex()).Uint64("amount", amount).Msg("premium collected")
	return nil
}

func (t *LogTreasury) Pay(_ context.Context, to common.Address, amount uint64) error {
	t.logger.Info().Str("to", to.Hex()).Uint64("amount", amount).Msg("payout sent")
	return nil
}

var _ Treasury = (*LogTreasury)(nil)
