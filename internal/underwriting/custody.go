package underwriting

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Custodian is the external custody collaborator holding collateral NFTs
// for the lifetime of a loan. The core only issues instructions; transfer
// mechanics live outside this module.
type Custodian interface {
	Lock(ctx context.Context, nftContract common.Address, itemID string, owner common.Address) error
	Release(ctx context.Context, nftContract common.Address, itemID string, owner common.Address) error
	Seize(ctx context.Context, nftContract common.Address, itemID string) error
}

// LogCustodian records custody instructions without moving anything. Used
// when no custody integration is configured.
type LogCustodian struct {
	logger zerolog.Logger
}

// NewLogCustodian builds a log-only custodian.
func NewLogCustodian(logger zerolog.Logger) *LogCustodian {
	return &LogCustodian{logger: logger.With().Str("component", "custody").Logger()}
}

func (c *LogCustodian) Lock(_ context.Context, nftContract common.Address, itemID string, owner common.Address) error {
	c.logger.Info().Str("nft", nftContract.Hex()).Str("item", itemID).
		Str("owner", owner.Hex()).Msg("collateral locked")
	return nil
}

func (c *LogCustodian) Release(_ context.Context, nftContract common.Address, itemID string, owner common.Address) error {
	c.logger.Info().Str("nft", nftContract.Hex()).Str("item", itemID).
		Str("owner", owner.Hex()).Msg("collateral released")
	return nil
}

func (c *LogCustodian) Seize(_ context.Context, nftContract common.Address, itemID string) error {
	c.logger.Info().Str("nft", nftContract.Hex()).Str("item", itemID).
		Msg("collateral seized")
	return nil
}

var _ Custodian = (*LogCustodian)(nil)
