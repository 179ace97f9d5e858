// Package chain provides the block height the protocol stamps onto loans,
// appraisals, and policies. Heights come from an Ethereum node when an RPC
// URL is configured, or are derived from wall-clock time otherwise.
package chain

import (
	"context"
	"errors"
	"time"
)

// Source yields the current block height.
type Source interface {
	Height(ctx context.Context) (uint64, error)
}

// Interval derives heights from elapsed time since a genesis instant. Used
// when no Ethereum RPC is configured; heights stay monotonic as long as the
// host clock does.
type Interval struct {
	genesis  time.Time
	interval time.Duration
	now      func() time.Time
}

// NewInterval builds a time-derived height source.
func NewInterval(genesisUnix int64, interval time.Duration) (*Interval, error) {
	if interval <= 0 {
		return nil, errors.New("block interval must be positive")
	}
	genesis := time.Unix(genesisUnix, 0).UTC()
	if genesisUnix == 0 {
		genesis = time.Now().UTC()
	}
	return &Interval{genesis: genesis, interval: interval, now: time.Now}, nil
}

// Height reports elapsed intervals since genesis.
func (s *Interval) Height(context.Context) (uint64, error) {
	elapsed := s.now().UTC().Sub(s.genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / s.interval), nil
}

var _ Source = (*Interval)(nil)
