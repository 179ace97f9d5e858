package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// EthereumOptions parameterise the RPC-backed height source.
type EthereumOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Ethereum reads the chain tip height from an Ethereum node. The client is
// dialled lazily on first use and reused afterwards.
type Ethereum struct {
	opts      EthereumOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewEthereum builds an RPC-backed height source.
func NewEthereum(opts EthereumOptions, logger zerolog.Logger) *Ethereum {
	return &Ethereum{opts: opts, logger: logger.With().Str("component", "chain").Logger()}
}

// Height fetches the current block number.
func (e *Ethereum) Height(ctx context.Context) (uint64, error) {
	if e.opts.RPCURL == "" {
		return 0, errors.New("ethereum rpc url not configured")
	}

	timeout := e.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.getClient(ctx)
	if err != nil {
		return 0, err
	}

	height, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return height, nil
}

func (e *Ethereum) getClient(ctx context.Context) (*ethclient.Client, error) {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	client, err := ethclient.DialContext(ctx, e.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

var _ Source = (*Ethereum)(nil)
