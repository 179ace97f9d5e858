package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lendsure/internal/alerting"
	"lendsure/internal/chain"
	"lendsure/internal/claims"
	"lendsure/internal/config"
	"lendsure/internal/consensus"
	"lendsure/internal/core"
	"lendsure/internal/pricing"
	"lendsure/internal/registry"
	"lendsure/internal/scheduler"
	"lendsure/internal/server"
	"lendsure/internal/service"
	"lendsure/internal/storage"
	"lendsure/internal/underwriting"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openBackend returns the configured persistence backend. Without a DSN the
// node runs on the in-memory backend, which does not survive restarts.
func (a *App) openBackend(ctx context.Context) (storage.Backend, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory state")
		return storage.NewMemStore(), nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newChainSource() (chain.Source, error) {
	if a.Config.Chain.RPCURL != "" {
		return chain.NewEthereum(chain.EthereumOptions{
			RPCURL:  a.Config.Chain.RPCURL,
			Timeout: a.Config.Chain.RequestTimeout,
		}, a.Logger), nil
	}
	return chain.NewInterval(a.Config.Chain.GenesisUnix, a.Config.Chain.BlockInterval)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// buildCore wires the protocol engines over the given backend.
func (a *App) buildCore(backend storage.Backend) (*core.Core, error) {
	source, err := a.newChainSource()
	if err != nil {
		return nil, err
	}

	admin := a.Config.AdminAddress()
	reg := registry.New(admin, backend, underwriting.KnownCurve, a.Logger)
	cons := consensus.New(backend, consensus.Options{
		Quorum:             a.Config.Consensus.Quorum,
		AppraisalTTLBlocks: a.Config.Consensus.AppraisalTTLBlocks,
	}, a.Logger)
	custodian := underwriting.NewLogCustodian(a.Logger)
	uw := underwriting.New(backend, custodian, underwriting.Bounds{
		MinDurationBlocks: a.Config.Underwriting.MinDurationBlocks,
		MaxDurationBlocks: a.Config.Underwriting.MaxDurationBlocks,
		BlocksPerYear:     a.Config.Underwriting.BlocksPerYear,
	}, a.Logger)
	pricer := pricing.New(backend, a.Logger)
	treasury := claims.NewLogTreasury(a.Logger)
	evaluator := claims.New(backend, pricer, treasury, a.Logger)

	return core.New(core.Deps{
		Registry:     reg,
		Consensus:    cons,
		Underwriting: uw,
		Pricing:      pricer,
		Claims:       evaluator,
		Chain:        source,
		Backend:      backend,
	}, a.Logger), nil
}

// Serve runs the HTTP API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, closeBackend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	if closeBackend != nil {
		defer closeBackend()
	}

	c, err := a.buildCore(backend)
	if err != nil {
		return err
	}

	srv := server.New(a.Config.Server, c, a.Logger)

	a.Logger.Info().Msg("starting api server")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("api server terminated with error")
		return err
	}

	a.Logger.Info().Msg("api server stopped")
	return nil
}

// Monitor runs the background claim monitor until interrupted.
func (a *App) Monitor(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, closeBackend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	if closeBackend != nil {
		defer closeBackend()
	}

	c, err := a.buildCore(backend)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Monitor.Interval,
		AlignToStart: a.Config.Monitor.AlignToInterval,
		StartupDelay: a.Config.Monitor.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, c, backend, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting claim monitor")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("claim monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("claim monitor stopped")
	return nil
}

// ExportOptions hold parameters for exporting oracle observations.
type ExportOptions struct {
	PerilType string
	Location  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
