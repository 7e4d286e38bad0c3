package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sajjadsiam/kalki-protocol/internal/chain"
	"github.com/sajjadsiam/kalki-protocol/internal/coordinator"
	"github.com/sajjadsiam/kalki-protocol/internal/domain"
	"github.com/sajjadsiam/kalki-protocol/internal/server"
	"github.com/sajjadsiam/kalki-protocol/internal/server/handler"
	"github.com/sajjadsiam/kalki-protocol/internal/server/ws"
	"github.com/sajjadsiam/kalki-protocol/internal/watcher"
)

// AgentMode runs the watcher and coordinator, the periodic stats log and,
// when enabled, the HTTP API. After ctx is cancelled it waits for in-flight
// jobs up to the shutdown grace.
func (a *App) AgentMode(ctx context.Context, deps *Dependencies) error {
	coord, err := coordinator.New(a.coordinatorDeps(deps), coordinator.Config{
		MaxRetries:     a.cfg.Resolver.MaxRetries,
		RetryBaseDelay: a.cfg.Resolver.RetryBaseDelay.Duration,
		RetryMaxDelay:  a.cfg.Resolver.RetryMaxDelay.Duration,
		LockTTL:        a.cfg.Resolver.LockTTL.Duration,
		ShutdownGrace:  a.cfg.Resolver.ShutdownGrace.Duration,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("agent mode: %w", err)
	}

	w := watcher.New(deps.Chain, deps.Chain.Address(), deps.Cursors, watcher.Config{
		PollInterval: a.cfg.Watcher.PollInterval.Duration,
		ErrorBackoff: a.cfg.Watcher.ErrorBackoff.Duration,
		DedupTTL:     a.cfg.Watcher.DedupTTL.Duration,
	}, a.logger)

	a.banner(ctx, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coord.Consume(gctx, w.Stream(gctx))
		return nil
	})
	g.Go(func() error {
		a.statsLoop(gctx, deps.Chain, deps.Chain.Address(), coord)
		return nil
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, coord)
	}

	runErr := g.Wait()

	active, _, _ := coord.Counts()
	if active > 0 {
		a.logger.Info("waiting for in-flight resolutions", slog.Int("active", active))
	}
	if err := coord.Wait(context.Background()); err != nil {
		a.logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// coordinatorDeps converts the optional concrete backends into interface
// values, leaving disabled ones as untyped nil.
func (a *App) coordinatorDeps(deps *Dependencies) coordinator.Deps {
	cd := coordinator.Deps{
		Chain:    deps.Chain,
		Evidence: deps.Evidence,
		Store:    deps.Store,
		Audit:    deps.Audit,
		Locks:    deps.Locks,
	}
	if deps.Archive != nil {
		cd.Archive = deps.Archive
	}
	if deps.Bus != nil {
		cd.Bus = deps.Bus
	}
	if deps.Notifier != nil {
		cd.Notifier = deps.Notifier
	}
	return cd
}

// registrar is the part of the chain client RegisterMode uses.
type registrar interface {
	domain.Registrar
	WaitForReceipt(ctx context.Context, txHash string) (domain.Receipt, error)
}

// RegisterMode stakes agent.register_stake BNB and registers the agent.
func (a *App) RegisterMode(ctx context.Context, deps *Dependencies) error {
	return a.register(ctx, deps.Chain, a.cfg.Agent.RegisterStake)
}

func (a *App) register(ctx context.Context, reg registrar, stake string) error {
	wei, err := chain.ToWei(stake)
	if err != nil {
		return fmt.Errorf("register: stake: %w", err)
	}
	if wei.Sign() <= 0 {
		return fmt.Errorf("register: stake must be positive, got %q", stake)
	}

	a.logger.InfoContext(ctx, "registering agent",
		slog.String("stake", chain.FromWei(wei)),
		slog.String("stake_wei", wei.String()),
	)
	txHash, err := reg.RegisterAgent(ctx, wei)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.logger.InfoContext(ctx, "registration sent", slog.String("tx_hash", txHash))

	receipt, err := reg.WaitForReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("register: tx %s: %w", txHash, domain.ErrTxReverted)
	}

	a.logger.InfoContext(ctx, "agent registered",
		slog.String("tx_hash", txHash),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	fmt.Fprintf(a.out, "registered with %s BNB stake (tx %s)\n", chain.FromWei(wei), txHash)
	return nil
}

// StatsMode prints the agent's on-chain statistics.
func (a *App) StatsMode(ctx context.Context, deps *Dependencies) error {
	return a.printStats(ctx, deps.Chain, deps.Chain.Address())
}

func (a *App) printStats(ctx context.Context, stats domain.StatsReader, address string) error {
	s, err := stats.AgentStats(ctx, address)
	if err != nil {
		// Stats are still printed as zeroes; the caller sees the error.
		a.logger.WarnContext(ctx, "agent stats unavailable", slog.String("error", err.Error()))
	}
	stake := s.Stake
	if stake == nil {
		stake = new(big.Int)
	}

	fmt.Fprintf(a.out, "Agent:             %s\n", address)
	fmt.Fprintf(a.out, "Stake:             %s BNB\n", chain.FromWei(stake))
	fmt.Fprintf(a.out, "Reputation:        %d\n", s.Reputation)
	fmt.Fprintf(a.out, "Total resolutions: %d\n", s.TotalResolutions)
	fmt.Fprintf(a.out, "Accuracy:          %d%%\n", s.Accuracy)
	return err
}

// banner logs the effective setup once at startup.
func (a *App) banner(ctx context.Context, deps *Dependencies) {
	a.logger.InfoContext(ctx, "kalki agent started",
		slog.String("agent", deps.Chain.Address()),
		slog.String("contract", a.cfg.Chain.ContractAddress),
		slog.String("rpc_url", a.cfg.Chain.RPCURL),
		slog.Duration("poll_interval", a.cfg.Watcher.PollInterval.Duration),
		slog.Bool("postgres", deps.Store != nil),
		slog.Bool("redis", deps.Bus != nil),
		slog.Bool("s3", deps.Archive != nil),
		slog.Bool("notify", deps.Notifier != nil),
		slog.Bool("http", a.cfg.Server.Enabled),
	)
	if deps.Evidence != nil {
		for _, cat := range deps.Evidence.Registry().Categories() {
			names := make([]string, 0, 3)
			for _, src := range deps.Evidence.Registry().Sources(cat) {
				names = append(names, src.Name())
			}
			a.logger.InfoContext(ctx, "evidence sources",
				slog.String("category", string(cat)),
				slog.Any("sources", names),
			)
		}
	}
}

// jobCounter is the slice of the coordinator the stats loop reports on.
type jobCounter interface {
	Counts() (active, committed, failed int)
}

// statsLoop logs on-chain stats and local job counts every
// agent.stats_interval until ctx ends.
func (a *App) statsLoop(ctx context.Context, stats domain.StatsReader, address string, jobs jobCounter) {
	interval := a.cfg.Agent.StatsInterval.Duration
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.logStats(ctx, stats, address, jobs)
		}
	}
}

func (a *App) logStats(ctx context.Context, stats domain.StatsReader, address string, jobs jobCounter) {
	s, err := stats.AgentStats(ctx, address)
	attrs := []any{
		slog.Uint64("reputation", s.Reputation),
		slog.Uint64("total_resolutions", s.TotalResolutions),
		slog.Uint64("accuracy", s.Accuracy),
	}
	if s.Stake != nil {
		attrs = append(attrs, slog.String("stake", chain.FromWei(s.Stake)))
	}
	active, committed, failed := jobs.Counts()
	attrs = append(attrs,
		slog.Int("active_jobs", active),
		slog.Int("committed_jobs", committed),
		slog.Int("failed_jobs", failed),
	)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	a.logger.InfoContext(ctx, "agent stats", attrs...)
}

// startHTTPServer adds the API server and, with Redis, the WebSocket hub to
// g. The server shuts down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, coord *coordinator.Coordinator) {
	h := server.Handlers{
		Health: handler.NewHealthHandler(deps.Chain.Address(), deps.Checks),
		Jobs:   handler.NewJobsHandler(coord),
		Agent:  handler.NewAgentHandler(deps.Chain, deps.Chain.Address(), a.logger),
	}
	if deps.Archive != nil {
		h.Resolutions = handler.NewResolutionHandler(coord, deps.Store, deps.Archive, a.logger)
	} else {
		h.Resolutions = handler.NewResolutionHandler(coord, deps.Store, nil, a.logger)
	}
	if deps.Bus != nil {
		hub := ws.NewHub(deps.Bus, deps.Chain.Address(), a.logger)
		h.Hub = hub
		g.Go(func() error { return hub.Run(ctx) })
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if deps.Limiter != nil {
		srvCfg.Limiter = deps.Limiter
		srvCfg.RateLimit = a.cfg.Server.RateLimitPerMinute
	}
	srv := server.NewServer(srvCfg, h, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
