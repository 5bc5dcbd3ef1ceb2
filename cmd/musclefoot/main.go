// musclefoot is the $MUSCLEFOOT game server. It runs the progression and
// energy state machine, save reconciliation and the on-chain payment
// coordinator for every player, behind the JSON API the chat-host shell
// calls.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/musclefoot/musclefoot/internal/admin"
	"github.com/musclefoot/musclefoot/internal/api"
	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/config"
	"github.com/musclefoot/musclefoot/internal/game"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/payment"
	"github.com/musclefoot/musclefoot/internal/remote"
	"github.com/musclefoot/musclefoot/internal/server"
	"github.com/musclefoot/musclefoot/internal/solana"
)

func main() {
	flags, err := server.ParseFlags("musclefoot", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if flags.Port != 0 {
		cfg.Server.Port = flags.Port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config %s:\n%v", flags.ConfigPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flags.Verbose); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, verbose bool) error {
	srv := server.New(server.Options{
		Name:        "musclefoot",
		Port:        cfg.Server.Port,
		Verbose:     verbose,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	logger := srv.Logger

	// Local cache
	var local cache.Cache = cache.NewMemory()
	if cfg.Storage.CachePath != "" {
		db, err := cache.OpenSQLite(cfg.Storage.CachePath)
		if err != nil {
			return err
		}
		defer db.Close()
		local = db
		logger.Info("using sqlite cache", "path", cfg.Storage.CachePath)
	} else {
		logger.Warn("no storage.cache_path set, local state will not survive a restart")
	}

	// Remote save and withdrawal records
	var backend game.Backend
	if cfg.Storage.DatabaseURL != "" {
		pg, err := remote.OpenPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		backend = pg
		logger.Info("using postgres remote save")
	} else {
		backend = remote.NewMemory()
		logger.Warn("no storage.database_url set, using in-memory remote save")
	}

	var clk clock.Clock = clock.Real{}
	var sim *clock.Sim
	if cfg.Admin.SimulatedClock {
		sim = clock.NewSim()
		clk = sim
		logger.Warn("simulated clock enabled, /admin/time/advance moves game time")
	}

	rpc := solana.NewClient(cfg.Solana.RPCURL,
		solana.WithRateLimit(cfg.Solana.RequestsPerSecond, cfg.Solana.Burst),
		solana.WithCommitment(cfg.Solana.Commitment),
	)

	gameCfg, err := gameConfig(cfg)
	if err != nil {
		return err
	}
	games := game.NewManager(gameCfg, game.Deps{
		Cache:   local,
		Backend: backend,
		RPC:     rpc,
		Clock:   clk,
		Logger:  logger,
	})

	tokens := host.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	// API handlers
	api.NewHandler(games, tokens, srv.Middleware(), logger).Routes(srv.Router)

	// Admin control plane
	if cfg.Admin.Enabled {
		if cfg.Admin.Secret == "" {
			logger.Warn("admin endpoints enabled without a secret")
		}
		admin.NewHandler(games, srv.Middleware(), sim, tokens, cfg.Admin.Secret).Routes(srv.Router)
	}

	logger.Info("musclefoot ready",
		"port", cfg.Server.Port,
		"rpc", cfg.Solana.RPCURL,
		"receiver", cfg.Solana.Receiver,
		"admin", cfg.Admin.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error { return games.Run(gctx) })
	err = g.Wait()

	// Flush every session to the remote save before the stores close.
	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	games.Close(closeCtx)
	logger.Info("musclefoot stopped", "sessions", len(games.Sessions()))
	return err
}

func gameConfig(cfg *config.Config) (game.Config, error) {
	receiver, err := cfg.ReceiverKey()
	if err != nil {
		return game.Config{}, err
	}
	fee, err := cfg.FeeBufferSOL()
	if err != nil {
		return game.Config{}, err
	}

	out := game.DefaultConfig(receiver)
	out.Payment = payment.Config{
		Receiver:     receiver,
		FeeBuffer:    fee,
		PollAttempts: cfg.Payment.PollAttempts,
		PollInterval: cfg.Payment.PollInterval,
		LateWindow:   cfg.Payment.LateReconcileWindow,
	}
	out.QueueLimit = cfg.Sync.QueueLimit
	out.FeedSize = cfg.Sync.FeedSize
	out.TickInterval = cfg.Sync.TickInterval
	out.AutosaveInterval = cfg.Sync.AutosaveInterval
	out.DrainInterval = cfg.Sync.DrainInterval
	out.BalanceInterval = cfg.Sync.BalanceInterval
	return out, nil
}
