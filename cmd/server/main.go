// Package main runs the vault engine: HTTP API, metrics endpoint and, when a
// price feed is configured, the keeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"autotp/internal/api"
	"autotp/internal/config"
	"autotp/internal/keeper"
	"autotp/internal/ledger"
	"autotp/internal/observability"
	"autotp/internal/pricefeed"
	"autotp/internal/referral"
	"autotp/internal/storage"
	chstore "autotp/internal/storage/clickhouse"
	"autotp/internal/storage/memory"
	"autotp/internal/storage/migrations"
	pgstore "autotp/internal/storage/postgres"
	"autotp/internal/storage/sqlite"
	"autotp/internal/vault"
)

const shutdownTimeout = 30 * time.Second

// Server holds the wired components.
type Server struct {
	cfg    *config.Config
	keys   *config.Keys
	logger zerolog.Logger

	controller *vault.Controller
	referrals  *referral.Service
	cleanup    []func()
}

// backends are the stores selected by configuration.
type backends struct {
	vaults      storage.VaultStore
	settlements storage.SettlementStore
	ledger      ledger.Ledger
	cleanup     []func()
}

func main() {
	configPath := flag.String("config", os.Getenv("AUTOTP_CONFIG"), "Path to TOML config file")
	httpAddr := flag.String("http-addr", "", "Override HTTP API address")
	metricsAddr := flag.String("metrics-addr", "", "Override Prometheus metrics address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger := observability.NewLogger("autotp", cfg.LogLevel, cfg.LogConsole)

	keys, err := cfg.Validate()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := newServer(ctx, cfg, keys, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer server.Close()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Warn().Dur("timeout", shutdownTimeout).Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}

func newServer(ctx context.Context, cfg *config.Config, keys *config.Keys, logger zerolog.Logger) (*Server, error) {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := vault.NewRegistry(keys.ProgramID, b.vaults)
	controller := vault.NewController(registry, b.ledger, b.settlements, vault.ControllerConfig{
		ProtocolTreasury: keys.ProtocolTreasury,
		Fees:             vault.FeePolicy{LegacyReferrerLeak: cfg.LegacyReferrerLeak},
	}, logger)

	return &Server{
		cfg:        cfg,
		keys:       keys,
		logger:     logger,
		controller: controller,
		referrals:  referral.NewService(registry, b.settlements),
		cleanup:    b.cleanup,
	}, nil
}

// openBackends connects the configured storage. On error every connection
// opened so far is closed.
func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			closeAll(b.cleanup)
		}
	}()

	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.DefaultPoolOptions())
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		b.cleanup = append(b.cleanup, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		b.vaults = pgstore.NewVaultStore(pool)
		b.ledger = pgstore.NewLedger(pool)

	case config.StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b.cleanup = append(b.cleanup, func() { _ = store.Close() })
		b.vaults = store
		b.ledger = ledger.NewMemoryLedger()
		logger.Warn().Msg("sqlite storage keeps custodial balances in memory")

	default:
		b.vaults = memory.NewVaultStore()
		b.ledger = ledger.NewMemoryLedger()
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		b.cleanup = append(b.cleanup, func() { _ = conn.Close() })
		b.settlements = chstore.NewSettlementStore(conn)
	} else {
		b.settlements = memory.NewSettlementStore()
	}

	logger.Info().
		Str("storage", cfg.Storage).
		Bool("clickhouse", cfg.ClickhouseDSN != "").
		Msg("storage ready")
	return b, nil
}

func closeAll(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Close releases storage connections.
func (s *Server) Close() {
	closeAll(s.cleanup)
}

// Run serves until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	apiServer := &http.Server{
		Addr: s.cfg.HTTPAddr,
		Handler: api.NewServer(s.controller, s.referrals, api.Options{
			PriceDecimals:  s.cfg.PriceDecimals,
			AllowDeposits:  s.cfg.AllowDeposits,
			PublicURL:      s.cfg.PublicURL,
			PriceAuthority: s.keys.KeeperIdentity,
		}, s.logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.serve(apiServer, "api", errCh)

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	metricsServer := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go s.serve(metricsServer, "metrics", errCh)

	if s.cfg.KeeperEnabled() {
		feedCfg := pricefeed.DefaultWSConfig()
		feedCfg.Decimals = s.cfg.PriceDecimals
		feed, err := pricefeed.NewWSClient(ctx, s.cfg.PriceFeedURL, &feedCfg, s.logger)
		if err != nil {
			return fmt.Errorf("connect price feed: %w", err)
		}
		defer feed.Close()

		k := keeper.New(feed, s.controller, s.keys.KeeperIdentity, s.keys.KeeperMints, s.logger)
		go func() {
			if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("keeper: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	shutdownErr := errors.Join(apiServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	if shutdownErr != nil {
		s.logger.Error().Err(shutdownErr).Msg("http shutdown")
	}
	return runErr
}

func (s *Server) serve(srv *http.Server, name string, errCh chan<- error) {
	s.logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}
