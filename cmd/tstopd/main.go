// Command tstopd runs the synthetic dynamic trailing-stop engine: it
// watches live trade prices for one or more pairs and keeps each
// position's stop-limit order ratcheted up behind the high-water mark,
// reconciling against the venue on startup and on a timer.
//
// Wiring follows chidi150c-coinbase/main.go's boot sequence (env/config
// load -> component wiring -> /metrics server -> signal-driven shutdown),
// restructured around spf13/cobra subcommands in the idiom of
// NimbleMarkets-dbn-go/cmd/dbn-go-hist.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chidi150c/tstopd/internal/config"
	"github.com/chidi150c/tstopd/internal/execution"
	"github.com/chidi150c/tstopd/internal/portfolio"
	"github.com/chidi150c/tstopd/internal/runtime"
	"github.com/chidi150c/tstopd/internal/store"
	"github.com/chidi150c/tstopd/internal/venue"
)

var (
	configPath string
	envPath    string
	httpAddr   string
)

func main() {
	root := &cobra.Command{
		Use:   "tstopd",
		Short: "Synthetic dynamic trailing-stop engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "path to .env file (optional)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live trading loop",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&httpAddr, "http-addr", ":9090", "address to serve /metrics and /healthz on")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE:  runMigrate,
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation pass across all configured pairs and exit",
		RunE:  runReconcile,
	}

	smokeCmd := &cobra.Command{
		Use:   "smoke",
		Short: "Verify venue credentials can sign and reach an endpoint, without placing an order",
		RunE:  runSmoke,
	}

	root.AddCommand(runCmd, migrateCmd, reconcileCmd, smokeCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Persistence.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func loadAll() (*config.Config, zerolog.Logger, error) {
	if err := config.LoadEnvFile(envPath); err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

// buildOrchestrator wires a Store, venue.Client, execution.Engine per
// configured pair, and a portfolio.Orchestrator over all of them.
func buildOrchestrator(cfg *config.Config, log zerolog.Logger) (*portfolio.Orchestrator, *store.Store, error) {
	st, err := store.Open(cfg.Persistence.DBPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	creds, err := config.LoadCredentials("")
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("load credentials: %w", err)
	}

	manager := portfolio.NewManager(portfolio.Config{
		TotalCapital:                cfg.Portfolio.TotalCapital,
		MaxPositionSizePct:          cfg.Portfolio.MaxPositionSizePct,
		MaxPositions:                cfg.Portfolio.MaxPositions,
		MaxCorrelatedExposurePct:    cfg.Portfolio.MaxCorrelatedExposurePct,
		RebalanceThresholdPct:       cfg.Portfolio.RebalanceThresholdPct,
		EmergencyLiquidationLossPct: cfg.Portfolio.EmergencyLiquidationLossPct,
	})
	orch := portfolio.NewOrchestrator(manager, log)

	pairs := cfg.Pairs
	if len(pairs) == 0 {
		pairs = []config.PairConfig{{
			ProductID:       cfg.Exchange.ProductID,
			Enabled:         true,
			PositionSizePct: cfg.Portfolio.MaxPositionSizePct,
			TrailPct:        cfg.Strategy.TrailPct,
		}}
	}

	for _, pc := range pairs {
		if !pc.Enabled {
			continue
		}
		adapter, err := venue.NewClient(venue.ClientConfig{
			BaseURL:           cfg.Exchange.BaseURL,
			ProductID:         pc.ProductID,
			APIKey:            creds.APIKey,
			APISecretBase64:   creds.APISecret,
			APIPassphrase:     creds.APIPassphrase,
			Timeout:           time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
			MaxRetries:        cfg.Exchange.MaxRetries,
			MaxBackoffSeconds: cfg.Exchange.MaxBackoffSeconds,
		}, log)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("build venue client for %s: %w", pc.ProductID, err)
		}

		trailPct := pc.TrailPct
		if trailPct.IsZero() {
			trailPct = cfg.Strategy.TrailPct
		}
		engine := execution.New(execution.Config{
			PairID:             pc.ProductID,
			ProductID:          pc.ProductID,
			TrailPct:           trailPct,
			StopLimitBufferPct: cfg.Strategy.StopLimitBufferPct,
			MinRatchet:         cfg.Strategy.MinRatchet,
			AggressiveDelta:    cfg.Strategy.AggressiveDelta,
			StopTimeout:        cfg.Strategy.StopTimeout(),
		}, adapter, st, log)

		if err := orch.RegisterPair(portfolio.PairConfig{
			ProductID:        pc.ProductID,
			Enabled:          true,
			PositionSizePct:  pc.PositionSizePct,
			TrailPct:         pc.TrailPct,
			CorrelationGroup: pc.CorrelationGroup,
		}, engine); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("register pair %s: %w", pc.ProductID, err)
		}
	}

	return orch, st, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadAll()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Persistence.DBPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	log.Info().Msg("migrations applied")
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadAll()
	if err != nil {
		return err
	}
	orch, st, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.StartupReconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	log.Info().Msg("reconciliation complete")
	return nil
}

// runSmoke validates that configured credentials can sign and reach the
// venue, without placing an order. Adapted from
// chidi150c-coinbase/smoke_coinbase.go's standalone connectivity check
// (env vars in, one broker call out, exit 1 on failure).
func runSmoke(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadAll()
	if err != nil {
		return err
	}
	creds, err := config.LoadCredentials("")
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	client, err := venue.NewClient(venue.ClientConfig{
		BaseURL:         cfg.Exchange.BaseURL,
		ProductID:       cfg.Exchange.ProductID,
		APIKey:          creds.APIKey,
		APISecretBase64: creds.APISecret,
		APIPassphrase:   creds.APIPassphrase,
		Timeout:         10 * time.Second,
	}, log)
	if err != nil {
		return fmt.Errorf("build venue client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.GetOrderStatus(ctx, "smoke-check-nonexistent-order"); err != nil {
		return fmt.Errorf("smoke check failed: %w", err)
	}
	fmt.Println("OK: signed request reached the venue")
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadAll()
	if err != nil {
		return err
	}
	orch, st, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", httpAddr).Msg("serving /metrics and /healthz")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	productIDs := make([]string, 0, len(cfg.Pairs))
	for _, pc := range cfg.Pairs {
		if pc.Enabled {
			productIDs = append(productIDs, pc.ProductID)
		}
	}
	if len(productIDs) == 0 {
		productIDs = []string{cfg.Exchange.ProductID}
	}
	trades := venue.NewPriceFeed(cfg.Exchange.BaseURL, productIDs, 2*time.Second, log)

	runner := runtime.New(runtime.DefaultConfig(), orch, trades, log)
	if err := runner.Run(ctx); err != nil {
		log.Error().Err(err).Msg("runtime loop exited with error")
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}
