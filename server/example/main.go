package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyp0633/calsched/internal/config"
	"github.com/cyp0633/calsched/internal/logging"
	"github.com/cyp0633/calsched/server/auth"
	authmem "github.com/cyp0633/calsched/server/auth/memory"
	"github.com/cyp0633/calsched/server/handlers"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/cyp0633/calsched/server/scheduling"
	"github.com/cyp0633/calsched/server/storage"
)

const serverRealm = "calsched Example Server"

func main() {
	configPath := flag.String("config", "calsched.yaml", "Path to config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config if set)")
	demo := flag.Bool("seed", false, "Store a demo meeting in the first mailbox")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config_path", *configPath)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *demo, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, demo bool, logger *slog.Logger) error {
	invite.ProductID = cfg.ProductID

	engine := recurrence.NewEngineWithConfig(cfg.EngineConfig())
	defer engine.Close()

	st, err := openStore(ctx, cfg.Store, engine)
	if err != nil {
		return err
	}
	defer st.close()

	accounts := cfg.Accounts
	if len(accounts) == 0 {
		logger.Warn("no accounts configured, using demo accounts")
		accounts = demoAccounts
	}
	users := authmem.New(authmem.WithLogger(logger))
	if err := setupAccounts(ctx, st, users, accounts, logger); err != nil {
		return err
	}

	if cfg.SpoolDir != "" {
		if err := os.MkdirAll(cfg.SpoolDir, 0o700); err != nil {
			return fmt.Errorf("failed to create spool directory: %w", err)
		}
	}
	if cfg.Outbox != "" {
		if err := os.MkdirAll(cfg.Outbox, 0o700); err != nil {
			return fmt.Errorf("failed to create outbox: %w", err)
		}
	}
	opts := scheduling.Options{
		SpoolDir: cfg.SpoolDir,
		Engine:   engine,
		Logger:   logger,
	}
	if cfg.ValidateRecipients {
		opts.Relay = newDomainRelay(cfg.RelayDomains)
	}
	sched := scheduling.New(st, storage.NewLocks(), &outbox{dir: cfg.Outbox, logger: logger}, opts)

	if demo {
		if err := seed(ctx, sched, accounts); err != nil {
			return err
		}
	}

	router := handlers.NewRouter(sched, st, cfg.BaseURI, logger)
	mux := http.NewServeMux()
	mux.Handle(cfg.BaseURI+"/", auth.Middleware(users, serverRealm, cfg.BaseURI)(router))
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	if cfg.BaseURI != "" {
		mux.HandleFunc("/", handleRoot(cfg))
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("starting calsched server",
			"listen", cfg.Listen,
			"base_uri", cfg.BaseURI,
			"store", cfg.Store.Kind)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}

// handleRoot provides a basic landing page with instructions
func handleRoot(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, `calsched example server

Routes, authenticated with HTTP basic auth:

  PUT    %[1]s/{mailbox}/items?notify=1             store a text/calendar body
  GET    %[1]s/{mailbox}/items/{id}/instances?start=&end=
  DELETE %[1]s/{mailbox}/items/{id}[?rid=&notify=1] cancel an item or occurrence
  POST   %[1]s/{mailbox}/items/{id}/attendees       add or remove attendees
`, cfg.BaseURI)
	}
}
