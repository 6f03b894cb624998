package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/obot-platform/fleetdeck/server/internal/bot"
	"github.com/obot-platform/fleetdeck/server/internal/bot/telegram"
	"github.com/obot-platform/fleetdeck/server/internal/config"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/container/docker"
	"github.com/obot-platform/fleetdeck/server/internal/database"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	"github.com/obot-platform/fleetdeck/server/internal/handler"
	"github.com/obot-platform/fleetdeck/server/internal/logfile"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/middleware"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/registry"
	"github.com/obot-platform/fleetdeck/server/internal/session"
	"github.com/obot-platform/fleetdeck/server/internal/store"
	"github.com/obot-platform/fleetdeck/server/internal/telemetry"
	"github.com/obot-platform/fleetdeck/server/internal/tunnel"
	"github.com/obot-platform/fleetdeck/server/internal/tunnel/ngrok"
	"github.com/obot-platform/fleetdeck/server/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetdeck: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cfg.LogFile != "" {
		if err := logfile.Truncate(cfg.LogFile, logfile.DefaultMaxSize, logfile.DefaultKeepSize); err != nil {
			fmt.Fprintf(os.Stderr, "fleetdeck: %v\n", err)
		}
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:   cfg.OTelServiceName,
		EnableMetrics: cfg.OTelMetrics,
		EnableTraces:  cfg.OTelTraces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// Container engine is optional; custom servers keep working without it.
	var runtime container.Runtime
	if provider, dockerErr := docker.NewProvider(cfg, log); dockerErr != nil {
		log.Warn("docker runtime unavailable, container operations disabled", "error", dockerErr)
	} else {
		runtime = provider
		defer func() { _ = provider.Close() }()
		log.Info("container runtime initialized", "type", "docker")
	}

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	reg := registry.New(runtime, st, cfg, log)

	gw := gateway.New(gateway.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		LocalStoreDir:  cfg.LocalStoreDir,
		Logger:         log,
		Instruments:    tel.Gateway(),
	})

	shells := session.NewShellManager(func(ctx context.Context, t model.Connection, size session.Size) (session.Stream, error) {
		return gw.OpenShell(ctx, t, size.Rows, size.Cols)
	}, log)
	navigator := session.NewNavigator(gw, log)
	tunnels := tunnel.NewManager(ngrok.New(cfg.NgrokAuthToken), cfg.NgrokAuthToken, log)
	if !tunnels.Configured() {
		log.Info("NGROK_AUTHTOKEN not set, tunnels disabled")
	}

	h := handler.New(handler.Options{
		Registry: reg,
		Runtime:  runtime,
		Files:    gw,
		Remote:   gw,
		Shells:   shells,
		Tunnels:  tunnels,
		Config:   cfg,
		Logger:   log,
	})

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SanitizedLogger(log.Named("access")))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	h.Mount(r)

	// Terminal websockets and file downloads are long-lived, so there is no
	// write timeout.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "version", version.Get())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.TelegramBotToken != "" {
		router := bot.NewRouter(bot.Options{
			Registry:    reg,
			Runtime:     runtime,
			Remote:      gw,
			Navigator:   navigator,
			Tunnels:     tunnels,
			LocalWebURL: cfg.LocalWebURL,
			Logger:      log,
		})
		tg, err := telegram.New(cfg.TelegramBotToken, router, log)
		if err != nil {
			// A bad token leaves the HTTP surface running.
			log.Error("telegram bot disabled", "error", err)
		} else {
			log.Info("telegram bot started", "username", tg.Username())
			g.Go(func() error { return tg.Run(gctx) })
		}
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shells.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		tunnels.CloseAll(shutdownCtx)

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
		if err := tel.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// openStore selects the custom server store: the database when DATABASE_DSN
// is set, the YAML file otherwise.
func openStore(cfg *config.Config, log *logger.Logger) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		st, err := store.NewFileStore(cfg.CustomServersFile, log)
		if err != nil {
			return nil, fmt.Errorf("open custom servers file: %w", err)
		}
		log.Info("custom servers file", "path", cfg.CustomServersFile)
		return st, nil
	}

	db, err := database.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("running database migrations")
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store.NewDBStore(db), nil
}
