// Command twofa-server serves the two-factor sign-in API.
//
// Configuration comes from TWOFA_* environment variables, optionally seeded
// from a .env file (see internal/config). With no configuration beyond
// TWOFA_SIGNING_KEY it runs entirely in memory and logs outgoing mail.
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

	"github.com/MrEthical07/twofa/httpapi"
	"github.com/MrEthical07/twofa/internal/config"
	"github.com/MrEthical07/twofa/metrics/export/prometheus"
	"github.com/MrEthical07/twofa/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env-file", "", "dotenv file to load before reading the environment (default .env if present)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("twofa-server stopped")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "twofa").Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	report := deps.engine.SecurityReport()
	logger.Info().
		Bool("production", report.ProductionMode).
		Str("signing_algorithm", report.SigningAlgorithm).
		Int("totp_digits", report.TOTPDigits).
		Int("totp_skew", report.TOTPSkew).
		Bool("send_limit_active", report.SendRateLimitActive).
		Bool("replay_protection", report.ReplayProtection).
		Str("store", cfg.Store).
		Str("mail_transport", cfg.MailTransport).
		Msg("engine ready")

	throttle := middleware.NewThrottler(middleware.ThrottleConfig{
		RequestsPerSecond: cfg.ThrottleRPS,
		Burst:             cfg.ThrottleBurst,
	})
	stopSweeper := throttle.StartSweeper(0)
	defer stopSweeper()

	api := httpapi.New(deps.engine, httpapi.Options{
		Logger:     logger,
		Throttle:   throttle,
		TrustProxy: cfg.TrustProxy,
	})

	root := chi.NewRouter()
	if cfg.MetricsEnabled && cfg.MetricsPath != "" {
		root.Method(http.MethodGet, cfg.MetricsPath, prometheus.NewExporter(deps.engine).Handler())
	}
	root.Mount("/", api)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
