// Command server runs the unified inbox API: agent endpoints, provider
// webhooks, metrics, and optional Swagger UI.
//
//go:generate swag init -g cmd/server/main.go -d ../../ -o ../../docs
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/channels"
	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/events"
	httpapi "github.com/tbourn/unified-inbox/internal/http"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = 10 * time.Minute
)

// @title          Unified Inbox API
// @version        1.0
// @description    Contacts, conversations and messages across SMS, WhatsApp and email.
// @BasePath       /api/v1
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server exited cleanly")
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Error().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("database ready")

	pub, err := newPublisher(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Msg("event bus close")
		}
	}()

	senders := buildSenders(cfg)
	for _, s := range senders {
		log.Info().Str("channel", string(s.Channel())).Msg("channel adapter enabled")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:      db,
		Senders: channels.NewRegistry(senders...),
		Events:  pub,
	}, cfg)

	go purgeIdempotency(ctx, db, purgeInterval, time.Now)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// buildSenders returns an adapter for every channel whose credentials are
// configured. Channels without one answer sends with provider_not_configured.
func buildSenders(cfg config.Config) []channels.Sender {
	opts := channels.HTTPOptions{Timeout: cfg.Providers.Timeout, MaxRetries: cfg.Providers.MaxRetries}
	tw := cfg.Providers.Twilio

	var out []channels.Sender
	if tw.AccountSID != "" && tw.AuthToken != "" {
		if tw.SMSFrom != "" {
			out = append(out, channels.NewTwilioSMS(tw, opts))
		}
		if tw.WhatsAppFrom != "" {
			out = append(out, channels.NewTwilioWhatsApp(tw, opts))
		}
	}
	if rs := cfg.Providers.Resend; rs.APIKey != "" && rs.From != "" {
		out = append(out, channels.NewResend(rs, opts))
	}
	return out
}

// newPublisher connects to Redis when an address is configured.
func newPublisher(cfg config.RedisConfig) (events.Publisher, error) {
	if cfg.Addr == "" {
		return events.Nop{}, nil
	}
	p, err := events.NewRedisPublisher(cfg)
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("publishing events to redis")
	return p, nil
}

// purgeIdempotency deletes expired idempotency records every interval
// until ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration, now func() time.Time) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("idempotency records purged")
			}
		}
	}
}

// loadEnvFiles reads .env files when present. Real environment variables
// win over file values.
func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}
