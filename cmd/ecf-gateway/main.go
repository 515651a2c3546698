// Command ecf-gateway runs the electronic fiscal document gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ithesk/firmadgii/internal/auth"
	"github.com/ithesk/firmadgii/internal/config"
	"github.com/ithesk/firmadgii/internal/keystore"
	"github.com/ithesk/firmadgii/internal/reception"
	"github.com/ithesk/firmadgii/internal/server"
	"github.com/ithesk/firmadgii/pkg/authority"
	"github.com/ithesk/firmadgii/pkg/discovery"
	"github.com/ithesk/firmadgii/pkg/dispatch"
	"github.com/ithesk/firmadgii/pkg/ecf"
	"github.com/ithesk/firmadgii/pkg/qr"
	"github.com/ithesk/firmadgii/pkg/sign"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	credentials, err := keystore.NewFileProvider(keystore.FileProviderConfig{
		Dir:         cfg.Credentials.Dir,
		Passphrase:  cfg.Credentials.Passphrase,
		DefaultBlob: cfg.Credentials.DefaultBlob,
	})
	if err != nil {
		return fmt.Errorf("initializing credential provider: %w", err)
	}
	defer credentials.Close()

	signer := sign.New()

	policy := dispatch.DefaultPolicy()
	if cfg.Dispatch.SummaryThreshold != "" {
		threshold, err := decimal.NewFromString(cfg.Dispatch.SummaryThreshold)
		if err != nil {
			return fmt.Errorf("parsing dispatch.summaryThreshold: %w", err)
		}
		policy.SummaryThreshold = threshold
	}

	httpCfg := authority.DefaultHTTPConfig()
	httpCfg.Timeout = cfg.Dispatch.Timeout

	dispatcher, err := dispatch.New(dispatch.Config{
		Credentials: credentials,
		Signer:      signer,
		Authority:   authority.NewHTTPClient(httpCfg),
		References:  qr.New(),
		Policy:      policy,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("initializing dispatcher: %w", err)
	}

	// The directory leg of peer discovery goes through the dispatcher's
	// authenticated directory lookup; DNS is the fallback.
	defaultEnv := ecf.Environment(cfg.Dispatch.Environment)
	resolver := discovery.New(discovery.Config{
		ServiceDomain: cfg.Discovery.ServiceDomain,
		Environment:   defaultEnv,
		DNSServer:     cfg.Discovery.DNSServer,
	}, func(ctx context.Context, taxID string) ([]authority.DirectoryEntry, error) {
		return dispatcher.PeerDirectory(ctx, defaultEnv, "", taxID)
	}, logger)

	var notifier reception.Notifier
	if cfg.Reception.WebhookURL != "" {
		notifier = reception.NewWebhookNotifier(cfg.Reception.WebhookURL, cfg.Reception.WebhookTimeout)
		logger.Info("reception webhook enabled", "url", cfg.Reception.WebhookURL)
	}

	pipeline, err := reception.New(credentials, signer, notifier, logger)
	if err != nil {
		return fmt.Errorf("initializing reception pipeline: %w", err)
	}

	var tokens server.TokenService
	if cfg.Auth.Secret != "" {
		svc, err := auth.NewService(auth.Config{
			Secret:   []byte(cfg.Auth.Secret),
			Issuer:   cfg.Auth.Issuer,
			SeedTTL:  cfg.Auth.SeedTTL,
			TokenTTL: cfg.Auth.TokenTTL,
		}, signer, logger)
		if err != nil {
			return fmt.Errorf("initializing token service: %w", err)
		}
		tokens = svc
		logger.Info("peer authentication enabled", "issuer", cfg.Auth.Issuer)
	} else {
		logger.Warn("peer authentication disabled - reception accepts unauthenticated requests")
	}

	srv, err := server.New(cfg, dispatcher, pipeline, resolver, tokens, logger)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
