package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/account"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/config"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/devicecode"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/notify"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/provision"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/registry"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/schemas"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/server"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/store"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/token"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/upstream"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the submission service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	httpClient := defaultHTTPClient()

	// Shared downstream token: proactive refresh loop plus lazy
	// single-flight refresh on demand.
	var tokenCache *token.Cache
	if cfg.Token.Endpoint != "" {
		refresher := token.NewRefresher(
			cfg.Token.Endpoint, cfg.Token.Username, cfg.Token.Password,
			config.Duration(cfg.Token.Lifetime), httpClient, logger)

		tokenCache = token.New(refresher.Refresh,
			config.Duration(cfg.Token.RefreshInterval),
			config.Duration(cfg.Token.ExpiryMargin), logger)

		go tokenCache.Run(ctx)
	}

	var provisioner *provision.Provisioner
	if cfg.Storage.BaseURL != "" && tokenCache != nil {
		provisioner = provision.NewProvisioner(cfg.Storage.BaseURL, httpClient, tokenCache, logger)
	}

	var schemaCache *schemas.Cache
	if cfg.Schemas.SourceBaseURL != "" {
		schemaCache = schemas.NewCache(
			upstream.NewRetryAllClient("", httpClient, nil, logger),
			config.Duration(cfg.Schemas.FlushInterval), logger)

		go schemaCache.Run(ctx)
	}

	resolver := account.NewResolver(providersFromConfig(cfg.Providers), httpClient, st, logger)

	var device server.DeviceFlow
	for _, p := range cfg.Providers {
		if p.DeviceAuthURL != "" {
			device = devicecode.NewClient(p.DeviceAuthURL, p.TokenURL, p.ClientID, p.Scope, httpClient, logger)

			break
		}
	}

	reg := registry.New(st, &notify.LogSender{Logger: logger}, logger)

	srv := server.New(server.Options{
		Registry:       reg,
		Resolver:       resolver,
		SchemaCache:    schemaCache,
		Provisioner:    provisioner,
		Device:         device,
		AdminToken:     cfg.Server.AdminToken,
		UploadRootPath: cfg.Storage.UploadRootPath,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: httpClientTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("listening", "addr", cfg.Server.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

// providersFromConfig maps provider config entries onto the resolver's
// strategy table, preserving file order.
func providersFromConfig(entries []config.ProviderConfig) []account.Provider {
	providers := make([]account.Provider, 0, len(entries))

	for _, e := range entries {
		providers = append(providers, account.Provider{
			LoginType:           e.LoginType,
			UserinfoURL:         e.UserinfoURL,
			UserIDField:         e.UserIDField,
			FirstNameField:      e.FirstNameField,
			LastNameField:       e.LastNameField,
			EmailField:          e.EmailField,
			SecondaryEmailField: e.SecondaryEmailField,
		})
	}

	return providers
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := buildLogger(cfg.Logging)

			st, err := store.Open(cmd.Context(), cfg.Database.Path, logger)
			if err != nil {
				return err
			}

			return st.Close()
		},
	}
}
