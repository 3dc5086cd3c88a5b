package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/escritoresnogueira/backend/api"
	"github.com/escritoresnogueira/backend/auth"
	"github.com/escritoresnogueira/backend/session"
)

var (
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API and the session sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := openServices(ctx, true)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := svc.Close(shutdownCtx); err != nil {
				svc.logger.Warn("closing services", "error", err)
			}
		}()
		svc.telemetry.SetGlobal()
		cfg, logger := svc.cfg, svc.logger

		verifier, err := newVerifier(ctx, cfg)
		if err != nil {
			return fmt.Errorf("identity provider: %w", err)
		}
		accounts := auth.NewService(verifier, svc.repo, svc.sessions, auth.WithLogger(logger))

		proxies, err := api.ParseTrustedProxies(cfg.TrustedProxyList())
		if err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		a := api.New(svc.sessions, accounts, svc.repo,
			api.WithLogger(logger),
			api.WithTrustedProxies(proxies),
			api.WithAdminKey(cfg.AdminAPIKey),
			api.WithTouchInterval(cfg.SessionTouchInterval),
			api.WithMaxExtendHours(cfg.SessionMaxExtendHrs),
			api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookAuthHeader),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("security alert", "type", e.Type, "count", e.Count, "threshold", e.Threshold)
			}),
			api.WithFirebaseConfig(api.FirebaseWebConfig{
				APIKey:            cfg.FirebaseWebAPIKey,
				AuthDomain:        cfg.FirebaseWebAuthDomain,
				ProjectID:         cfg.FirebaseProjectID,
				StorageBucket:     cfg.FirebaseWebBucket,
				MessagingSenderID: cfg.FirebaseWebSenderID,
				AppID:             cfg.FirebaseWebAppID,
			}),
		)
		defer a.Close()
		if cfg.AdminAPIKey == "" {
			logger.Warn("ADMIN_API_KEY not set; admin routes are disabled")
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api", a.Router())

		sweeper := session.NewSweeper(svc.sessions, cfg.SessionSweepInterval)
		sweeper.Start()
		defer sweeper.Stop()

		server := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if tlsCert != "" || tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("server listening",
			"addr", cfg.HTTPAddr,
			"tls", server.TLSConfig != nil,
			"storage", cfg.StorageBackend,
			"identity", cfg.IdentityProvider,
		)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().String("addr", "", "Address to listen on (overrides HTTP_ADDR)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	_ = v.BindPFlag("HTTP_ADDR", serverCmd.Flags().Lookup("addr"))
}
