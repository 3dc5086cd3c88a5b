package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/escritoresnogueira/backend/identity"
	"github.com/escritoresnogueira/backend/internal/config"
	"github.com/escritoresnogueira/backend/internal/telemetry"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage"
	bboltstorage "github.com/escritoresnogueira/backend/storage/bbolt"
	"github.com/escritoresnogueira/backend/storage/memory"
	"github.com/escritoresnogueira/backend/storage/postgres"
)

// services bundles the long-lived dependencies shared by the subcommands.
type services struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *telemetry.Providers
	repo      storage.Repository
	sessions  *session.Manager
}

// openServices loads configuration and opens storage and the session
// manager. validate=false skips identity settings for maintenance commands.
func openServices(ctx context.Context, validate bool) (*services, error) {
	var (
		cfg *config.Config
		err error
	)
	if validate {
		cfg, err = config.Load(v)
	} else {
		cfg, err = config.Read(v)
	}
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	tp, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, "backend", Version, cfg.OTLPInsecure)
	if err != nil {
		return nil, err
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	logger.Info("storage opened", "backend", cfg.StorageBackend)

	m, err := session.NewManager(repo,
		session.WithTTL(cfg.SessionTTL()),
		session.WithMaxSessions(cfg.SessionMaxPerUser),
		session.WithRetention(cfg.SessionRetention),
		session.WithMaxLifetime(cfg.SessionMaxLifetime),
		session.WithLogger(logger),
		session.WithMeterProvider(tp.MeterProvider),
		session.WithTracerProvider(tp.TracerProvider),
	)
	if err != nil {
		_ = repo.Close()
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	return &services{cfg: cfg, logger: logger, telemetry: tp, repo: repo, sessions: m}, nil
}

func (svc *services) Close(ctx context.Context) error {
	return errors.Join(svc.repo.Close(), svc.telemetry.Shutdown(ctx))
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return memory.NewRepository(), nil
	case config.StorageBbolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BboltPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return bboltstorage.NewRepositoryFromFile(cfg.BboltPath, nil)
	case config.StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
		return postgres.NewRepositoryFromDSN(ctx, cfg.DatabaseURL, cfg.AutoMigrate)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func newVerifier(ctx context.Context, cfg *config.Config) (identity.Verifier, error) {
	switch cfg.IdentityProvider {
	case config.IdentityFirebase:
		return identity.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	case config.IdentityJWT:
		return identity.NewJWTVerifier([]byte(cfg.DevJWTSecret), cfg.DevJWTIssuer)
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.IdentityProvider)
	}
}
