// Package app assembles the full service graph and owns process lifecycle:
// storage, optional Redis, the HTTP server and the background sweeper.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/licenselock/licenselock/internal/config"
	"github.com/licenselock/licenselock/internal/http/handler"
	"github.com/licenselock/licenselock/internal/http/router"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/ratelimit"
	"github.com/licenselock/licenselock/internal/repository"
	"github.com/licenselock/licenselock/internal/security"
	"github.com/licenselock/licenselock/internal/service"
	"github.com/licenselock/licenselock/internal/storage"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Server        *http.Server
	Observability *observability.Runtime

	Identity *service.IdentityService
	Licenses *service.LicenseService
	Bindings *service.BindingService
	Sessions *service.SessionService
}

// Build wires the container. Redis is optional: without it the durable rate
// limiter and the in-process abuse detector take over, which is correct on a
// single node.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*App, error) {
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, err
	}

	var redisClient redis.UniversalClient
	if cfg.RedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, err
		}
	}

	users := repository.NewUserRepository(db)
	products := repository.NewProductRepository(db)
	sessions := repository.NewSessionRepository(db)
	licRepo := repository.NewLicenseRepository(db)
	bindRepo := repository.NewBindingRepository(db)
	audit := repository.NewAuditRepository(db)

	verifier := security.NewBcryptVerifier(cfg.BcryptCost)
	identity := service.NewIdentityService(users, sessions, audit, verifier, cfg.StorageTimeout)
	licenses := service.NewLicenseService(licRepo, products, users, audit, cfg.StorageTimeout)
	bindings := service.NewBindingService(bindRepo, audit, cfg.StorageTimeout)

	abusePolicy := service.AbusePolicy{Threshold: cfg.AbuseThreshold, Window: cfg.AbuseWindow}
	var detector service.AbuseDetector
	var limiter ratelimit.Limiter
	if redisClient != nil {
		detector = service.NewRedisAbuseDetector(redisClient, "abuse", identity, abusePolicy)
		limiter = ratelimit.NewRedisLimiter(redisClient, "rl")
	} else {
		detector = service.NewLocalAbuseDetector(identity, abusePolicy)
		limiter = ratelimit.NewGormLimiter(db)
	}

	manager := service.NewSessionService(
		users, products, sessions, bindings, licenses,
		limiter, detector, verifier,
		service.SessionPolicy{
			TokenPepper: cfg.TokenPepper,
			SessionTTL:  cfg.SessionTTL,
			LoginLimit:  cfg.LoginRateLimit,
			LoginWindow: cfg.LoginRateWindow,
		},
		cfg.StorageTimeout,
	)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:    handler.NewAuthHandler(identity, manager),
		AdminHandler:   handler.NewAdminHandler(identity, licenses, bindings, manager, products, licRepo, audit),
		Logger:         logger,
		OperatorKey:    cfg.OperatorKey,
		Readiness:      readiness(db, redisClient),
		EnableOTelHTTP: cfg.OTELTracesEnabled,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Redis:         redisClient,
		Server:        server,
		Observability: runtime,
		Identity:      identity,
		Licenses:      licenses,
		Bindings:      bindings,
		Sessions:      manager,
	}, nil
}

// Run serves until ctx is cancelled, then drains within the configured
// shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.Config.LicenseSweepInterval > 0 {
		g.Go(func() error {
			a.sweepLoop(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if a.Redis != nil {
		if cerr := a.Redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.Config.LicenseSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.Licenses.Sweep(ctx); err != nil {
				a.Logger.Warn("license sweep failed", "error", err)
			} else if n > 0 {
				a.Logger.Info("license sweep", "deactivated", n)
			}
			if n, err := a.Sessions.SweepExpired(ctx); err != nil {
				a.Logger.Warn("session sweep failed", "error", err)
			} else if n > 0 {
				a.Logger.Info("session sweep", "invalidated", n)
			}
		}
	}
}

func readiness(db *gorm.DB, redisClient redis.UniversalClient) router.ReadinessFunc {
	return func(r *http.Request) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(r.Context()); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Ping(r.Context()).Err()
		}
		return nil
	}
}
