// Package storage opens the transactional store and owns the schema
// migration list. Repositories receive a *gorm.DB and never reopen
// connections themselves.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/licenselock/licenselock/internal/config"
	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/fault"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func Open(cfg *config.Config) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch cfg.DatabaseDriver {
	case "sqlite":
		dial = sqlite.Open(cfg.DatabaseDSN)
	case "postgres":
		dial = postgres.Open(cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
	db, err := gorm.Open(dial, &gorm.Config{
		// TranslateError turns driver unique-violation errors into
		// gorm.ErrDuplicatedKey on both backends, which the binding and
		// identity repositories rely on to detect lost races.
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DatabaseDriver, err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Product{},
		&domain.License{},
		&domain.HardwareBinding{},
		&domain.BindingChange{},
		&domain.Session{},
		&domain.RateWindow{},
		&domain.AuditEntry{},
	)
}

// IsDuplicate reports a unique-constraint violation after translation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// MapError classifies store failures. Timeouts and cancellations surface as
// retryable Unavailable errors, never as silent hangs.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.KindUnavailable, fault.CodeStorageUnavailable, op+" timed out", err)
	}
	return err
}
