package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/ratelimit"
	"github.com/licenselock/licenselock/internal/repository"
	"github.com/licenselock/licenselock/internal/security"
	"github.com/licenselock/licenselock/internal/storage"
)

// harness wires the full service graph over an in-memory store, the way the
// application container does, so tests exercise real transactions.
type harness struct {
	db       *gorm.DB
	users    repository.UserRepository
	products repository.ProductRepository
	sessions repository.SessionRepository
	licRepo  repository.LicenseRepository
	audit    repository.AuditRepository

	identity *IdentityService
	licenses *LicenseService
	bindings *BindingService
	detector *LocalAbuseDetector
	manager  *SessionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := &harness{
		db:       db,
		users:    repository.NewUserRepository(db),
		products: repository.NewProductRepository(db),
		sessions: repository.NewSessionRepository(db),
		licRepo:  repository.NewLicenseRepository(db),
		audit:    repository.NewAuditRepository(db),
	}
	verifier := security.NewBcryptVerifier(bcrypt.MinCost)
	h.identity = NewIdentityService(h.users, h.sessions, h.audit, verifier, 0)
	h.licenses = NewLicenseService(h.licRepo, h.products, h.users, h.audit, 0)
	h.bindings = NewBindingService(repository.NewBindingRepository(db), h.audit, 0)
	h.detector = NewLocalAbuseDetector(h.identity, AbusePolicy{Threshold: 5, Window: 15 * time.Minute})
	h.manager = NewSessionService(
		h.users, h.products, h.sessions,
		h.bindings, h.licenses,
		ratelimit.NewGormLimiter(db),
		h.detector,
		verifier,
		SessionPolicy{
			TokenPepper: "test-pepper",
			SessionTTL:  time.Hour,
			LoginLimit:  100,
			LoginWindow: time.Minute,
		},
		0,
	)
	return h
}

func (h *harness) registerUser(t *testing.T, email, credential string) *domain.User {
	t.Helper()
	user, err := h.identity.Register(context.Background(), email, credential)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}

func (h *harness) createProduct(t *testing.T, name string) *domain.Product {
	t.Helper()
	p := &domain.Product{Name: name}
	if err := h.products.Create(context.Background(), p); err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return p
}

func (h *harness) grantLicense(t *testing.T, userID, productID uint, expiresAt *time.Time) *domain.License {
	t.Helper()
	lic, err := h.licenses.Grant(context.Background(), userID, productID, expiresAt, "test-operator")
	if err != nil {
		t.Fatalf("grant license: %v", err)
	}
	return lic
}

func timePtr(t time.Time) *time.Time { return &t }
