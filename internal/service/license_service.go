package service

import (
	"context"
	"errors"
	"time"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/repository"
	"github.com/licenselock/licenselock/internal/security"
)

// keyGenerationAttempts bounds the regenerate-on-collision loop. With a
// 100-bit key space the loop effectively never runs twice; the bound exists
// so a broken random source cannot spin forever.
const keyGenerationAttempts = 5

type NotEntitledReason string

const (
	ReasonNoLicense   NotEntitledReason = "no_license"
	ReasonExpired     NotEntitledReason = "expired"
	ReasonRevoked     NotEntitledReason = "revoked"
	ReasonUserBlocked NotEntitledReason = "user_blocked"
)

// Entitlement is the answer to "may this user use this product right now".
// Expiry is evaluated at check time, never from a background sweep.
type Entitlement struct {
	Entitled  bool
	ExpiresAt *time.Time
	Reason    NotEntitledReason
}

type LicenseService struct {
	licenses repository.LicenseRepository
	products repository.ProductRepository
	users    repository.UserRepository
	audit    repository.AuditRepository
	newKey   func() (string, error)
	now      func() time.Time
	timeout  time.Duration
}

func NewLicenseService(
	licenses repository.LicenseRepository,
	products repository.ProductRepository,
	users repository.UserRepository,
	audit repository.AuditRepository,
	timeout time.Duration,
) *LicenseService {
	return &LicenseService{
		licenses: licenses,
		products: products,
		users:    users,
		audit:    audit,
		newKey:   security.NewLicenseKey,
		now:      time.Now,
		timeout:  timeout,
	}
}

func (s *LicenseService) Grant(ctx context.Context, userID, productID uint, expiresAt *time.Time, actor string) (*domain.License, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fault.New(fault.KindValidation, fault.CodeNotFound, "user not found")
		}
		return nil, err
	}
	if _, err := s.products.FindByID(ctx, productID); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, fault.New(fault.KindValidation, fault.CodeNotFound, "product not found")
		}
		return nil, err
	}

	var lic *domain.License
	for attempt := 0; attempt < keyGenerationAttempts; attempt++ {
		key, err := s.newKey()
		if err != nil {
			return nil, err
		}
		lic = &domain.License{
			Key:       key,
			UserID:    userID,
			ProductID: productID,
			Active:    true,
			ExpiresAt: expiresAt,
		}
		err = s.licenses.CreateGrant(ctx, lic)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrLicenseKeyTaken) {
			lic = nil
			continue
		}
		if errors.Is(err, repository.ErrActiveLicenseExists) {
			return nil, fault.New(fault.KindConflict, fault.CodeInvalidInput, "an active license already exists for this user and product")
		}
		return nil, err
	}
	if lic == nil {
		return nil, fault.New(fault.KindUnavailable, fault.CodeStorageUnavailable, "could not generate a unique license key")
	}

	observability.Audit(ctx, "license.grant", actor, "license_id", lic.ID, "user_id", userID, "product_id", productID)
	if err := s.audit.Append(ctx, &domain.AuditEntry{
		Actor:   actor,
		Action:  "license.grant",
		Subject: subjectLicense(lic.ID),
		Reason:  "granted for " + subjectUserProduct(userID, productID),
	}); err != nil {
		return nil, err
	}
	return lic, nil
}

// Revoke is idempotent: revoking an already-inactive license is a no-op.
func (s *LicenseService) Revoke(ctx context.Context, licenseID uint, actor, reason string) error {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()

	if _, err := s.licenses.FindByID(ctx, licenseID); err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return fault.New(fault.KindValidation, fault.CodeNotFound, "license not found")
		}
		return err
	}
	changed, err := s.licenses.Revoke(ctx, licenseID, reason)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	observability.Audit(ctx, "license.revoke", actor, "license_id", licenseID, "reason", reason)
	return s.audit.Append(ctx, &domain.AuditEntry{
		Actor:   actor,
		Action:  "license.revoke",
		Subject: subjectLicense(licenseID),
		Reason:  reason,
	})
}

func (s *LicenseService) CheckEntitlement(ctx context.Context, userID, productID uint) (Entitlement, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Entitlement{}, fault.New(fault.KindValidation, fault.CodeNotFound, "user not found")
		}
		return Entitlement{}, err
	}
	if user.Blocked {
		observability.RecordEntitlementCheck(ctx, string(ReasonUserBlocked))
		return Entitlement{Reason: ReasonUserBlocked}, nil
	}

	lic, err := s.licenses.FindActiveForUserProduct(ctx, userID, productID)
	if err != nil {
		if !errors.Is(err, repository.ErrLicenseNotFound) {
			return Entitlement{}, err
		}
		reason := s.classifyMissingLicense(ctx, userID, productID)
		observability.RecordEntitlementCheck(ctx, string(reason))
		return Entitlement{Reason: reason}, nil
	}
	if lic.Expired(s.now()) {
		observability.RecordEntitlementCheck(ctx, string(ReasonExpired))
		return Entitlement{Reason: ReasonExpired}, nil
	}
	observability.RecordEntitlementCheck(ctx, "entitled")
	return Entitlement{Entitled: true, ExpiresAt: lic.ExpiresAt}, nil
}

// classifyMissingLicense distinguishes "never licensed" from revoked and
// swept-expired grants when no active row exists.
func (s *LicenseService) classifyMissingLicense(ctx context.Context, userID, productID uint) NotEntitledReason {
	latest, err := s.licenses.FindLatestForUserProduct(ctx, userID, productID)
	if err != nil {
		return ReasonNoLicense
	}
	if latest.RevokedAt != nil {
		return ReasonRevoked
	}
	if latest.Expired(s.now()) {
		return ReasonExpired
	}
	return ReasonNoLicense
}

// Sweep flips active=false on expired rows for reporting and index hygiene.
// Entitlement checks stay correct without it.
func (s *LicenseService) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	return s.licenses.DeactivateExpired(ctx, s.now().UTC())
}
