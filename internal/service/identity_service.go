package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/repository"
	"github.com/licenselock/licenselock/internal/security"
)

// AutoBlockerActor names the abuse detector in audit trails; every other
// actor string is an operator identity.
const AutoBlockerActor = "auto-blocker"

type registerInput struct {
	Email      string `validate:"required,email,max=320"`
	Credential string `validate:"required,min=8,max=512"`
}

type IdentityService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	audit    repository.AuditRepository
	verifier security.CredentialVerifier
	validate *validator.Validate
	timeout  time.Duration
}

func NewIdentityService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	audit repository.AuditRepository,
	verifier security.CredentialVerifier,
	timeout time.Duration,
) *IdentityService {
	return &IdentityService{
		users:    users,
		sessions: sessions,
		audit:    audit,
		verifier: verifier,
		validate: validator.New(),
		timeout:  timeout,
	}
}

func (s *IdentityService) Register(ctx context.Context, email, credential string) (*domain.User, error) {
	if err := s.validate.Struct(registerInput{Email: email, Credential: credential}); err != nil {
		return nil, fault.Wrap(fault.KindValidation, fault.CodeInvalidInput, "invalid registration input", err)
	}
	hash, err := s.verifier.Hash(credential)
	if err != nil {
		return nil, err
	}

	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	user := &domain.User{Email: email, CredentialHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, fault.New(fault.KindConflict, fault.CodeEmailTaken, "email already registered")
		}
		return nil, err
	}
	return user, nil
}

// Block marks the user blocked and kills every live session they hold.
// Works for operators and the auto-blocker alike; both leave an audit trail.
func (s *IdentityService) Block(ctx context.Context, userID uint, actor, reason string) error {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	if err := s.users.SetBlocked(ctx, userID, true, reason); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fault.New(fault.KindValidation, fault.CodeNotFound, "user not found")
		}
		return err
	}
	if _, err := s.sessions.InvalidateByUser(ctx, userID, domain.SessionReasonBlocked); err != nil {
		return err
	}
	observability.Audit(ctx, "user.block", actor, "user_id", userID, "reason", reason)
	return s.audit.Append(ctx, &domain.AuditEntry{
		Actor:   actor,
		Action:  "user.block",
		Subject: subjectUser(userID),
		Reason:  reason,
	})
}

// Unblock is operator-only; the abuse detector never calls it.
func (s *IdentityService) Unblock(ctx context.Context, userID uint, actor, reason string) error {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	if err := s.users.SetBlocked(ctx, userID, false, ""); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fault.New(fault.KindValidation, fault.CodeNotFound, "user not found")
		}
		return err
	}
	observability.Audit(ctx, "user.unblock", actor, "user_id", userID, "reason", reason)
	return s.audit.Append(ctx, &domain.AuditEntry{
		Actor:   actor,
		Action:  "user.unblock",
		Subject: subjectUser(userID),
		Reason:  reason,
	})
}

// AutoBlock satisfies the abuse detector's Blocker dependency.
func (s *IdentityService) AutoBlock(ctx context.Context, userID uint, reason string) error {
	return s.Block(ctx, userID, AutoBlockerActor, reason)
}

func (s *IdentityService) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fault.New(fault.KindValidation, fault.CodeNotFound, "user not found")
		}
		return nil, err
	}
	return user, nil
}
