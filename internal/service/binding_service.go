package service

import (
	"context"
	"time"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/repository"
)

type BindingService struct {
	bindings repository.BindingRepository
	audit    repository.AuditRepository
	timeout  time.Duration
}

func NewBindingService(bindings repository.BindingRepository, audit repository.AuditRepository, timeout time.Duration) *BindingService {
	return &BindingService{bindings: bindings, audit: audit, timeout: timeout}
}

// BindOrVerify is the self-service path used during login. First use binds
// the fingerprint; a mismatch is rejected, never silently rebound.
func (s *BindingService) BindOrVerify(ctx context.Context, userID, productID uint, fingerprint string) (repository.BindResult, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	result, err := s.bindings.BindOrVerify(ctx, userID, productID, fingerprint)
	if err != nil {
		return repository.BindResult{}, err
	}
	observability.RecordBindingDecision(ctx, string(result.Outcome), string(domain.ActorSelf))
	return result, nil
}

// OperatorRebind moves the binding to a new fingerprint and invalidates every
// session issued under the old one. Trusted path; always succeeds.
func (s *BindingService) OperatorRebind(ctx context.Context, userID, productID uint, fingerprint, actor, reason string) (repository.BindResult, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	result, err := s.bindings.Rebind(ctx, userID, productID, fingerprint, domain.ActorOperator)
	if err != nil {
		return repository.BindResult{}, err
	}
	observability.RecordBindingDecision(ctx, string(result.Outcome), string(domain.ActorOperator))
	observability.Audit(ctx, "hardware.rebind", actor,
		"user_id", userID,
		"product_id", productID,
		"invalidated_sessions", result.InvalidatedSessions,
		"reason", reason,
	)
	if err := s.audit.Append(ctx, &domain.AuditEntry{
		Actor:   actor,
		Action:  "hardware.rebind",
		Subject: subjectUserProduct(userID, productID),
		Reason:  reason,
	}); err != nil {
		return repository.BindResult{}, err
	}
	return result, nil
}

func (s *BindingService) History(ctx context.Context, userID, productID uint) ([]domain.BindingChange, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	return s.bindings.History(ctx, userID, productID)
}
