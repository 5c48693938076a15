package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/ratelimit"
	"github.com/licenselock/licenselock/internal/repository"
	"github.com/licenselock/licenselock/internal/security"
)

const loginAction = "login"

type loginInput struct {
	Email       string `validate:"required,email,max=320"`
	Credential  string `validate:"required,max=512"`
	Product     string `validate:"required,max=128"`
	Fingerprint string `validate:"required,max=256"`
}

// LoginRequest is one client attempt to open a session.
type LoginRequest struct {
	Email       string
	Credential  string
	Product     string
	Fingerprint string
	IP          string
}

// LoginResult carries the opaque token exactly once; it is never readable
// again after this value is dropped.
type LoginResult struct {
	Token     string
	Session   *domain.Session
	ExpiresAt time.Time
}

// SessionPolicy is the tunable part of the login pipeline.
type SessionPolicy struct {
	TokenPepper string
	SessionTTL  time.Duration
	LoginLimit  int64
	LoginWindow time.Duration
}

func (p SessionPolicy) normalized() SessionPolicy {
	if p.SessionTTL <= 0 {
		p.SessionTTL = time.Hour
	}
	if p.LoginLimit <= 0 {
		p.LoginLimit = 10
	}
	if p.LoginWindow <= 0 {
		p.LoginWindow = time.Minute
	}
	return p
}

// SessionService runs the login pipeline and owns the session lifecycle.
// Each login stage must pass before the next is evaluated, so a blocked user
// never consumes a rate token and a rate-limited user never touches bindings.
type SessionService struct {
	users    repository.UserRepository
	products repository.ProductRepository
	sessions repository.SessionRepository

	bindings *BindingService
	licenses *LicenseService
	limiter  ratelimit.Limiter
	detector AbuseDetector
	verifier security.CredentialVerifier

	policy   SessionPolicy
	validate *validator.Validate
	newToken func() (string, error)
	now      func() time.Time
	timeout  time.Duration
}

func NewSessionService(
	users repository.UserRepository,
	products repository.ProductRepository,
	sessions repository.SessionRepository,
	bindings *BindingService,
	licenses *LicenseService,
	limiter ratelimit.Limiter,
	detector AbuseDetector,
	verifier security.CredentialVerifier,
	policy SessionPolicy,
	timeout time.Duration,
) *SessionService {
	return &SessionService{
		users:    users,
		products: products,
		sessions: sessions,
		bindings: bindings,
		licenses: licenses,
		limiter:  limiter,
		detector: detector,
		verifier: verifier,
		policy:   policy.normalized(),
		validate: validator.New(),
		newToken: security.NewSessionToken,
		now:      time.Now,
		timeout:  timeout,
	}
}

// Login runs the full admission pipeline: credential, block status, rate
// limit, hardware binding, entitlement, then session issuance. Credential
// failures stay deliberately indistinguishable from unknown accounts.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := s.validate.Struct(loginInput{
		Email:       req.Email,
		Credential:  req.Credential,
		Product:     req.Product,
		Fingerprint: req.Fingerprint,
	}); err != nil {
		return nil, fault.Wrap(fault.KindValidation, fault.CodeInvalidInput, "invalid login input", err)
	}

	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordLoginAttempt(ctx, "invalid_credential")
			return nil, fault.New(fault.KindAuth, fault.CodeInvalidCredential, "invalid credentials")
		}
		return nil, err
	}

	if err := s.verifier.Verify(req.Credential, user.CredentialHash); err != nil {
		if !errors.Is(err, security.ErrCredentialMismatch) {
			return nil, err
		}
		if derr := s.detector.Record(ctx, domain.AbuseSignal{
			UserID: user.ID,
			Kind:   domain.SignalFailedCredential,
		}); derr != nil {
			return nil, derr
		}
		observability.RecordLoginAttempt(ctx, "invalid_credential")
		return nil, fault.New(fault.KindAuth, fault.CodeInvalidCredential, "invalid credentials")
	}

	if user.Blocked {
		observability.RecordLoginAttempt(ctx, "blocked")
		return nil, fault.New(fault.KindPolicy, fault.CodeUserBlocked, "account is blocked")
	}

	decision, err := s.limiter.CheckAndConsume(ctx, subjectUser(user.ID), loginAction, s.policy.LoginLimit, s.policy.LoginWindow)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		if derr := s.detector.Record(ctx, domain.AbuseSignal{
			UserID: user.ID,
			Kind:   domain.SignalRateLimitBreach,
		}); derr != nil {
			return nil, derr
		}
		observability.RecordLoginAttempt(ctx, "rate_limited")
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	product, err := s.products.FindByName(ctx, req.Product)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			observability.RecordLoginAttempt(ctx, "unknown_product")
			return nil, fault.New(fault.KindValidation, fault.CodeNotFound, "unknown product")
		}
		return nil, err
	}

	bind, err := s.bindings.BindOrVerify(ctx, user.ID, product.ID, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	switch bind.Outcome {
	case domain.BindingBound, domain.BindingVerified:
	case domain.BindingRejectedMismatch:
		if derr := s.detector.Record(ctx, domain.AbuseSignal{
			UserID: user.ID,
			Kind:   domain.SignalHwidMismatch,
		}); derr != nil {
			return nil, derr
		}
		observability.RecordLoginAttempt(ctx, "hwid_mismatch")
		return nil, fault.New(fault.KindPolicy, fault.CodeHwidMismatch, "hardware fingerprint does not match the bound device")
	case domain.BindingRejectedConflict:
		observability.RecordLoginAttempt(ctx, "binding_conflict")
		return nil, fault.New(fault.KindConflict, fault.CodeBindingConflict, "a concurrent bind won; retry the login")
	default:
		return nil, fmt.Errorf("unexpected binding outcome %q", bind.Outcome)
	}

	ent, err := s.licenses.CheckEntitlement(ctx, user.ID, product.ID)
	if err != nil {
		return nil, err
	}
	if !ent.Entitled {
		observability.RecordLoginAttempt(ctx, "not_entitled")
		return nil, fault.Newf(fault.KindPolicy, fault.CodeNotEntitled, "no usable license: %s", ent.Reason)
	}

	token, err := s.newToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.policy.SessionTTL)
	if ent.ExpiresAt != nil && ent.ExpiresAt.Before(expiresAt) {
		// A session never outlives the license that admitted it.
		expiresAt = ent.ExpiresAt.UTC()
	}
	session := &domain.Session{
		TokenHash:   security.HashSessionToken(token, s.policy.TokenPepper),
		UserID:      user.ID,
		ProductID:   product.ID,
		Fingerprint: req.Fingerprint,
		IP:          req.IP,
		Valid:       true,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	// The session is durable from here; bookkeeping failures must not turn a
	// completed login into an error the client would retry.
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		slog.WarnContext(ctx, "touch last login failed after session issue", "user_id", user.ID, "error", err)
	}
	if err := s.detector.Reset(ctx, user.ID); err != nil {
		slog.WarnContext(ctx, "abuse state reset failed after session issue", "user_id", user.ID, "error", err)
	}
	observability.RecordLoginAttempt(ctx, "success")
	return &LoginResult{Token: token, Session: session, ExpiresAt: expiresAt}, nil
}

// Validate checks a presented token. Expiry and binding drift are evaluated
// lazily here; the first failed check flips the row to invalid. The caller's
// fingerprint is an optional device check: a mismatch rejects the call but
// never invalidates the session, since only a rebind moves the binding.
func (s *SessionService) Validate(ctx context.Context, token, fingerprint string) (*domain.Session, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()

	hash := security.HashSessionToken(token, s.policy.TokenPepper)
	session, err := s.sessions.FindByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, fault.New(fault.KindAuth, fault.CodeInvalidToken, "invalid session token")
		}
		return nil, err
	}
	if !session.Valid {
		return nil, s.invalidSessionFault(session)
	}
	if !s.now().Before(session.ExpiresAt) {
		if _, err := s.sessions.InvalidateByTokenHash(ctx, hash, domain.SessionReasonExpired); err != nil {
			return nil, err
		}
		return nil, fault.New(fault.KindAuth, fault.CodeSessionExpired, "session expired")
	}

	// A rebind should already have killed the session in its transaction;
	// the comparison here closes the window against a racing issuance.
	current, err := s.bindings.bindings.Find(ctx, session.UserID, session.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrBindingNotFound) {
			return nil, fault.New(fault.KindAuth, fault.CodeSessionStale, "session fingerprint no longer bound")
		}
		return nil, err
	}
	if session.Fingerprint != current.Fingerprint {
		if _, err := s.sessions.InvalidateByTokenHash(ctx, hash, domain.SessionReasonStale); err != nil {
			return nil, err
		}
		return nil, fault.New(fault.KindAuth, fault.CodeSessionStale, "session fingerprint is stale")
	}
	if fingerprint != "" && fingerprint != current.Fingerprint {
		return nil, fault.New(fault.KindPolicy, fault.CodeHwidMismatch, "fingerprint does not match the bound device")
	}
	return session, nil
}

// Logout is idempotent; unknown and already-dead tokens both succeed.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	hash := security.HashSessionToken(token, s.policy.TokenPepper)
	_, err := s.sessions.InvalidateByTokenHash(ctx, hash, domain.SessionReasonLogout)
	return err
}

// RevokeSessions is the operator path for killing every live session a user
// holds without blocking the account.
func (s *SessionService) RevokeSessions(ctx context.Context, userID uint, actor, reason string) (int64, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	n, err := s.sessions.InvalidateByUser(ctx, userID, domain.SessionReasonRevoked)
	if err != nil {
		return 0, err
	}
	observability.Audit(ctx, "session.revoke_all", actor, "user_id", userID, "count", n, "reason", reason)
	return n, nil
}

func (s *SessionService) ListActive(ctx context.Context, userID uint) ([]domain.Session, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	return s.sessions.ListActiveByUser(ctx, userID)
}

// SweepExpired flips expired-but-still-valid rows; lazy validation remains
// the correctness mechanism.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	ctx, cancel := opCtx(ctx, s.timeout)
	defer cancel()
	return s.sessions.MarkExpired(ctx, s.now().UTC())
}

func (s *SessionService) invalidSessionFault(session *domain.Session) error {
	reason := ""
	if session.InvalidReason != nil {
		reason = *session.InvalidReason
	}
	switch reason {
	case domain.SessionReasonExpired:
		return fault.New(fault.KindAuth, fault.CodeSessionExpired, "session expired")
	case domain.SessionReasonStale, domain.SessionReasonRebound:
		return fault.New(fault.KindAuth, fault.CodeSessionStale, "session fingerprint is stale")
	default:
		return fault.New(fault.KindAuth, fault.CodeInvalidToken, "session is no longer valid")
	}
}

// RateLimitedError carries the retry hint alongside the policy fault so
// transports can set Retry-After without parsing the message.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: too many login attempts, retry after %s", fault.CodeRateLimited, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return fault.New(fault.KindPolicy, fault.CodeRateLimited, "too many login attempts")
}
