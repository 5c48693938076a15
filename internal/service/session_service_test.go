package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/repository"
)

func TestLoginBindsFirstDeviceAndIssuesToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "alice@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	res, err := h.manager.Login(ctx, LoginRequest{
		Email:       "alice@example.com",
		Credential:  "correct-horse-battery",
		Product:     "desktop-pro",
		Fingerprint: "fp-alpha",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Token == "" {
		t.Fatal("login must return an opaque token")
	}
	if res.Session.TokenHash == res.Token {
		t.Fatal("stored hash must differ from the token")
	}

	session, err := h.manager.Validate(ctx, res.Token, "fp-alpha")
	if err != nil {
		t.Fatalf("validate fresh session: %v", err)
	}
	if session.UserID != user.ID || session.ProductID != product.ID {
		t.Fatalf("session bound to user=%d product=%d", session.UserID, session.ProductID)
	}

	fresh, err := h.users.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if fresh.LastLoginAt == nil {
		t.Fatal("successful login must touch last_login_at")
	}
}

func TestLoginRejectsSecondFingerprint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "bob@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	first, err := h.manager.Login(ctx, LoginRequest{
		Email: "bob@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-one",
	})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}

	_, err = h.manager.Login(ctx, LoginRequest{
		Email: "bob@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-two",
	})
	if fault.CodeOf(err) != fault.CodeHwidMismatch {
		t.Fatalf("second device login error = %v, want HWID_MISMATCH", err)
	}

	// Operator rebind moves the binding and kills sessions from the old device.
	rebind, err := h.bindings.OperatorRebind(ctx, user.ID, product.ID, "fp-two", "op@example.com", "user replaced laptop")
	if err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if rebind.InvalidatedSessions != 1 {
		t.Fatalf("rebind invalidated %d sessions, want 1", rebind.InvalidatedSessions)
	}

	if _, err := h.manager.Validate(ctx, first.Token, "fp-one"); fault.CodeOf(err) != fault.CodeSessionStale {
		t.Fatalf("old session after rebind = %v, want SESSION_STALE", err)
	}

	if _, err := h.manager.Login(ctx, LoginRequest{
		Email: "bob@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-two",
	}); err != nil {
		t.Fatalf("login from rebound device: %v", err)
	}
}

func TestRepeatedCredentialFailuresAutoBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "carol@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	for i := 0; i < 5; i++ {
		_, err := h.manager.Login(ctx, LoginRequest{
			Email: "carol@example.com", Credential: "wrong-password",
			Product: "desktop-pro", Fingerprint: "fp-c",
		})
		if fault.CodeOf(err) != fault.CodeInvalidCredential {
			t.Fatalf("attempt %d error = %v, want INVALID_CREDENTIAL", i+1, err)
		}
	}

	fresh, err := h.users.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !fresh.Blocked {
		t.Fatal("crossing the abuse threshold must block the user")
	}

	// Even the correct credential is refused once blocked.
	_, err = h.manager.Login(ctx, LoginRequest{
		Email: "carol@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-c",
	})
	if fault.CodeOf(err) != fault.CodeUserBlocked {
		t.Fatalf("blocked login error = %v, want USER_BLOCKED", err)
	}

	// Only an operator unblock restores access.
	if err := h.identity.Unblock(ctx, user.ID, "op@example.com", "verified identity"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, err := h.manager.Login(ctx, LoginRequest{
		Email: "carol@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-c",
	}); err != nil {
		t.Fatalf("login after unblock: %v", err)
	}
}

func TestLoginRequiresEntitlement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.registerUser(t, "dave@example.com", "correct-horse-battery")
	h.createProduct(t, "desktop-pro")

	_, err := h.manager.Login(ctx, LoginRequest{
		Email: "dave@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-d",
	})
	if fault.CodeOf(err) != fault.CodeNotEntitled {
		t.Fatalf("unlicensed login error = %v, want NOT_ENTITLED", err)
	}
}

func TestLoginRateLimitedAfterBurst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "erin@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)
	h.manager.policy.LoginLimit = 3

	for i := 0; i < 3; i++ {
		if _, err := h.manager.Login(ctx, LoginRequest{
			Email: "erin@example.com", Credential: "correct-horse-battery",
			Product: "desktop-pro", Fingerprint: "fp-e",
		}); err != nil {
			t.Fatalf("login %d: %v", i+1, err)
		}
	}

	_, err := h.manager.Login(ctx, LoginRequest{
		Email: "erin@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-e",
	})
	if fault.CodeOf(err) != fault.CodeRateLimited {
		t.Fatalf("burst login error = %v, want RATE_LIMITED", err)
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("rate limited error type = %T", err)
	}
	if rl.RetryAfter <= 0 {
		t.Fatalf("retry-after = %v, want positive", rl.RetryAfter)
	}
}

func TestValidateExpiresSessionLazily(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "frank@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	h.manager.now = func() time.Time { return base }

	res, err := h.manager.Login(ctx, LoginRequest{
		Email: "frank@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-f",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	h.manager.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := h.manager.Validate(ctx, res.Token, "fp-f"); fault.CodeOf(err) != fault.CodeSessionExpired {
		t.Fatalf("expired validate error = %v, want SESSION_EXPIRED", err)
	}

	// The row was flipped, so a later check within a rewound clock still fails.
	h.manager.now = func() time.Time { return base }
	if _, err := h.manager.Validate(ctx, res.Token, "fp-f"); fault.CodeOf(err) != fault.CodeSessionExpired {
		t.Fatalf("revalidate after lazy flip = %v, want SESSION_EXPIRED", err)
	}
}

func TestSessionNeverOutlivesLicense(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "grace@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	h.manager.now = func() time.Time { return base }
	h.licenses.now = func() time.Time { return base }
	h.grantLicense(t, user.ID, product.ID, timePtr(base.Add(10*time.Minute)))

	res, err := h.manager.Login(ctx, LoginRequest{
		Email: "grace@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-g",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.ExpiresAt.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("session expiry = %v, want capped at license expiry", res.ExpiresAt)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "henry@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	res, err := h.manager.Login(ctx, LoginRequest{
		Email: "henry@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-h",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := h.manager.Logout(ctx, res.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.manager.Logout(ctx, res.Token); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := h.manager.Logout(ctx, "never-issued-token"); err != nil {
		t.Fatalf("logout of unknown token: %v", err)
	}

	if _, err := h.manager.Validate(ctx, res.Token, "fp-h"); fault.CodeOf(err) != fault.CodeInvalidToken {
		t.Fatalf("validate after logout = %v, want INVALID_TOKEN", err)
	}
}

func TestValidateTokenOnlyKeepsSessionAlive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "kate@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	res, err := h.manager.Login(ctx, LoginRequest{
		Email: "kate@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-k",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Token-only validation must hold while the binding is unchanged.
	if _, err := h.manager.Validate(ctx, res.Token, ""); err != nil {
		t.Fatalf("token-only validate: %v", err)
	}

	// A foreign fingerprint rejects the call but never kills the session.
	if _, err := h.manager.Validate(ctx, res.Token, "fp-other"); fault.CodeOf(err) != fault.CodeHwidMismatch {
		t.Fatalf("foreign fingerprint validate = %v, want HWID_MISMATCH", err)
	}
	if _, err := h.manager.Validate(ctx, res.Token, "fp-k"); err != nil {
		t.Fatalf("validate from the bound device afterwards: %v", err)
	}
	if _, err := h.manager.Validate(ctx, res.Token, ""); err != nil {
		t.Fatalf("token-only validate afterwards: %v", err)
	}

	sessions, err := h.manager.ListActive(ctx, user.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("active sessions = %d, want the original session intact", len(sessions))
	}
}

// touchFailingUserRepo delegates everything except TouchLastLogin.
type touchFailingUserRepo struct {
	repository.UserRepository
}

func (r *touchFailingUserRepo) TouchLastLogin(context.Context, uint, time.Time) error {
	return errors.New("users table unavailable")
}

// resetFailingDetector delegates everything except Reset.
type resetFailingDetector struct {
	AbuseDetector
}

func (d *resetFailingDetector) Reset(context.Context, uint) error {
	return errors.New("abuse backend unavailable")
}

func TestLoginSurvivesBookkeepingFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "liam@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	h.manager.users = &touchFailingUserRepo{UserRepository: h.users}
	h.manager.detector = &resetFailingDetector{AbuseDetector: h.detector}

	// The session is durable once created; late bookkeeping errors must not
	// surface as a failed login the client would retry.
	res, err := h.manager.Login(ctx, LoginRequest{
		Email: "liam@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-l",
	})
	if err != nil {
		t.Fatalf("login with failing bookkeeping: %v", err)
	}
	if _, err := h.manager.Validate(ctx, res.Token, "fp-l"); err != nil {
		t.Fatalf("validate issued session: %v", err)
	}
}

// conflictBindingRepo reports every bind attempt as a lost race.
type conflictBindingRepo struct {
	repository.BindingRepository
}

func (r *conflictBindingRepo) BindOrVerify(context.Context, uint, uint, string) (repository.BindResult, error) {
	return repository.BindResult{Outcome: domain.BindingRejectedConflict}, nil
}

func TestLoginSurfacesLostBindRaceAsConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "mona@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	h.manager.bindings = NewBindingService(&conflictBindingRepo{}, h.audit, 0)

	_, err := h.manager.Login(ctx, LoginRequest{
		Email: "mona@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-m",
	})
	if fault.CodeOf(err) != fault.CodeBindingConflict {
		t.Fatalf("lost bind race login = %v, want BINDING_CONFLICT", err)
	}
	if fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("lost bind race kind = %v, want conflict", err)
	}
}

func TestLoginUnknownAccountIsIndistinguishable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "iris@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	_, unknownErr := h.manager.Login(ctx, LoginRequest{
		Email: "nobody@example.com", Credential: "whatever-password",
		Product: "desktop-pro", Fingerprint: "fp-i",
	})
	_, wrongErr := h.manager.Login(ctx, LoginRequest{
		Email: "iris@example.com", Credential: "wrong-password",
		Product: "desktop-pro", Fingerprint: "fp-i",
	})
	if fault.CodeOf(unknownErr) != fault.CodeInvalidCredential || fault.CodeOf(wrongErr) != fault.CodeInvalidCredential {
		t.Fatalf("unknown=%v wrong=%v, both must be INVALID_CREDENTIAL", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("messages differ: %q vs %q", unknownErr, wrongErr)
	}

	sessions, err := h.manager.ListActive(ctx, user.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("failed logins created %d sessions", len(sessions))
	}
}

func TestSweepExpiredSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "judy@example.com", "correct-horse-battery")
	product := h.createProduct(t, "desktop-pro")
	h.grantLicense(t, user.ID, product.ID, nil)

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	h.manager.now = func() time.Time { return base }
	if _, err := h.manager.Login(ctx, LoginRequest{
		Email: "judy@example.com", Credential: "correct-horse-battery",
		Product: "desktop-pro", Fingerprint: "fp-j",
	}); err != nil {
		t.Fatalf("login: %v", err)
	}

	h.manager.now = func() time.Time { return base.Add(2 * time.Hour) }
	n, err := h.manager.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep flipped %d sessions, want 1", n)
	}

	var s domain.Session
	if err := h.db.Where("user_id = ?", user.ID).First(&s).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if s.Valid || s.InvalidReason == nil || *s.InvalidReason != domain.SessionReasonExpired {
		t.Fatalf("swept session valid=%v reason=%v", s.Valid, s.InvalidReason)
	}
}
