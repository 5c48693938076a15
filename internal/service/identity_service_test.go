package service

import (
	"context"
	"testing"

	"github.com/licenselock/licenselock/internal/fault"
)

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.registerUser(t, "alice@example.com", "correct-horse-battery")
	_, err := h.identity.Register(ctx, "alice@example.com", "different-password")
	if fault.CodeOf(err) != fault.CodeEmailTaken {
		t.Fatalf("duplicate register error = %v, want EMAIL_TAKEN", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if _, err := h.identity.Register(ctx, "not-an-email", "correct-horse-battery"); fault.CodeOf(err) != fault.CodeInvalidInput {
		t.Fatalf("bad email error = %v, want INVALID_INPUT", err)
	}
	if _, err := h.identity.Register(ctx, "bob@example.com", "short"); fault.CodeOf(err) != fault.CodeInvalidInput {
		t.Fatalf("short credential error = %v, want INVALID_INPUT", err)
	}
}

func TestRegisterNeverStoresPlaintextCredential(t *testing.T) {
	h := newHarness(t)
	user := h.registerUser(t, "carol@example.com", "correct-horse-battery")
	if user.CredentialHash == "correct-horse-battery" || user.CredentialHash == "" {
		t.Fatalf("credential hash = %q", user.CredentialHash)
	}
}

func TestBlockInvalidatesAllSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "dave@example.com", "correct-horse-battery")
	productA := h.createProduct(t, "desktop-pro")
	productB := h.createProduct(t, "desktop-lite")
	h.grantLicense(t, user.ID, productA.ID, nil)
	h.grantLicense(t, user.ID, productB.ID, nil)

	for _, p := range []string{"desktop-pro", "desktop-lite"} {
		if _, err := h.manager.Login(ctx, LoginRequest{
			Email: "dave@example.com", Credential: "correct-horse-battery",
			Product: p, Fingerprint: "fp-d",
		}); err != nil {
			t.Fatalf("login %s: %v", p, err)
		}
	}
	active, err := h.manager.ListActive(ctx, user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active sessions = %d, want 2", len(active))
	}

	if err := h.identity.Block(ctx, user.ID, "op@example.com", "fraud review"); err != nil {
		t.Fatalf("block: %v", err)
	}
	active, err = h.manager.ListActive(ctx, user.ID)
	if err != nil {
		t.Fatalf("list after block: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("blocked user still holds %d sessions", len(active))
	}
}

func TestBlockUnknownUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.identity.Block(ctx, 404, "op@example.com", "noop"); fault.CodeOf(err) != fault.CodeNotFound {
		t.Fatalf("block unknown user = %v, want NOT_FOUND", err)
	}
}

func TestBlockLeavesAuditTrail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.registerUser(t, "erin@example.com", "correct-horse-battery")

	if err := h.identity.Block(ctx, user.ID, "op@example.com", "chargeback"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := h.identity.Unblock(ctx, user.ID, "op@example.com", "resolved"); err != nil {
		t.Fatalf("unblock: %v", err)
	}

	entries, err := h.audit.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	if len(actions) < 2 {
		t.Fatalf("audit actions = %v, want block and unblock", actions)
	}
}
