package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindAndCodeOf(t *testing.T) {
	base := New(KindPolicy, CodeRateLimited, "too many requests")
	wrapped := fmt.Errorf("login: %w", base)

	if KindOf(wrapped) != KindPolicy {
		t.Fatalf("KindOf = %v, want KindPolicy", KindOf(wrapped))
	}
	if CodeOf(wrapped) != CodeRateLimited {
		t.Fatalf("CodeOf = %q, want %q", CodeOf(wrapped), CodeRateLimited)
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain errors must map to KindUnknown")
	}
}

func TestIsMatchesKindAndCode(t *testing.T) {
	err := Wrap(KindConflict, CodeBindingConflict, "binding race lost", errors.New("duplicate key"))

	if !errors.Is(err, New(KindConflict, CodeBindingConflict, "")) {
		t.Fatal("expected match on kind+code")
	}
	if !errors.Is(err, &Error{Kind: KindConflict}) {
		t.Fatal("expected match on kind with empty code")
	}
	if errors.Is(err, New(KindAuth, CodeBindingConflict, "")) {
		t.Fatal("unexpected match across kinds")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(KindConflict, CodeBindingConflict, ""), true},
		{New(KindUnavailable, CodeStorageUnavailable, ""), true},
		{New(KindAuth, CodeInvalidCredential, ""), false},
		{New(KindPolicy, CodeUserBlocked, ""), false},
		{errors.New("plain"), false},
	}
	for _, tc := range tests {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorStringIncludesWrappedCause(t *testing.T) {
	err := Wrap(KindUnavailable, CodeStorageUnavailable, "store timeout", errors.New("context deadline exceeded"))
	if got := err.Error(); got != "STORAGE_UNAVAILABLE: store timeout: context deadline exceeded" {
		t.Fatalf("unexpected error string: %q", got)
	}
}
