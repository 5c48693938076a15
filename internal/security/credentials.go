package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrCredentialMismatch = errors.New("credential mismatch")

// CredentialVerifier abstracts the hashing scheme away from the core. The
// services depend only on this interface; swapping the scheme is a wiring
// change, not a core change.
type CredentialVerifier interface {
	Hash(credential string) (string, error)
	Verify(credential, hash string) error
}

type BcryptVerifier struct {
	cost int
}

func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptVerifier{cost: cost}
}

func (v *BcryptVerifier) Hash(credential string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(credential), v.cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(h), nil
}

func (v *BcryptVerifier) Verify(credential, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrCredentialMismatch
		}
		return fmt.Errorf("verify credential: %w", err)
	}
	return nil
}
