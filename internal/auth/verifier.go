package auth

import (
	"context"
	"errors"
	"fmt"
)

// CredentialVerifier checks an identifier/secret pair against stored
// principals.
//
// Unknown identifier, wrong secret, inactive account, and
// federation-only account (no local password) all collapse into
// ErrInvalidCredentials so a caller cannot probe which identifiers
// exist. On every miss path the presented secret is still compared
// against a precomputed dummy hash, so the unknown-identifier path
// costs the same bcrypt work as the wrong-secret path.
type CredentialVerifier struct {
	repo      PrincipalRepository
	dummyHash string
}

// NewCredentialVerifier creates a verifier backed by the given
// repository. The dummy hash is computed once at the same cost as real
// hashes so miss paths stay indistinguishable.
func NewCredentialVerifier(repo PrincipalRepository, bcryptCost int) (*CredentialVerifier, error) {
	dummy, err := HashPassword("gatehouse-dummy-credential", bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("preparing dummy hash: %w", err)
	}
	return &CredentialVerifier{
		repo:      repo,
		dummyHash: dummy,
	}, nil
}

// Verify checks the secret for the given identifier and returns the
// principal on success.
//
// Returns ErrInvalidCredentials for every authentication miss, and
// ErrStoreUnavailable (wrapped) when the repository itself fails.
func (v *CredentialVerifier) Verify(ctx context.Context, identifier, secret string) (*Principal, error) {
	principal, err := v.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			// Burn the same hashing work as a real comparison.
			_, _ = VerifyPassword(secret, v.dummyHash) //nolint:errcheck // result deliberately discarded
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !principal.IsActive || principal.PasswordHash == "" {
		_, _ = VerifyPassword(secret, v.dummyHash) //nolint:errcheck // result deliberately discarded
		return nil, ErrInvalidCredentials
	}

	ok, err := VerifyPassword(secret, principal.PasswordHash)
	if err != nil {
		// Malformed stored hash. Treat as a miss, never as a probe signal.
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return principal, nil
}
