package auth

import (
	"context"
	"errors"
	"testing"
)

func newTestVerifier(t *testing.T) (*CredentialVerifier, PrincipalRepository) {
	t.Helper()
	repo := NewPrincipalRepository(testDB(t))
	v, err := NewCredentialVerifier(repo, MinBcryptCost)
	if err != nil {
		t.Fatalf("NewCredentialVerifier() error = %v", err)
	}
	return v, repo
}

func TestVerifier_CorrectCredentials(t *testing.T) {
	v, repo := newTestVerifier(t)
	seeded := seedTestPrincipal(t, repo, "alice", "s3cret", RoleUser)

	principal, err := v.Verify(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if principal.ID != seeded.ID {
		t.Errorf("principal ID = %q, want %q", principal.ID, seeded.ID)
	}
}

func TestVerifier_WrongSecret(t *testing.T) {
	v, repo := newTestVerifier(t)
	seedTestPrincipal(t, repo, "alice", "s3cret", RoleUser)

	_, err := v.Verify(context.Background(), "alice", "not-the-secret")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifier_UnknownIdentifier(t *testing.T) {
	v, _ := newTestVerifier(t)

	// Unknown identifier and wrong secret must be the same error, so a
	// caller cannot tell them apart.
	_, err := v.Verify(context.Background(), "nobody", "anything")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifier_InactivePrincipal(t *testing.T) {
	v, repo := newTestVerifier(t)
	p := seedTestPrincipal(t, repo, "alice", "s3cret", RoleUser)

	if err := repo.Deactivate(context.Background(), p.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	_, err := v.Verify(context.Background(), "alice", "s3cret")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() on inactive account error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifier_FederationOnlyPrincipal(t *testing.T) {
	v, repo := newTestVerifier(t)

	// A federated account with no local password can never pass local
	// verification, whatever the secret.
	p := &Principal{
		ExternalID:  "ext-123",
		Provider:    "google",
		DisplayName: "Fed Only",
		Roles:       []Role{RoleUser},
		IsActive:    true,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := v.Verify(context.Background(), "", "anything")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifier_StoreFailureSurfaces(t *testing.T) {
	db := testDB(t)
	repo := NewPrincipalRepository(db)
	v, err := NewCredentialVerifier(repo, MinBcryptCost)
	if err != nil {
		t.Fatalf("NewCredentialVerifier() error = %v", err)
	}

	// Closing the database makes every query fail; the verifier must
	// surface that as a store fault, not as an authentication miss.
	db.Close()

	_, err = v.Verify(context.Background(), "alice", "s3cret")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Verify() error = %v, want ErrStoreUnavailable", err)
	}
}
