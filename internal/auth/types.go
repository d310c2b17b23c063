package auth

import (
	"errors"
	"regexp"
	"time"
)

// identifierPattern defines the valid format for login identifiers:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxIdentifierLength is the maximum allowed identifier length.
const maxIdentifierLength = 64

// IsValidIdentifier checks if a login identifier meets format requirements.
// Identifiers must be 1-64 characters, alphanumeric with dots, hyphens, underscores.
func IsValidIdentifier(identifier string) bool {
	return len(identifier) <= maxIdentifierLength && identifierPattern.MatchString(identifier)
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleUser is an ordinary member account.
	RoleUser Role = "user"

	// RoleAdmin can manage content and other accounts.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles an account may hold.
var ValidRoles = []Role{RoleUser, RoleAdmin}

// IsValidRole returns true if the role is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Principal represents an account that can authenticate.
//
// Local principals carry an Identifier and PasswordHash. Federated
// principals carry an ExternalID and Provider instead; both may be set
// on an account that can log in either way.
type Principal struct {
	ID           string    `json:"id"`
	Identifier   string    `json:"identifier,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"` // never serialised
	Roles        []Role    `json:"roles"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasAnyRole returns true if the principal holds at least one of the
// given roles.
func (p *Principal) HasAnyRole(roles ...Role) bool {
	for _, want := range roles {
		for _, have := range p.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// RoleStrings returns the principal's roles as plain strings, for
// snapshotting into a session.
func (p *Principal) RoleStrings() []string {
	out := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		out[i] = string(r)
	}
	return out
}

// FederatedProfile is the identity asserted by an external provider
// after its own handshake has completed. The wire protocol that
// produced it is not this package's concern.
type FederatedProfile struct {
	// Provider names the identity provider (e.g. "google", "naver").
	Provider string

	// ExternalID is the provider's stable subject identifier. It must
	// never be an email address or display name, which can change.
	ExternalID string

	// DisplayName is the name asserted by the provider, used only when
	// provisioning a new principal.
	DisplayName string
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPrincipalNotFound  = errors.New("principal not found")
	ErrPrincipalInactive  = errors.New("principal is inactive")
	ErrIdentifierExists   = errors.New("identifier already exists")
	ErrExternalIDExists   = errors.New("external identity already exists")
	ErrNoPassword         = errors.New("principal has no local password")
	ErrStoreUnavailable   = errors.New("identity store unavailable")
)
