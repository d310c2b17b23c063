package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourmine/gatehouse/internal/audit"
	"github.com/yourmine/gatehouse/internal/infrastructure/config"
	"github.com/yourmine/gatehouse/internal/session"
)

// auditSource tags audit entries written by the login flow.
const auditSource = "gatehouse"

// FailureMessage is the only message shown for any authentication
// miss. It never distinguishes unknown identifier from wrong secret.
const FailureMessage = "invalid username or password"

// LoginResult is the outcome of a login or logout operation.
//
// Redirect is always populated: the success target on success, the
// configured failure target otherwise. On success Token carries the
// new session token and Principal the authenticated account.
type LoginResult struct {
	Token     string
	Redirect  string
	Principal *Principal
}

// Flow coordinates credential verification, session creation, and
// outcome handling: which redirect a caller lands on, what gets
// audited, and how federated identities are provisioned.
type Flow struct {
	verifier  *CredentialVerifier
	repo      PrincipalRepository
	sessions  *session.Store
	audit     audit.Repository
	redirects config.RedirectConfig
	federated config.FederatedConfig
	logger    *slog.Logger
}

// NewFlow wires the login flow together.
func NewFlow(
	verifier *CredentialVerifier,
	repo PrincipalRepository,
	sessions *session.Store,
	auditRepo audit.Repository,
	redirects config.RedirectConfig,
	federated config.FederatedConfig,
	logger *slog.Logger,
) *Flow {
	return &Flow{
		verifier:  verifier,
		repo:      repo,
		sessions:  sessions,
		audit:     auditRepo,
		redirects: redirects,
		federated: federated,
		logger:    logger,
	}
}

// Login authenticates a local identifier/secret pair and creates a
// session.
//
// Every miss returns ErrInvalidCredentials (or ErrSessionLimit when
// the account is at its session cap) with the failure redirect; the
// error never reveals whether the identifier exists. Failures are
// audited without the secret.
func (f *Flow) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	principal, err := f.verifier.Verify(ctx, identifier, secret)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			// Dependency fault, not an authentication outcome.
			return nil, err
		}
		f.recordAudit(ctx, &audit.AuditLog{
			Action:     audit.ActionLoginFailed,
			EntityType: audit.EntityPrincipal,
			Source:     auditSource,
			Details:    map[string]any{"identifier": identifier},
		})
		return &LoginResult{Redirect: f.redirects.Failure}, ErrInvalidCredentials
	}

	sess, err := f.sessions.Create(principal.ID, principal.RoleStrings())
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			f.recordAudit(ctx, &audit.AuditLog{
				Action:      audit.ActionLoginFailed,
				EntityType:  audit.EntityPrincipal,
				EntityID:    principal.ID,
				PrincipalID: principal.ID,
				Source:      auditSource,
				Details:     map[string]any{"reason": "session_limit"},
			})
			return &LoginResult{Redirect: f.redirects.Failure}, session.ErrSessionLimit
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}

	f.recordAudit(ctx, &audit.AuditLog{
		Action:      audit.ActionLogin,
		EntityType:  audit.EntitySession,
		EntityID:    sess.Token[:8],
		PrincipalID: principal.ID,
		Source:      auditSource,
	})

	return &LoginResult{
		Token:     sess.Token,
		Redirect:  f.redirects.Success,
		Principal: principal,
	}, nil
}

// FederatedLogin signs in an identity asserted by an external
// provider, provisioning a principal on first login.
//
// Lookup is keyed on (provider, external id) only; provisioning under
// concurrency is settled by the storage unique index, so exactly one
// principal ever exists per external identity.
func (f *Flow) FederatedLogin(ctx context.Context, profile FederatedProfile) (*LoginResult, error) {
	if profile.Provider == "" || profile.ExternalID == "" {
		return &LoginResult{Redirect: f.redirects.Failure}, ErrInvalidCredentials
	}

	principal, err := f.repo.FindByExternalID(ctx, profile.Provider, profile.ExternalID)
	switch {
	case err == nil:
		// Known identity.
	case errors.Is(err, ErrPrincipalNotFound):
		principal, err = f.provision(ctx, profile)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !principal.IsActive {
		f.recordAudit(ctx, &audit.AuditLog{
			Action:      audit.ActionLoginFailed,
			EntityType:  audit.EntityPrincipal,
			EntityID:    principal.ID,
			PrincipalID: principal.ID,
			Source:      auditSource,
			Details:     map[string]any{"reason": "inactive", "provider": profile.Provider},
		})
		return &LoginResult{Redirect: f.redirects.Failure}, ErrInvalidCredentials
	}

	sess, err := f.sessions.Create(principal.ID, principal.RoleStrings())
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			f.recordAudit(ctx, &audit.AuditLog{
				Action:      audit.ActionLoginFailed,
				EntityType:  audit.EntityPrincipal,
				EntityID:    principal.ID,
				PrincipalID: principal.ID,
				Source:      auditSource,
				Details:     map[string]any{"reason": "session_limit", "provider": profile.Provider},
			})
			return &LoginResult{Redirect: f.redirects.Failure}, session.ErrSessionLimit
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}

	f.recordAudit(ctx, &audit.AuditLog{
		Action:      audit.ActionFederatedLogin,
		EntityType:  audit.EntitySession,
		EntityID:    sess.Token[:8],
		PrincipalID: principal.ID,
		Source:      auditSource,
		Details:     map[string]any{"provider": profile.Provider},
	})

	return &LoginResult{
		Token:     sess.Token,
		Redirect:  f.redirects.Success,
		Principal: principal,
	}, nil
}

// provision creates a principal for a first federated login. A
// concurrent provisioning race is resolved by refetching the row the
// winner inserted.
func (f *Flow) provision(ctx context.Context, profile FederatedProfile) (*Principal, error) {
	roles := make([]Role, 0, len(f.federated.DefaultRoles))
	for _, r := range f.federated.DefaultRoles {
		roles = append(roles, Role(r))
	}

	principal := &Principal{
		ExternalID:  profile.ExternalID,
		Provider:    profile.Provider,
		DisplayName: profile.DisplayName,
		Roles:       roles,
		IsActive:    true,
	}

	err := f.repo.Create(ctx, principal)
	switch {
	case err == nil:
		f.recordAudit(ctx, &audit.AuditLog{
			Action:      audit.ActionProvisioned,
			EntityType:  audit.EntityPrincipal,
			EntityID:    principal.ID,
			PrincipalID: principal.ID,
			Source:      auditSource,
			Details:     map[string]any{"provider": profile.Provider},
		})
		f.logger.Info("provisioned federated principal",
			"principal_id", principal.ID,
			"provider", profile.Provider,
		)
		return principal, nil
	case errors.Is(err, ErrExternalIDExists):
		// Lost the provisioning race; the other login created it.
		existing, ferr := f.repo.FindByExternalID(ctx, profile.Provider, profile.ExternalID)
		if ferr != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, ferr)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// Logout invalidates a session and returns the logout redirect.
// Logging out an unknown or already-expired token succeeds silently.
func (f *Flow) Logout(ctx context.Context, token string) *LoginResult {
	if f.sessions.Invalidate(token) {
		f.recordAudit(ctx, &audit.AuditLog{
			Action:     audit.ActionLogout,
			EntityType: audit.EntitySession,
			EntityID:   token[:min(len(token), 8)],
			Source:     auditSource,
		})
	}
	return &LoginResult{Redirect: f.redirects.Logout}
}

// LogoutAll revokes every session of a principal and returns how many
// were removed. Used on password change and deactivation.
func (f *Flow) LogoutAll(ctx context.Context, principalID string) int {
	removed := f.sessions.InvalidateAll(principalID)
	if removed > 0 {
		f.recordAudit(ctx, &audit.AuditLog{
			Action:      audit.ActionLogoutAll,
			EntityType:  audit.EntityPrincipal,
			EntityID:    principalID,
			PrincipalID: principalID,
			Source:      auditSource,
			Details:     map[string]any{"sessions_removed": removed},
		})
	}
	return removed
}

// recordAudit writes an audit entry. Audit failures are logged, never
// allowed to fail the authentication outcome itself.
func (f *Flow) recordAudit(ctx context.Context, entry *audit.AuditLog) {
	if f.audit == nil {
		return
	}
	if err := f.audit.Create(ctx, entry); err != nil {
		f.logger.Error("writing audit entry", "action", entry.Action, "error", err)
	}
}
