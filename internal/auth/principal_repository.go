package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PrincipalRepository defines the interface for principal persistence.
type PrincipalRepository interface {
	Create(ctx context.Context, principal *Principal) error
	GetByID(ctx context.Context, id string) (*Principal, error)
	FindByIdentifier(ctx context.Context, identifier string) (*Principal, error)
	FindByExternalID(ctx context.Context, provider, externalID string) (*Principal, error)
	List(ctx context.Context) ([]Principal, error)
	Update(ctx context.Context, principal *Principal) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Deactivate(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SQLitePrincipalRepository implements PrincipalRepository using SQLite.
type SQLitePrincipalRepository struct {
	db *sql.DB
}

// NewPrincipalRepository creates a new SQLite-backed principal repository.
func NewPrincipalRepository(db *sql.DB) *SQLitePrincipalRepository {
	return &SQLitePrincipalRepository{db: db}
}

const principalColumns = "id, identifier, external_id, provider, display_name, password_hash, roles, is_active, created_at, updated_at"

// Create inserts a new principal. The ID is generated if empty.
//
// Returns ErrIdentifierExists or ErrExternalIDExists on a unique
// constraint violation, which callers rely on for race-safe federated
// provisioning.
func (r *SQLitePrincipalRepository) Create(ctx context.Context, principal *Principal) error {
	if principal.ID == "" {
		principal.ID = "prn-" + uuid.NewString()[:8]
	}

	rolesJSON, err := marshalRoles(principal.Roles)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	principal.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	principal.UpdatedAt = principal.CreatedAt

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO principals (id, identifier, external_id, provider, display_name, password_hash, roles, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		principal.ID, nullString(principal.Identifier),
		nullString(principal.ExternalID), nullString(principal.Provider),
		principal.DisplayName, nullString(principal.PasswordHash),
		rolesJSON, boolToInt(principal.IsActive), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// SQLite names the violated columns in the message.
			if principal.ExternalID != "" && contains(err.Error(), "external_id") {
				return ErrExternalIDExists
			}
			return ErrIdentifierExists
		}
		return fmt.Errorf("creating principal: %w", err)
	}

	return nil
}

// GetByID retrieves a principal by its unique ID.
func (r *SQLitePrincipalRepository) GetByID(ctx context.Context, id string) (*Principal, error) {
	return r.getPrincipal(ctx,
		"SELECT "+principalColumns+" FROM principals WHERE id = ?", id)
}

// FindByIdentifier retrieves a principal by its local login identifier.
func (r *SQLitePrincipalRepository) FindByIdentifier(ctx context.Context, identifier string) (*Principal, error) {
	return r.getPrincipal(ctx,
		"SELECT "+principalColumns+" FROM principals WHERE identifier = ?", identifier)
}

// FindByExternalID retrieves a principal by its federated identity key.
func (r *SQLitePrincipalRepository) FindByExternalID(ctx context.Context, provider, externalID string) (*Principal, error) {
	return r.getPrincipal(ctx,
		"SELECT "+principalColumns+" FROM principals WHERE provider = ? AND external_id = ?",
		provider, externalID)
}

// List returns all principals ordered by creation date.
func (r *SQLitePrincipalRepository) List(ctx context.Context) ([]Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+principalColumns+" FROM principals ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}
	defer rows.Close()

	var principals []Principal
	for rows.Next() {
		p, err := scanPrincipalFrom(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principals: %w", err)
	}

	if principals == nil {
		principals = []Principal{}
	}
	return principals, nil
}

// Update modifies a principal's mutable fields (display_name, roles, is_active).
func (r *SQLitePrincipalRepository) Update(ctx context.Context, principal *Principal) error {
	rolesJSON, err := marshalRoles(principal.Roles)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	principal.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE principals SET display_name = ?, roles = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		principal.DisplayName, rolesJSON, boolToInt(principal.IsActive), now, principal.ID,
	)
	if err != nil {
		return fmt.Errorf("updating principal: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// UpdatePassword changes a principal's password hash.
func (r *SQLitePrincipalRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		`UPDATE principals SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// Deactivate soft-deletes a principal. The record stays so audit
// entries keep a valid reference; verification and federated login
// refuse inactive accounts.
func (r *SQLitePrincipalRepository) Deactivate(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		`UPDATE principals SET is_active = 0, updated_at = ? WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("deactivating principal: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// Count returns the total number of principals.
func (r *SQLitePrincipalRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM principals").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return count, nil
}

// getPrincipal executes a query and scans a single principal result.
func (r *SQLitePrincipalRepository) getPrincipal(ctx context.Context, query string, args ...any) (*Principal, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	return scanPrincipalFrom(row)
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanPrincipalFrom scans a principal from any scanner (Row or Rows).
func scanPrincipalFrom(s scanner) (*Principal, error) {
	var p Principal
	var identifier, externalID, provider, passwordHash sql.NullString
	var rolesJSON string
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&p.ID, &identifier, &externalID, &provider,
		&p.DisplayName, &passwordHash, &rolesJSON, &isActive,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("scanning principal: %w", err)
	}

	if identifier.Valid {
		p.Identifier = identifier.String
	}
	if externalID.Valid {
		p.ExternalID = externalID.String
	}
	if provider.Valid {
		p.Provider = provider.String
	}
	if passwordHash.Valid {
		p.PasswordHash = passwordHash.String
	}
	p.IsActive = isActive != 0

	if err := json.Unmarshal([]byte(rolesJSON), &p.Roles); err != nil {
		return nil, fmt.Errorf("parsing roles for principal %s: %w", p.ID, err)
	}

	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &p, nil
}

// Helper functions.

func marshalRoles(roles []Role) (string, error) {
	if roles == nil {
		roles = []Role{}
	}
	b, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("marshalling roles: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") ||
		contains(err.Error(), "unique constraint"))
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
