package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// SeedAdmin creates the initial admin account on first boot if no principals exist.
// The generated password is logged and must be changed immediately.
// Returns the generated password (empty string if seeding was skipped).
func SeedAdmin(ctx context.Context, repo PrincipalRepository, bcryptCost int, logger *slog.Logger) (string, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking principal count: %w", err)
	}

	if count > 0 {
		logger.Info("principals exist, skipping admin seed")
		return "", nil
	}

	// Generate a random password
	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := HashPassword(password, bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &Principal{
		Identifier:   "admin",
		DisplayName:  "System Administrator",
		PasswordHash: hash,
		Roles:        []Role{RoleAdmin},
		IsActive:     true,
	}

	if err := repo.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"identifier", "admin",
		"password", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}
