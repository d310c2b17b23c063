package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt cost bounds. DefaultBcryptCost matches the library default;
// anything below MinBcryptCost is refused rather than silently weakened.
const (
	DefaultBcryptCost = bcrypt.DefaultCost
	MinBcryptCost     = bcrypt.MinCost
	MaxBcryptCost     = bcrypt.MaxCost
)

// HashPassword hashes a plaintext password with bcrypt at the given cost.
// A cost of 0 uses DefaultBcryptCost.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < MinBcryptCost || cost > MaxBcryptCost {
		return "", fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, MinBcryptCost, MaxBcryptCost)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
// Returns true if the password matches. The comparison inside bcrypt is
// constant-time with respect to the hash contents.
func VerifyPassword(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("verifying password: %w", err)
}
