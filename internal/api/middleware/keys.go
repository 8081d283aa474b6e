package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

// KeyPrefix starts every raw API key.
const KeyPrefix = "dr_"

const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// ValidScopes lists the scopes a key may carry.
var ValidScopes = []string{ScopeRead, ScopeWrite, ScopeAdmin}

// GenerateAPIKey creates a key record and returns it with the raw key, which
// is never stored.
func GenerateAPIKey(name string, scopes []string) (*models.APIKey, string, error) {
	for _, s := range scopes {
		if !slices.Contains(ValidScopes, s) {
			return nil, "", fmt.Errorf("unknown scope %q", s)
		}
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	raw := KeyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, raw, nil
}
