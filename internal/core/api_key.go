package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/arkline/escrowd/internal/platform"
)

type APIKeyService struct {
	db DB
}

func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// Create mints a new API key and stores only its SHA-256 hash. The plaintext
// key is returned once and never persisted.
func (s *APIKeyService) Create(ctx context.Context, name string) (id, plaintext string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	plaintext = hex.EncodeToString(raw)
	hash := sha256.Sum256([]byte(plaintext))

	id = platform.NewID()
	_, err = s.db.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, created_at) VALUES ($1, $2, $3, $4)`,
		id, name, hex.EncodeToString(hash[:]), time.Now(),
	)
	if err != nil {
		return "", "", fmt.Errorf("insert api key: %w", err)
	}
	return id, plaintext, nil
}

// Revoke marks a key as revoked; the auth middleware rejects revoked keys.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	return nil
}
