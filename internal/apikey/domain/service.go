package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error

	// Verify authenticates a presented key and returns its identity. Any
	// failure, unknown, revoked, expired or mismatched, yields ErrKeyInvalid.
	Verify(ctx context.Context, presented string) (*Identity, error)

	// EnsureBootstrapKey issues an all-scope key when the table is empty and
	// logs the secret once. Subsequent boots are no-ops.
	EnsureBootstrapKey(ctx context.Context) error
}

type CreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	Prefix           string     `json:"prefix"`
	Scopes           []string   `json:"scopes"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

// SecretResponse carries the plain key. It exists only in the create and
// rotate responses; the key is not recoverable afterwards.
type SecretResponse struct {
	KeyID  string   `json:"key_id"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
	APIKey string   `json:"api_key"`
}

// Identity is the authenticated caller derived from a verified key.
type Identity struct {
	KeyID  string
	Name   string
	Scopes []string
}

// HasScope reports whether the identity carries the scope.
func (i Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidScope = errors.New("invalid_scope")
	ErrInvalidKeyID = errors.New("invalid_key_id")
	ErrKeyNotFound  = errors.New("key_not_found")
	ErrKeyInvalid   = errors.New("key_invalid")
)
