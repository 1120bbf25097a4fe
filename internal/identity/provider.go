// Package identity holds the identity-provider contract consumed by the core
// and the adapters that implement it.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	SignedIn  EventType = "signed_in"
	SignedOut EventType = "signed_out"
)

// Event is a session lifecycle notification emitted by a provider.
type Event struct {
	Type       EventType `json:"type"`
	IdentityID uuid.UUID `json:"identity_id"`
	At         time.Time `json:"at"`
}

// Provider verifies credentials and owns identity records. Every call is
// bounded by ctx. Credential rejection is reported as an authentication error.
type Provider interface {
	VerifyCredentials(ctx context.Context, email, password string) (uuid.UUID, error)
	CreateIdentity(ctx context.Context, email, password string, metadata map[string]any) (uuid.UUID, error)
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
	SendInvite(ctx context.Context, email string, metadata map[string]any) (uuid.UUID, error)
	SendPasswordReset(ctx context.Context, email string) error
	RevokeSession(ctx context.Context, id uuid.UUID) error
	Subscribe(handler func(Event)) (unsubscribe func())
}

// TokenVerifier turns a bearer token into the identity it was issued for.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Claims, error)
}

// KeyValueStore is the slice of the cache service the local provider needs
// for revocation markers and setup tokens.
type KeyValueStore interface {
	SetString(ctx context.Context, key string, value string, ttl time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}
