package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenResponse is returned by sign-in and sign-up.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	IdentityID  uuid.UUID `json:"identity_id"`
	IssuedAt    time.Time `json:"issued_at"`
}
