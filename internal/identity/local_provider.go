package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/common"
	"tenantcore/internal/logger"
	"tenantcore/internal/models"
	"tenantcore/internal/repositories"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type LocalProviderConfig struct {
	Secret     string
	Issuer     string
	TokenTTL   time.Duration
	InviteTTL  time.Duration
	ResetTTL   time.Duration
	SetupURL   string
	BcryptCost int
}

// LocalProvider is a self-hosted identity provider: bcrypt password hashes in
// the identities table, HS256 access tokens, and redis-held revocation markers
// and setup tokens.
type LocalProvider struct {
	creds    repositories.CredentialRepository
	kv       KeyValueStore
	bus      EventBus
	notifier Notifier
	signer   tokenSigner
	cfg      LocalProviderConfig
	log      logger.Logger
	now      func() time.Time
}

func NewLocalProvider(creds repositories.CredentialRepository, kv KeyValueStore, bus EventBus, notifier Notifier, cfg LocalProviderConfig, log logger.Logger) *LocalProvider {
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 7 * 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	return &LocalProvider{
		creds:    creds,
		kv:       kv,
		bus:      bus,
		notifier: notifier,
		signer:   tokenSigner{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: cfg.TokenTTL},
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (p *LocalProvider) SetClock(now func() time.Time) {
	p.now = now
}

func revokedKey(id uuid.UUID) string { return "tenantcore:identity:revoked_before:" + id.String() }
func setupKey(hash string) string    { return "tenantcore:identity:setup:" + hash }

func (p *LocalProvider) VerifyCredentials(ctx context.Context, email, password string) (uuid.UUID, error) {
	cred, err := p.creds.GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return uuid.Nil, apperr.Authentication("invalid email or password")
		}
		return uuid.Nil, apperr.External(err, "verify credentials")
	}
	if !cred.HasPassword() {
		return uuid.Nil, apperr.Authentication("password has not been set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return uuid.Nil, apperr.Authentication("invalid email or password")
	}
	if err := ctx.Err(); err != nil {
		return uuid.Nil, apperr.FromContext(err, "verify credentials")
	}
	return cred.ID, nil
}

func (p *LocalProvider) CreateIdentity(ctx context.Context, email, password string, metadata map[string]any) (uuid.UUID, error) {
	if err := common.ValidatePassword(password); err != nil {
		return uuid.Nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BcryptCost)
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, apperr.CodeValidation, "password cannot be hashed")
	}
	return p.createCredential(ctx, email, string(hash), metadata)
}

func (p *LocalProvider) createCredential(ctx context.Context, email, hash string, metadata map[string]any) (uuid.UUID, error) {
	now := p.now().UTC()
	cred := &models.Credential{
		ID:           uuid.New(),
		Email:        common.NormalizeEmail(email),
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.creds.Create(ctx, cred); err != nil {
		return uuid.Nil, apperr.External(err, "create identity")
	}
	return cred.ID, nil
}

// DeleteIdentity is idempotent: deleting a missing identity succeeds.
// Outstanding tokens for the identity are revoked.
func (p *LocalProvider) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	if err := p.creds.Delete(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return apperr.External(err, "delete identity")
	}
	if err := p.RevokeSession(ctx, id); err != nil {
		p.log.Warn("failed to revoke sessions of deleted identity", logger.String("identity_id", id.String()), logger.Error(err))
	}
	return nil
}

func (p *LocalProvider) SendInvite(ctx context.Context, email string, metadata map[string]any) (uuid.UUID, error) {
	id, err := p.createCredential(ctx, email, "", metadata)
	if err != nil {
		return uuid.Nil, err
	}
	if err := p.sendSetupLink(ctx, NotificationInvite, id, common.NormalizeEmail(email), p.cfg.InviteTTL, metadata); err != nil {
		if rbErr := p.creds.Delete(ctx, id); rbErr != nil {
			return uuid.Nil, apperr.Compensated(err, rbErr)
		}
		return uuid.Nil, err
	}
	return id, nil
}

// SendPasswordReset succeeds without sending anything for unknown addresses.
func (p *LocalProvider) SendPasswordReset(ctx context.Context, email string) error {
	email = common.NormalizeEmail(email)
	cred, err := p.creds.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return apperr.External(err, "send password reset")
	}
	return p.sendSetupLink(ctx, NotificationPasswordReset, cred.ID, email, p.cfg.ResetTTL, nil)
}

func (p *LocalProvider) sendSetupLink(ctx context.Context, kind string, id uuid.UUID, email string, ttl time.Duration, metadata map[string]any) error {
	token, err := generateSetupToken()
	if err != nil {
		return apperr.Dependency(err, "generate setup token", false)
	}
	if err := p.kv.SetString(ctx, setupKey(hashToken(token)), id.String(), ttl); err != nil {
		return apperr.External(err, "store setup token")
	}

	link := p.cfg.SetupURL
	if u, err := url.Parse(p.cfg.SetupURL); err == nil {
		q := u.Query()
		q.Set("token", token)
		q.Set("type", kind)
		u.RawQuery = q.Encode()
		link = u.String()
	}

	n := Notification{
		Kind:       kind,
		IdentityID: id,
		Email:      email,
		Link:       link,
		ExpiresAt:  p.now().UTC().Add(ttl),
		Metadata:   metadata,
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		return apperr.External(err, "deliver "+kind)
	}
	return nil
}

// CompletePasswordSetup consumes an invite or reset token and sets the
// password. Existing sessions of the identity are revoked.
func (p *LocalProvider) CompletePasswordSetup(ctx context.Context, token, password string) (uuid.UUID, error) {
	if err := common.ValidatePassword(password); err != nil {
		return uuid.Nil, err
	}
	key := setupKey(hashToken(token))
	raw, err := p.kv.GetString(ctx, key)
	if err != nil {
		return uuid.Nil, apperr.External(err, "load setup token")
	}
	id, err := uuid.Parse(raw)
	if raw == "" || err != nil {
		return uuid.Nil, apperr.Authentication("setup token is invalid or expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BcryptCost)
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, apperr.CodeValidation, "password cannot be hashed")
	}
	if err := p.creds.SetPasswordHash(ctx, id, string(hash), p.now().UTC()); err != nil {
		return uuid.Nil, apperr.External(err, "set password")
	}
	if err := p.kv.Delete(ctx, key); err != nil {
		p.log.Warn("failed to discard used setup token", logger.String("identity_id", id.String()), logger.Error(err))
	}
	if err := p.RevokeSession(ctx, id); err != nil {
		p.log.Warn("failed to revoke sessions after password setup", logger.String("identity_id", id.String()), logger.Error(err))
	}
	return id, nil
}

// RevokeSession invalidates every token issued to id up to now.
func (p *LocalProvider) RevokeSession(ctx context.Context, id uuid.UUID) error {
	now := p.now()
	if err := p.kv.SetString(ctx, revokedKey(id), strconv.FormatInt(now.UnixMilli(), 10), p.cfg.TokenTTL); err != nil {
		return apperr.External(err, "revoke session")
	}
	p.publish(ctx, Event{Type: SignedOut, IdentityID: id, At: now.UTC()})
	return nil
}

func (p *LocalProvider) Subscribe(handler func(Event)) func() {
	return p.bus.Subscribe(handler)
}

// IssueToken mints an access token for an identity that has just been
// resolved into a session, and announces the sign-in.
func (p *LocalProvider) IssueToken(ctx context.Context, id uuid.UUID, email string) (*models.TokenResponse, error) {
	now := p.now()
	token, err := p.signer.sign(id, email, now)
	if err != nil {
		return nil, apperr.Dependency(err, "sign access token", false)
	}
	p.publish(ctx, Event{Type: SignedIn, IdentityID: id, At: now.UTC()})
	return &models.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(p.cfg.TokenTTL / time.Second),
		IdentityID:  id,
		IssuedAt:    now.UTC(),
	}, nil
}

func (p *LocalProvider) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := p.signer.parse(token, p.now())
	if err != nil {
		return nil, err
	}
	id, err := claims.IdentityID()
	if err != nil {
		return nil, err
	}
	raw, err := p.kv.GetString(ctx, revokedKey(id))
	if err != nil {
		return nil, apperr.External(err, "check token revocation")
	}
	if raw != "" {
		revokedAt, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && !claims.issuedAt().After(time.UnixMilli(revokedAt)) {
			return nil, apperr.Authentication("session has been revoked")
		}
	}
	return claims, nil
}

func (p *LocalProvider) publish(ctx context.Context, event Event) {
	if err := p.bus.Publish(ctx, event); err != nil {
		p.log.Warn("failed to publish identity event",
			logger.String("type", string(event.Type)),
			logger.String("identity_id", event.IdentityID.String()),
			logger.Error(err))
	}
}

func generateSetupToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
