package services

import (
	"context"
	"io"
	"time"

	"tenantcore/internal/identity"
	"tenantcore/internal/models"
	"tenantcore/internal/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyCredentials(ctx context.Context, email, password string) (uuid.UUID, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockIdentityProvider) CreateIdentity(ctx context.Context, email, password string, metadata map[string]any) (uuid.UUID, error) {
	args := m.Called(ctx, email, password, metadata)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockIdentityProvider) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityProvider) SendInvite(ctx context.Context, email string, metadata map[string]any) (uuid.UUID, error) {
	args := m.Called(ctx, email, metadata)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockIdentityProvider) SendPasswordReset(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockIdentityProvider) RevokeSession(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityProvider) Subscribe(handler func(identity.Event)) func() {
	m.Called(handler)
	return func() {}
}

type MockMinioService struct {
	mock.Mock
}

func (m *MockMinioService) UploadObject(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) error {
	args := m.Called(ctx, objectName, reader, objectSize, contentType)
	return args.Error(0)
}

func (m *MockMinioService) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockMinioService) DeleteObject(ctx context.Context, objectName string) error {
	args := m.Called(ctx, objectName)
	return args.Error(0)
}

func (m *MockMinioService) EnsureBucketExists(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// failingUsers fails profile inserts with err and delegates everything else.
type failingUsers struct {
	repositories.UserRepository
	err error
}

func (f failingUsers) Create(context.Context, *models.UserProfile) error {
	return f.err
}
