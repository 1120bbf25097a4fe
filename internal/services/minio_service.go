package services

import (
	"context"
	"io"
	"time"

	"tenantcore/internal/apperr"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioService stores tenant branding objects in a single bucket.
type MinioService interface {
	UploadObject(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) error
	GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectName string) error
	EnsureBucketExists(ctx context.Context) error
}

type minioClient struct {
	client *minio.Client
	bucket string
}

func NewMinioService(endpoint, accessKey, secretKey, bucket string, useSSL bool) (MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &minioClient{client: client, bucket: bucket}, nil
}

func (m *minioClient) UploadObject(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return apperr.External(err, "upload object")
}

func (m *minioClient) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, expiry, nil)
	if err != nil {
		return "", apperr.External(err, "presign object")
	}
	return url.String(), nil
}

func (m *minioClient) DeleteObject(ctx context.Context, objectName string) error {
	return apperr.External(m.client.RemoveObject(ctx, m.bucket, objectName, minio.RemoveObjectOptions{}), "delete object")
}

func (m *minioClient) EnsureBucketExists(ctx context.Context) error {
	found, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return apperr.External(err, "check bucket")
	}
	if !found {
		return apperr.External(m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}), "create bucket")
	}
	return nil
}
