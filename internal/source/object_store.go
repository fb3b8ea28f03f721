package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dunamismax/pixelserve/internal/fault"
)

const objectStoreStage = "object_store"

type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStore fetches source images from a key-addressable bucket. The
// underlying client pools connections and is safe for concurrent reuse across
// requests.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &ObjectStore{
		client: mc,
		bucket: cfg.Bucket,
	}, nil
}

func (s *ObjectStore) Bucket() string {
	return s.bucket
}

func (s *ObjectStore) Fetch(ctx context.Context, key string) (*Payload, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return nil, fault.New(fault.KindValidation, objectStoreStage, "missing source key")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyStoreError(key, err)
	}

	// GetObject is lazy; Stat performs the request and surfaces not-found.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, classifyStoreError(key, err)
	}

	return &Payload{
		Body:        obj,
		ContentType: stat.ContentType,
		Size:        stat.Size,
	}, nil
}

func classifyStoreError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject", "NoSuchBucket":
		return fault.Wrap(fault.KindNotFound, objectStoreStage, fmt.Sprintf("source object %s not found", key), err)
	case "AccessDenied":
		return fault.Wrap(fault.KindAccessDenied, objectStoreStage, fmt.Sprintf("access to source object %s denied", key), err)
	default:
		return fault.Wrap(fault.KindUpstream, objectStoreStage, fmt.Sprintf("fetch source object %s failed", key), err)
	}
}
