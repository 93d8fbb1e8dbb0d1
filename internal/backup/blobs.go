package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"synergy-guard/internal/config"
	"synergy-guard/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStore keeps the latest snapshot per guild. Get returns
// storage.ErrNotFound when the guild has none.
type BlobStore interface {
	Put(ctx context.Context, guildID, createdBy string, data []byte) error
	Get(ctx context.Context, guildID string) ([]byte, time.Time, error)
}

type DatabaseStore interface {
	SaveBackup(ctx context.Context, guildID, createdBy string, data []byte) error
	LoadBackup(ctx context.Context, guildID string) ([]byte, time.Time, error)
}

type databaseBlobs struct {
	store DatabaseStore
}

func NewDatabaseBlobs(store DatabaseStore) BlobStore {
	return databaseBlobs{store: store}
}

func (b databaseBlobs) Put(ctx context.Context, guildID, createdBy string, data []byte) error {
	return b.store.SaveBackup(ctx, guildID, createdBy, data)
}

func (b databaseBlobs) Get(ctx context.Context, guildID string) ([]byte, time.Time, error) {
	return b.store.LoadBackup(ctx, guildID)
}

type S3Blobs struct {
	client *minio.Client
	bucket string
}

func NewS3Blobs(cfg config.BackupConfig) (*S3Blobs, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Blobs{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(guildID string) string {
	return "backups/" + guildID + ".json"
}

func (b *S3Blobs) Put(ctx context.Context, guildID, createdBy string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, objectKey(guildID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"created-by": createdBy},
	})
	if err != nil {
		return fmt.Errorf("put backup object: %w", err)
	}
	return nil
}

func (b *S3Blobs) Get(ctx context.Context, guildID string) ([]byte, time.Time, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, objectKey(guildID), minio.GetObjectOptions{})
	if err != nil {
		return nil, time.Time{}, b.wrap(err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		return nil, time.Time{}, b.wrap(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, time.Time{}, b.wrap(err)
	}
	return data, info.LastModified, nil
}

func (b *S3Blobs) wrap(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return storage.ErrNotFound
	}
	return fmt.Errorf("get backup object: %w", err)
}

// NewBlobStore picks the backend named in the config.
func NewBlobStore(cfg config.BackupConfig, store DatabaseStore) (BlobStore, error) {
	switch cfg.Backend {
	case "", "database":
		return NewDatabaseBlobs(store), nil
	case "s3":
		return NewS3Blobs(cfg)
	default:
		return nil, errors.New("unknown backup backend " + cfg.Backend)
	}
}
