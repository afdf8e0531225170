package archive

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-payments/internal/config"
)

const pdfContentType = "application/pdf"

// Minio stores objects in an S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the object store and creates the bucket if it does
// not exist yet.
func NewMinio(ctx context.Context, cfg config.MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "archive: create minio client")
	}
	m := &Minio{client: client, bucket: cfg.Bucket}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Minio) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return eris.Wrapf(err, "archive: check bucket %s", m.bucket)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return eris.Wrapf(err, "archive: create bucket %s", m.bucket)
	}
	zap.L().Info("archive: created bucket", zap.String("bucket", m.bucket))
	return nil
}

func (m *Minio) Put(ctx context.Context, key string, data []byte) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, m.bucket, k, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: pdfContentType,
	})
	return eris.Wrapf(err, "archive: put %s", key)
}

func (m *Minio) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, k, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.mapErr(err, key)
	}
	defer obj.Close() //nolint:errcheck

	// GetObject is lazy; a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.mapErr(err, key)
	}
	return data, nil
}

func (m *Minio) Remove(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = m.client.RemoveObject(ctx, m.bucket, k, minio.RemoveObjectOptions{})
	return eris.Wrapf(err, "archive: remove %s", key)
}

func (m *Minio) Enabled() bool { return true }

func (m *Minio) mapErr(err error, key string) error {
	if isNoSuchKey(err) {
		return eris.Wrap(ErrNotFound, key)
	}
	return eris.Wrapf(err, "archive: get %s", key)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
