package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/record"
	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectPutter is the part of *minio.Client the store uses.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOStore writes each run record as a JSON object to an S3-compatible
// bucket.
type MinIOStore struct {
	client  objectPutter
	bucket  string
	timeout time.Duration
}

// NewMinIOStore connects to the object store and makes sure the bucket
// exists.
func NewMinIOStore(ctx context.Context, cfg config.ObjectStore) (*MinIOStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout, err := cfg.PutTimeout()
	if err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create minio client")
	}

	ensureCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureBucket(ensureCtx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, errors.Wrapf(err, "ensure bucket %s", cfg.Bucket)
	}

	return &MinIOStore{client: client, bucket: cfg.Bucket, timeout: timeout}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ObjectKey returns the object name of a record:
// <schema>/<table>/<automation_id>/<run time>_<run_id>.json
func ObjectKey(rec *record.RunRecord) string {
	return fmt.Sprintf("%s/%s/%d/%s_%s.json",
		rec.SchemaName, rec.TableName, rec.AutomationID,
		rec.RunTime.UTC().Format("20060102T150405Z"), rec.RunID)
}

// Insert implements Store.
func (s *MinIOStore) Insert(ctx context.Context, rec *record.RunRecord) error {
	if err := validateRecord(rec, true); err != nil {
		return err
	}

	data, err := document(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := ObjectKey(rec)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"automation-id": fmt.Sprintf("%d", rec.AutomationID),
			"run-id":        rec.RunID,
		},
	})
	if err != nil {
		return errors.Wrapf(err, "put object %s/%s", s.bucket, key)
	}
	return nil
}

// Close is a no-op; the client holds no resources that need releasing.
func (s *MinIOStore) Close() error {
	return nil
}
