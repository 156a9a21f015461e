package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JonMunkholm/bulkforce/internal/csvutil"
	"github.com/JonMunkholm/bulkforce/internal/record"
)

// ObjectConfig configures an S3-compatible object store.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// objectPutter is the subset of *minio.Client used by ObjectSink.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectSink writes result sets as CSV objects to s3://bucket/key
// destinations.
type ObjectSink struct {
	client objectPutter
}

// NewObjectSink creates an ObjectSink for cfg.
func NewObjectSink(cfg ObjectConfig) (*ObjectSink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store credentials are required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &ObjectSink{client: client}, nil
}

// Save implements Sink.
func (s *ObjectSink) Save(ctx context.Context, out Output, rows []record.Row) (string, error) {
	bucket, key, err := ParseObjectURL(out.Dest)
	if err != nil {
		return "", &PersistError{Kind: out.Kind, Dest: out.Dest, Err: err}
	}

	data, err := csvutil.Encode(rows)
	if err != nil {
		return "", &PersistError{Kind: out.Kind, Dest: out.Dest, Err: err}
	}

	_, err = s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/csv",
		UserMetadata: map[string]string{
			"job-id": out.JobID,
			"object": out.Object,
			"kind":   out.Kind,
		},
	})
	if err != nil {
		return "", &PersistError{Kind: out.Kind, Dest: out.Dest, Err: err}
	}
	return out.Dest, nil
}

// ParseObjectURL splits s3://bucket/key into its parts.
func ParseObjectURL(dest string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(dest, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", dest)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and a key: %q", dest)
	}
	return bucket, key, nil
}
