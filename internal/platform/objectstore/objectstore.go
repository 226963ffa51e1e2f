package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/forgeline-labs/forgeline-go/internal/platform/env"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	ArtifactsBucket string
	ReleasesBucket  string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("OBJECTSTORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Endpoint:        env.String("OBJECTSTORE_ENDPOINT", "localhost:9000"),
		AccessKeyID:     env.String("OBJECTSTORE_ACCESS_KEY", "forgeline"),
		SecretAccessKey: env.String("OBJECTSTORE_SECRET_KEY", "forgeline-secret"),
		UseSSL:          useSSL,
		Region:          env.String("OBJECTSTORE_REGION", "us-east-1"),
		ArtifactsBucket: env.String("OBJECTSTORE_ARTIFACTS_BUCKET", "forgeline-artifacts"),
		ReleasesBucket:  env.String("OBJECTSTORE_RELEASES_BUCKET", "forgeline-releases"),
	}, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("objectstore endpoint is required")
	}
	if strings.TrimSpace(c.AccessKeyID) == "" {
		return errors.New("objectstore access key is required")
	}
	if strings.TrimSpace(c.SecretAccessKey) == "" {
		return errors.New("objectstore secret key is required")
	}
	if strings.TrimSpace(c.ArtifactsBucket) == "" {
		return errors.New("artifacts bucket is required")
	}
	if strings.TrimSpace(c.ReleasesBucket) == "" {
		return errors.New("releases bucket is required")
	}
	return nil
}

func (c Config) Buckets() []string {
	return []string{c.ArtifactsBucket, c.ReleasesBucket}
}

func NewClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("objectstore config: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create objectstore client: %w", err)
	}
	return client, nil
}

// EnsureBuckets creates any bucket that does not exist yet.
func EnsureBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if client == nil {
		return errors.New("objectstore client is not initialized")
	}
	for _, bucket := range cfg.Buckets() {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// CheckBuckets verifies all configured buckets exist, for readiness checks.
func CheckBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if client == nil {
		return errors.New("objectstore client is not initialized")
	}
	for _, bucket := range cfg.Buckets() {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			return fmt.Errorf("bucket %s does not exist", bucket)
		}
	}
	return nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
