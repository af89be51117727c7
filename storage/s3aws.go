// Package storage implements the blob store adapter (§6): a content-addressed
// S3 API the core uses to fetch attached file bytes for OCR and to issue
// presigned download URLs at query time. It never interprets storage keys —
// the command caller chooses them (typically bills/{billId}/{fileId}/{filename})
// — and it does not check whether the core still references a key before
// Delete removes it (§3 invariant 6 is kept by Delete's callers).
package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/evalgo/billcore/common"
)

// sharedHTTPClient provides connection pooling across all blob operations,
// following this service lineage's convention of one shared transport rather
// than a client per call.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Config carries the connection parameters for one S3-compatible endpoint.
type Config struct {
	Endpoint      string // empty selects AWS's own endpoint resolution
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UsePathStyle  bool
	Timeout       time.Duration // per-call deadline, §6 blob.timeout
	PresignExpiry time.Duration // default TTL for PresignGet when the caller passes 0
}

// Blob is the blob store adapter: Put/Get/Exists/PresignGet/Delete over one
// bucket.
type Blob struct {
	client   Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
	timeout  time.Duration
	ttlDflt  time.Duration
	log      *common.ContextLogger
}

// New wires a Blob adapter to the given configuration. Region defaults to
// "us-east-1" when empty, matching this lineage's other S3-compatible
// backends (LakeFS, MinIO, Hetzner) which all pin a region even though
// S3-compatible stores mostly ignore it.
func New(ctx context.Context, cfg Config, log *common.ContextLogger) (*Blob, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	if log == nil {
		log = common.NewContextLogger(nil, map[string]interface{}{"component": "blob"})
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			},
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.HTTPClient = sharedHTTPClient
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.PresignExpiry
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &Blob{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		timeout:  timeout,
		ttlDflt:  ttl,
		log:      log,
	}, nil
}

// Put uploads bytes at key, returning their hex MD5 checksum for the caller
// to record on FileAttached (§3: File.Checksum).
func (b *Blob) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])

	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return checksum, nil
}

// Get downloads the bytes stored at key.
func (b *Blob) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether key is present in the bucket.
func (b *Blob) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

// PresignGet issues a time-limited download URL for key. ttl <= 0 uses the
// adapter's configured default.
func (b *Blob) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = b.ttlDflt
	}
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes key from the bucket. The core never calls this while any
// event references the key (§3 invariant 6); that discipline is the caller's
// responsibility, not this adapter's.
func (b *Blob) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	b.log.WithField("key", key).Warn("blob deleted")
	return nil
}

func isNotFound(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if asAPIError(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}

func asAPIError(err error, out *interface{ ErrorCode() string }) bool {
	for err != nil {
		if ae, ok := err.(interface{ ErrorCode() string }); ok {
			*out = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
