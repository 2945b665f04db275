// Package blob hands out presigned S3 URLs for attachments and avatars so
// file bytes never pass through the API server.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "servchat/internal/config"
)

const (
	DefaultExpiry = 15 * time.Minute
	keyPrefix     = "uploads/"
)

var ErrInvalidKey = errors.New("invalid object key")

type Signer interface {
	PresignPut(ctx context.Context, userID, filename string) (key, url string, err error)
	PresignGet(ctx context.Context, key string) (string, error)
}

type S3Signer struct {
	bucket  string
	expiry  time.Duration
	presign *s3.PresignClient
	now     func() time.Time
}

func NewS3Signer(ctx context.Context, cfg appconfig.S3Config) (*S3Signer, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("missing S3 bucket")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Signer{
		bucket:  cfg.Bucket,
		expiry:  DefaultExpiry,
		presign: s3.NewPresignClient(client),
		now:     time.Now,
	}, nil
}

// ObjectKey builds a fresh key for a user's upload, keeping only a short
// alphanumeric extension of filename.
func ObjectKey(userID, filename string, now time.Time) string {
	key := fmt.Sprintf("%s%s/%d/%02d/%s", keyPrefix, userID, now.Year(), int(now.Month()), uuid.NewString())
	if ext := cleanExt(filename); ext != "" {
		key += ext
	}
	return key
}

func cleanExt(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// ValidKey reports whether key names an object this service issued.
func ValidKey(key string) bool {
	return strings.HasPrefix(key, keyPrefix) && !strings.Contains(key, "..")
}

func (s *S3Signer) PresignPut(ctx context.Context, userID, filename string) (string, string, error) {
	key := ObjectKey(userID, filename, s.now().UTC())
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", "", fmt.Errorf("presign put: %w", err)
	}
	return key, req.URL, nil
}

func (s *S3Signer) PresignGet(ctx context.Context, key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
