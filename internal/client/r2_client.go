package client

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/veloverlay/api/internal/config"
)

// StorageClient uploads finished renders to object storage. UploadFile
// returns an empty URL when the bucket has no public address; callers then
// hand out a presigned link instead.
type StorageClient interface {
	UploadFile(ctx context.Context, key, path string) (string, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Key(jobID, path string) string
	IsConfigured() bool
}

// R2Client implements StorageClient for Cloudflare R2 (S3 API)
type R2Client struct {
	s3Client   *s3.Client
	presigner  *s3.PresignClient
	bucketName string
	publicURL  string
	prefix     string
}

// NewR2Client returns nil and no error when R2 is not configured, so callers
// can treat uploads as optional.
func NewR2Client(ctx context.Context, cfg *config.R2Config) (*R2Client, error) {
	if cfg.AccountID == "" && cfg.AccessKeyID == "" && cfg.BucketName == "" {
		return nil, nil
	}
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &R2Client{
		s3Client:   s3Client,
		presigner:  s3.NewPresignClient(s3Client),
		bucketName: cfg.BucketName,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		prefix:     strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Key builds the object key for a job's output file.
func (c *R2Client) Key(jobID, path string) string {
	name := jobID + "/" + filepath.Base(path)
	if c.prefix == "" {
		return name
	}
	return c.prefix + "/" + name
}

// Upload uploads a stream and returns its public URL, if any
func (c *R2Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return c.GetPublicURL(key), nil
}

// UploadFile uploads a local file; the content type follows its extension.
func (c *R2Client) UploadFile(ctx context.Context, key, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.Upload(ctx, key, f, contentType)
}

// GetSignedURL generates a presigned download URL
func (c *R2Client) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}

// GetPublicURL returns the public URL for a key, or "" when the bucket is
// private.
func (c *R2Client) GetPublicURL(key string) string {
	if c.publicURL == "" {
		return ""
	}
	return c.publicURL + "/" + key
}

func (c *R2Client) IsConfigured() bool {
	return c != nil && c.s3Client != nil && c.bucketName != ""
}
