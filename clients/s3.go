package clients

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/TiunovNN/video-compression-model/config"
	"github.com/TiunovNN/video-compression-model/metrics"
)

// ObjectStore is the narrow object-store surface the API and workers use:
// presigned GET URLs for subprocess streaming and multipart uploads of
// sources and encoded outputs.
type ObjectStore interface {
	PresignGet(key string, expiry time.Duration) (string, error)
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	UploadFile(ctx context.Context, key, path, contentType string) (int64, error)
}

type S3Client struct {
	s3       *s3.S3
	uploader *s3manager.Uploader
	bucket   string
}

func NewS3Client(cli config.Cli) (*S3Client, error) {
	awsConfig := aws.NewConfig().
		WithRegion(cli.S3Region).
		WithCredentials(credentials.NewStaticCredentials(cli.AWSAccessKeyID, cli.AWSSecretAccessKey, ""))
	if cli.S3EndpointURL != "" {
		awsConfig = awsConfig.WithEndpoint(cli.S3EndpointURL).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store session: %w", err)
	}
	return &S3Client{
		s3:       s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   cli.S3Bucket,
	}, nil
}

func (c *S3Client) PresignGet(key string, expiry time.Duration) (string, error) {
	req, _ := c.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	return req.Presign(expiry)
}

// Upload writes body to key using multipart upload, preserving the
// content type. Transient failures are retried with exponential backoff.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3manager.UploadInput{
		Bucket: &c.bucket,
		Key:    &key,
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	_, err := c.uploader.UploadWithContext(ctx, input)
	if err != nil {
		metrics.Metrics.ObjectStoreFailureCount.WithLabelValues("upload").Inc()
		return fmt.Errorf("failed to upload %q: %w", key, err)
	}
	return nil
}

// UploadFile uploads a local file (re-seekable, so retries can restart the
// multipart upload from the beginning) and returns its byte size.
func (c *S3Client) UploadFile(ctx context.Context, key, path, contentType string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	operation := func() error {
		f, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()
		uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()
		if err := c.Upload(uploadCtx, key, f, contentType); err != nil {
			metrics.Metrics.ObjectStoreRetryCount.Inc()
			return err
		}
		return nil
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = time.Second
	backOff.MaxInterval = 10 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backOff, 3), ctx)); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SourceKey builds the object key for an uploaded source, keeping the
// original file extension.
func SourceKey(originalFilename string) string {
	ext := filepath.Ext(originalFilename)
	return fmt.Sprintf("%s%x%s", config.SourcePrefix, uuid.New(), ext)
}

// EncodedKey builds the object key for a transcoded output.
func EncodedKey() string {
	return fmt.Sprintf("%s%x.mp4", config.EncodedPrefix, uuid.New())
}
