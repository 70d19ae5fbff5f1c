package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// multipartThreshold is the size above which uploads go through s3manager
const multipartThreshold = 100 * 1024 * 1024

// S3Uploader uploads artifacts with the AWS SDK
type S3Uploader struct {
	client      s3iface.S3API
	uploader    *s3manager.Uploader
	contentType *string
	threshold   int64
	logger      *slog.Logger
}

// NewS3Uploader creates an S3 uploader. SDK retries are disabled; retry
// policy belongs to whoever schedules the export.
func NewS3Uploader(opts Options, logger *slog.Logger) (*S3Uploader, error) {
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, ErrCredentialsMissing
	}

	cfg := &aws.Config{
		Region:           aws.String(opts.Region),
		Credentials:      credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
		MaxRetries:       aws.Int(0),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	// An unset content type leaves the header to the SDK
	var contentType *string
	if opts.ContentType != "" {
		contentType = aws.String(opts.ContentType)
	}

	client := s3.New(sess)
	return &S3Uploader{
		client:      client,
		uploader:    s3manager.NewUploaderWithClient(client),
		contentType: contentType,
		threshold:   multipartThreshold,
		logger:      logger,
	}, nil
}

// Upload publishes localPath to s3://bucket/key
func (u *S3Uploader) Upload(ctx context.Context, localPath, bucket, key string) error {
	if err := checkTarget(bucket, key); err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open artifact: %w", ErrUpload, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: failed to stat artifact: %w", ErrUpload, err)
	}

	u.logger.Debug(fmt.Sprintf("  ☁️  Uploading to s3://%s/%s (size: %d bytes)", bucket, key, info.Size()))

	// Use multipart upload for large artifacts
	if info.Size() > u.threshold {
		_, err = u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        file,
			ContentType: u.contentType,
		})
		if err != nil {
			return fmt.Errorf("%w: s3://%s/%s: %w", ErrUpload, bucket, key, err)
		}
		return nil
	}

	_, err = u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   u.contentType,
	})
	if err != nil {
		return fmt.Errorf("%w: s3://%s/%s: %w", ErrUpload, bucket, key, err)
	}
	return nil
}
