package external

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"fleetmaint/internal/types"
)

// S3PutClient abstracts the S3 PutObject operation for testability.
// Production code uses the *s3.Client from aws-sdk-go-v2.
type S3PutClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ArchiveUploader writes compressed history batches to an S3 bucket
// under the Glacier Instant Retrieval storage class. It satisfies the
// engine's ArchiveUploader contract.
type S3ArchiveUploader struct {
	client S3PutClient
	bucket string
	logger *slog.Logger
}

// NewS3ArchiveUploader creates an uploader bound to the given bucket.
func NewS3ArchiveUploader(client S3PutClient, bucket string, logger *slog.Logger) *S3ArchiveUploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3ArchiveUploader{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// UploadArchive stores one gzipped JSONL batch at the given key.
func (u *S3ArchiveUploader) UploadArchive(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/gzip"),
		ContentEncoding: aws.String("gzip"),
		StorageClass:    s3types.StorageClassGlacierIr,
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamArchiveStore,
			fmt.Sprintf("uploading archive object %s", key),
			err,
		)
	}

	u.logger.InfoContext(ctx, "history archive uploaded",
		"bucket", u.bucket,
		"key", key,
		"size_bytes", len(data),
	)

	return nil
}
