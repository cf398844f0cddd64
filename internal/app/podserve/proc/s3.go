package proc

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store mirrors ready audio files and the feed document to an s3-compatible
// bucket. Best-effort by design: the pipeline logs upload failures and moves
// on, the local copies stay authoritative.
type S3Store struct {
	Client   *minio.Client
	Location string
	Bucket   string
}

// NewS3Client creates a minio client for the configured endpoint.
func NewS3Client(endpoint, key, secret string, secure bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client for %s: %w", endpoint, err)
	}
	return client, nil
}

// UploadEpisode uploads an audio file to the bucket.
func (s *S3Store) UploadEpisode(ctx context.Context, objectName, filePath string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.Client.FPutObject(ctx, s.Bucket, objectName, filePath,
		minio.PutObjectOptions{ContentType: "audio/mpeg"})
	if err != nil {
		return fmt.Errorf("upload %s to bucket %s: %w", objectName, s.Bucket, err)
	}
	return nil
}

// UploadFeed uploads the rendered feed document to the bucket.
func (s *S3Store) UploadFeed(ctx context.Context, objectName string, doc []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.Client.PutObject(ctx, s.Bucket, objectName, bytes.NewReader(doc), int64(len(doc)),
		minio.PutObjectOptions{ContentType: "application/rss+xml"})
	if err != nil {
		return fmt.Errorf("upload feed to bucket %s: %w", s.Bucket, err)
	}
	return nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s.Client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.Client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{Region: s.Location}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.Bucket, err)
	}
	return nil
}
