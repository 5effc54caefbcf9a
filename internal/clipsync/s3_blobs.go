package clipsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3URLTTL bounds how long a returned content URL stays fetchable. History
// rows are re-fetched far more often than this, so expiry is invisible to
// consumers.
const s3URLTTL = 24 * time.Hour

// S3BlobStore stores binary payloads in an S3 bucket and hands back
// presigned GET URLs as the retrievable content URL.
type S3BlobStore struct {
	bucket  string
	prefix  string
	client  *s3.Client
	presign *s3.PresignClient
	urlTTL  time.Duration
}

// NewS3BlobStore builds the client from the standard AWS credential chain
// and verifies bucket access up front.
func NewS3BlobStore(ctx context.Context, bucket, prefix, region string) (*S3BlobStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, &ValidationError{Field: "bucket", Message: "S3 bucket name is required."}
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &NetworkError{Op: "blob config", Err: err}
	}
	client := s3.NewFromConfig(cfg)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, &NetworkError{Op: "blob bucket check", Err: fmt.Errorf("bucket %s: %w", bucket, err)}
	}
	return &S3BlobStore{
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		client:  client,
		presign: s3.NewPresignClient(client),
		urlTTL:  s3URLTTL,
	}, nil
}

func (b *S3BlobStore) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *S3BlobStore) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	objectKey := b.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", &NetworkError{Op: "blob upload", Err: err}
	}
	presigned, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(b.urlTTL))
	if err != nil {
		return "", &NetworkError{Op: "blob presign", Err: err}
	}
	return presigned.URL, nil
}

func (b *S3BlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return nil, &NetworkError{Op: "blob download", Err: err}
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &NetworkError{Op: "blob download", Err: err}
	}
	return data, nil
}

func (b *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return &NetworkError{Op: "blob delete", Err: err}
	}
	return nil
}
