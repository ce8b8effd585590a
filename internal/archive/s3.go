package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/manpreetbhatti/scribble/internal/db"
)

// The subset of *s3.Client used by S3Archiver
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds a client from static credentials. A custom Endpoint
// (MinIO, R2, localstack) switches to path-style addressing.
func NewS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region: cfg.Region,
	}

	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "scribble",
		}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return creds, nil
			},
		))
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}

	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return s3.New(opts)
}

// Uploads checkpoints as JSON objects under <prefix><room>/<id>.json
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

func NewS3Archiver(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (a *S3Archiver) Key(cp *db.Checkpoint) string {
	return fmt.Sprintf("%s%s/%d.json", a.prefix, cp.RoomID, cp.ID)
}

func (a *S3Archiver) Archive(ctx context.Context, cp *db.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(cp)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"room-id":      cp.RoomID,
			"content-hash": cp.ContentHash,
			"stroke-count": strconv.Itoa(cp.StrokeCount),
			"archive-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
