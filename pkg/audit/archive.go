package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/wasteintel/pkg/observability"
)

var tracer = observability.Tracer("audit")

// S3Config holds object storage settings for the audit archive
type S3Config struct {
	Bucket       string
	Prefix       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// ObjectStore is the subset of the S3 API the archiver uses
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// EventSource pages through stored audit events
type EventSource interface {
	Search(ctx context.Context, filter Filter) ([]*Event, error)
}

// NewS3Client builds an S3 client. Static keys are used when both are set (MinIO or
// explicit AWS keys); otherwise the default credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}
	return client, nil
}

// ensureBucket creates the bucket if it does not exist (local MinIO)
func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return fmt.Errorf("failed to create bucket: %w", err)
}

// S3Archiver copies a day of audit rows to object storage as gzipped NDJSON.
// Rows stay in the database; the archive is a tamper-evident copy keyed by day.
type S3Archiver struct {
	store    ObjectStore
	source   EventSource
	bucket   string
	prefix   string
	pageSize int
}

// NewS3Archiver creates an archiver
func NewS3Archiver(store ObjectStore, source EventSource, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		store:    store,
		source:   source,
		bucket:   bucket,
		prefix:   prefix,
		pageSize: MaxLimit,
	}
}

// ArchiveResult describes one archive run
type ArchiveResult struct {
	Key      string
	Events   int
	Checksum string
	Skipped  bool
}

// ObjectKey returns the archive key for the UTC day containing t
func (a *S3Archiver) ObjectKey(day time.Time) string {
	d := day.UTC()
	return path.Join(a.prefix, d.Format("2006/01/02"), "audit-"+d.Format("2006-01-02")+".ndjson.gz")
}

// ArchiveDay writes every event created during the UTC day containing day.
// An existing object for that day is left untouched.
func (a *S3Archiver) ArchiveDay(ctx context.Context, day time.Time) (result *ArchiveResult, err error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	key := a.ObjectKey(start)

	ctx, span := tracer.Start(ctx, "audit.ArchiveDay",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "archive failed")
		}
		span.End()
	}()

	result = &ArchiveResult{Key: key}

	exists, err := a.exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		result.Skipped = true
		return result, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	for offset := 0; ; offset += a.pageSize {
		events, err := a.source.Search(ctx, Filter{
			StartTime: &start,
			EndTime:   &end,
			Limit:     a.pageSize,
			Offset:    offset,
			Ascending: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read audit events: %w", err)
		}
		if err := exportNDJSON(gz, events); err != nil {
			return nil, err
		}
		result.Events += len(events)
		if len(events) < a.pageSize {
			break
		}
	}

	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress archive: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	result.Checksum = hex.EncodeToString(sum[:])
	span.SetAttributes(attribute.Int("audit.events", result.Events), attribute.Int("content.size", buf.Len()))

	_, err = a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"checksum-sha256": result.Checksum,
			"event-count":     fmt.Sprintf("%d", result.Events),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload archive: %w", err)
	}

	return result, nil
}

func (a *S3Archiver) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.store.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check archive object: %w", err)
}
