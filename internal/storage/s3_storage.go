package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/atiamdev/cms-backend-sub002/internal/config"
)

// IReportArchive stores invoice run summaries as JSON objects.
type IReportArchive interface {
	// Archive writes report under key (relative to the reports prefix) and
	// returns the full object key.
	Archive(ctx context.Context, key string, report interface{}) (string, error)
	// PresignGet returns a short-lived download URL for an archived report.
	PresignGet(ctx context.Context, key string) (string, error)
	Enabled() bool
}

// ObjectAPI is the part of the S3 client the archive uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*presignedRequest, error)
}

type presignedRequest struct {
	URL string
}

type s3PresignAdapter struct {
	client *s3.PresignClient
}

func (a s3PresignAdapter) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*presignedRequest, error) {
	req, err := a.client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &presignedRequest{URL: req.URL}, nil
}

// S3ReportArchive puts reports into one bucket under a key prefix.
type S3ReportArchive struct {
	bucket    string
	prefix    string
	objects   ObjectAPI
	presigner presigner
}

// NewReportArchive builds an S3 backed archive. Without a configured bucket
// it returns an archive that only logs.
func NewReportArchive(cfg *config.Config) (IReportArchive, error) {
	if cfg.AwsS3Bucket == "" {
		log.Println("AWS_S3_BUCKET not set: invoice run reports will not be archived.")
		return disabledArchive{}, nil
	}

	opts := []func(*aws_config.LoadOptions) error{aws_config.WithRegion(cfg.AwsRegion)}
	if cfg.AwsAccessKeyID != "" {
		opts = append(opts, aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"", // session token
		)))
	}
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	archive := NewS3ReportArchive(cfg.AwsS3Bucket, cfg.ReportsPrefix, client)
	archive.presigner = s3PresignAdapter{client: s3.NewPresignClient(client)}
	return archive, nil
}

// NewS3ReportArchive wraps an existing object client.
func NewS3ReportArchive(bucket, prefix string, objects ObjectAPI) *S3ReportArchive {
	return &S3ReportArchive{bucket: bucket, prefix: prefix, objects: objects}
}

func (s *S3ReportArchive) Enabled() bool { return true }

func (s *S3ReportArchive) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

func (s *S3ReportArchive) Archive(ctx context.Context, key string, report interface{}) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report %s: %w", key, err)
	}

	objectKey := s.objectKey(key)
	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report %s: %w", objectKey, err)
	}

	log.Printf("Archived invoice run report s3://%s/%s", s.bucket, objectKey)
	return objectKey, nil
}

func (s *S3ReportArchive) PresignGet(ctx context.Context, key string) (string, error) {
	if s.presigner == nil {
		return "", ErrArchiveDisabled
	}
	objectKey := s.objectKey(key)
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", fmt.Errorf("failed to presign report %s: %w", objectKey, err)
	}
	return req.URL, nil
}

// ErrArchiveDisabled is returned by PresignGet when no bucket is configured.
var ErrArchiveDisabled = errors.New("report archive is disabled")

type disabledArchive struct{}

func (disabledArchive) Enabled() bool { return false }

func (disabledArchive) Archive(ctx context.Context, key string, report interface{}) (string, error) {
	log.Printf("Report %s not archived (no bucket configured)", key)
	return "", nil
}

func (disabledArchive) PresignGet(ctx context.Context, key string) (string, error) {
	return "", ErrArchiveDisabled
}

// RunReportKey is where the server stores the summary of a generation run.
func RunReportKey(runID string) string {
	return path.Join("runs", runID+".json")
}

// BackfillReportKey is where the backfill CLI stores its summary.
func BackfillReportKey(runID string) string {
	return path.Join("backfill", runID+".json")
}
