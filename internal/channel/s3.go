package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/presswire/contentqueue/internal/config"
	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// S3Client is the subset of the S3 API the archive uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Archive stores one JSON object per distributed post.
type S3Archive struct {
	client S3Client
	bucket string
	prefix string
	now    func() time.Time
}

// S3Option configures NewS3Archive.
type S3Option func(*S3Archive)

// WithS3Client replaces the SDK client, mainly for tests.
func WithS3Client(client S3Client) S3Option {
	return func(a *S3Archive) { a.client = client }
}

// NewS3Archive builds the adapter. With an empty bucket it returns a disabled
// adapter without touching AWS configuration.
func NewS3Archive(ctx context.Context, cfg config.S3Config, opts ...S3Option) (*S3Archive, error) {
	a := &S3Archive{bucket: cfg.Bucket, prefix: cfg.Prefix, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.client != nil || cfg.Bucket == "" {
		return a, nil
	}

	awsOptions := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		awsOptions = append(awsOptions, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		awsOptions = append(awsOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	a.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return a, nil
}

func (a *S3Archive) Name() domain.Channel { return NameS3 }

func (a *S3Archive) IsEnabled() bool { return a.bucket != "" }

func (a *S3Archive) ValidateConfiguration() dispatch.Validation {
	if a.client == nil {
		return dispatch.Validation{Message: "no S3 client configured"}
	}
	if strings.Contains(a.prefix, "..") {
		return dispatch.Validation{Message: fmt.Sprintf("S3_PREFIX %q must not contain ..", a.prefix)}
	}
	return dispatch.Validation{Valid: true}
}

// Probe checks that the bucket is reachable.
func (a *S3Archive) Probe(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return classifyS3Error(err, "head bucket")
	}
	return nil
}

func (a *S3Archive) Publish(ctx context.Context, snap *domain.DistributionSnapshot, item *domain.QueueItem, c *domain.Context) (*dispatch.PublishResult, error) {
	doc := newDocument(snap, item, c, a.now())
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	key := ObjectKey(a.prefix, doc)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyS3Error(err, "put object")
	}
	return &dispatch.PublishResult{ExternalID: key}, nil
}

// ObjectKey is <prefix><context>/<lang>/<parent post id>.json. Re-delivering
// the same post overwrites the same object.
func ObjectKey(prefix string, doc Document) string {
	return strings.TrimPrefix(prefix, "/") + path.Join(doc.Context, doc.Lang, doc.ParentPostID+".json")
}

// classifyS3Error marks configuration problems as permanent; everything else
// is left retryable.
func classifyS3Error(err error, operation string) error {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return domain.Permanent(fmt.Errorf("s3 %s: bucket not found: %w", operation, err))
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return domain.Permanent(fmt.Errorf("s3 %s: %s: %w", operation, apiErr.ErrorCode(), err))
		}
	}
	return fmt.Errorf("s3 %s: %w", operation, err)
}

var (
	_ dispatch.ChannelAdapter = (*S3Archive)(nil)
	_ dispatch.Prober         = (*S3Archive)(nil)
)
