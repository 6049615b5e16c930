package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Config configures an S3 or S3-compatible (MinIO) store.
type S3Config struct {
	Bucket string
	Region string

	// Endpoint overrides the AWS endpoint, e.g. http://localhost:9000 for MinIO.
	Endpoint string

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKey string
	SecretKey string

	// UsePathStyle is required by most S3-compatible servers.
	UsePathStyle bool
}

// Validate validates the configuration.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 blob store requires a bucket")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("s3 access key and secret key must be set together")
	}
	return nil
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store stores objects in an S3 bucket.
type S3Store struct {
	client   s3API
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
	logger   *zap.Logger
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds an S3 client from cfg.
func NewS3Store(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Info("s3 blob store configured",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
	)

	s := newS3Store(client, cfg.Bucket, logger)
	s.presign = s3.NewPresignClient(client)
	return s, nil
}

func newS3Store(client s3API, bucket string, logger *zap.Logger) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		logger:   logger,
	}
}

// Ping checks that the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

// Put uploads the object, using multipart upload for large bodies.
func (s *S3Store) Put(ctx context.Context, p string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	if err := ValidatePath(p); err != nil {
		return ObjectInfo{}, err
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
		Body:   r,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}

	out, err := s.uploader.Upload(ctx, in)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("uploading %s: %w", p, err)
	}

	return ObjectInfo{
		Path:         p,
		Size:         size,
		ContentType:  contentType,
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: time.Now().UTC(),
	}, nil
}

// Get opens the object.
func (s *S3Store) Get(ctx context.Context, p string) (io.ReadCloser, ObjectInfo, error) {
	if err := ValidatePath(p); err != nil {
		return nil, ObjectInfo{}, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, ObjectInfo{}, fmt.Errorf("getting %s: %w", p, err)
	}

	return out.Body, ObjectInfo{
		Path:         p,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Delete removes the object. S3 deletes are already idempotent.
func (s *S3Store) Delete(ctx context.Context, p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", p, err)
	}
	return nil
}

// DeleteByPrefix lists the prefix page by page and batch-deletes each page.
// Keys S3 refuses to delete do not stop the walk; they are counted and
// reported as ErrPartialDelete once every page has been tried.
func (s *S3Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ValidatePath(prefix); err != nil {
		return 0, err
	}

	deleted, failed := 0, 0
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("listing %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			ids[i] = types.ObjectIdentifier{Key: obj.Key}
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("deleting objects under %s: %w", prefix, err)
		}
		for _, e := range out.Errors {
			s.logger.Warn("object delete failed",
				zap.String("key", aws.ToString(e.Key)),
				zap.String("code", aws.ToString(e.Code)),
				zap.String("message", aws.ToString(e.Message)),
			)
		}
		deleted += len(ids) - len(out.Errors)
		failed += len(out.Errors)
	}
	if failed > 0 {
		return deleted, fmt.Errorf("delete %d of %d objects under %q failed: %w",
			failed, deleted+failed, prefix, ErrPartialDelete)
	}
	return deleted, nil
}

// Presign returns a GET URL valid for ttl.
func (s *S3Store) Presign(ctx context.Context, p string, ttl time.Duration) (string, error) {
	if err := ValidatePath(p); err != nil {
		return "", err
	}
	if s.presign == nil {
		return "", ErrPresignUnsupported
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", p, err)
	}
	return req.URL, nil
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string { return s.bucket }
