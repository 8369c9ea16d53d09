package objstore

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/altadoc/altadoc/internal/errors"
)

// S3Store is an S3-backed object store scoped to one bucket.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO-style deployments
}

// NewS3Store creates an S3 object store using the ambient AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.InvalidInput("s3 bucket is required", nil)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// Fetch returns the full object bytes.
func (s *S3Store) Fetch(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, classifyS3Error(path, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, _, err := hashReader(out.Body)
	if err != nil {
		return nil, errors.Transient(fmt.Sprintf("read object %s", path), err)
	}
	return body, nil
}

// FetchRange returns length bytes starting at offset.
func (s *S3Store) FetchRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, classifyS3Error(path, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, _, err := hashReader(out.Body)
	if err != nil {
		return nil, errors.Transient(fmt.Sprintf("read range of %s", path), err)
	}
	return body, nil
}

// Put stores the object and returns its hex SHA-256.
func (s *S3Store) Put(ctx context.Context, path string, data []byte) (string, error) {
	hash := HashBytes(data)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			"content-sha256": hash,
		},
	})
	if err != nil {
		return "", errors.Transient(fmt.Sprintf("put object %s", path), err)
	}
	return hash, nil
}

// Presign returns a time-limited GET URL.
func (s *S3Store) Presign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errors.Transient(fmt.Sprintf("presign %s", path), err)
	}
	return req.URL, nil
}

// StatObject returns object metadata without fetching the body.
func (s *S3Store) StatObject(ctx context.Context, path string) (*Stat, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, classifyS3Error(path, err)
	}
	st := &Stat{Size: aws.ToInt64(out.ContentLength), ETag: aws.ToString(out.ETag)}
	if out.LastModified != nil {
		st.ModTime = *out.LastModified
	}
	return st, nil
}

// List returns all keys under prefix, sorted, paging through the bucket.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Transient(fmt.Sprintf("list objects under %s", prefix), err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// classifyS3Error maps S3 API errors onto the error taxonomy.
func classifyS3Error(path string, err error) error {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if stderrors.As(err, &nsk) || stderrors.As(err, &nf) {
		return errors.NotFound(fmt.Sprintf("object %s not found", path))
	}
	return errors.Transient(fmt.Sprintf("s3 operation on %s", path), err)
}

var _ Store = (*S3Store)(nil)
