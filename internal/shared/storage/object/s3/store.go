package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"brokercrm-backend/internal/shared/storage/object"
)

// S3 caps DeleteObjects at 1000 keys per call.
const deleteBatchSize = 1000

// Config names the physical bucket for every logical bucket.
type Config struct {
	Region   string
	Buckets  map[string]string
	Prefix   string
	KMSKeyID string
}

// Store implements object.Store and object.Presigner on Amazon S3.
type Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	buckets  map[string]string
	prefix   string
	kmsKeyID string
}

// New loads the default AWS config and builds the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if len(cfg.Buckets) == 0 {
		return nil, errors.New("s3 buckets are required")
	}
	for logical, physical := range cfg.Buckets {
		if strings.TrimSpace(physical) == "" {
			return nil, fmt.Errorf("s3 bucket for %q is empty", logical)
		}
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	return &Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		buckets:  cfg.Buckets,
		prefix:   strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		kmsKeyID: strings.TrimSpace(cfg.KMSKeyID),
	}, nil
}

// Put uploads r under the prefixed key with server-side encryption.
func (s *Store) Put(ctx context.Context, bucket, key, contentType string, r io.Reader) (int64, error) {
	physical, err := s.bucketFor(bucket)
	if err != nil {
		return 0, err
	}
	objectKey := applyPrefix(s.prefix, key)
	counter := &countingReader{r: r}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(physical),
		Key:         aws.String(objectKey),
		Body:        counter,
		ContentType: aws.String(contentTypeOrDefault(contentType)),
	}
	s.applyEncryption(input)

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return 0, fmt.Errorf("s3 put object bucket=%s key=%s: %w", physical, objectKey, err)
	}
	return counter.n, nil
}

// Open streams an object body.
func (s *Store) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	physical, err := s.bucketFor(bucket)
	if err != nil {
		return nil, err
	}
	objectKey := applyPrefix(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(physical),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s/%s", object.ErrNotFound, physical, objectKey)
		}
		return nil, fmt.Errorf("s3 get object bucket=%s key=%s: %w", physical, objectKey, err)
	}
	return out.Body, nil
}

// Delete removes keys in batches of deleteBatchSize.
func (s *Store) Delete(ctx context.Context, bucket string, keys ...string) error {
	physical, err := s.bucketFor(bucket)
	if err != nil {
		return err
	}
	var errs []error
	for _, chunk := range chunkKeys(keys, deleteBatchSize) {
		ids := make([]s3types.ObjectIdentifier, 0, len(chunk))
		for _, k := range chunk {
			ids = append(ids, s3types.ObjectIdentifier{Key: aws.String(applyPrefix(s.prefix, k))})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(physical),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("s3 delete objects bucket=%s: %w", physical, err))
			continue
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("s3 delete key=%s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	return errors.Join(errs...)
}

// PresignPut returns a URL the browser can PUT the object to directly.
func (s *Store) PresignPut(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	physical, err := s.bucketFor(bucket)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(physical),
		Key:         aws.String(applyPrefix(s.prefix, key)),
		ContentType: aws.String(contentTypeOrDefault(contentType)),
	}
	s.applyEncryption(input)
	req, err := s.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put bucket=%s: %w", physical, err)
	}
	return req.URL, nil
}

func (s *Store) bucketFor(bucket string) (string, error) {
	physical, ok := s.buckets[bucket]
	if !ok {
		return "", fmt.Errorf("%w: %q", object.ErrUnknownBucket, bucket)
	}
	return physical, nil
}

func (s *Store) applyEncryption(input *s3.PutObjectInput) {
	if s.kmsKeyID != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.kmsKeyID)
		return
	}
	input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	switch {
	case cleanPrefix == "":
		return cleanKey
	case cleanKey == "":
		return cleanPrefix
	default:
		return cleanPrefix + "/" + cleanKey
	}
}

func chunkKeys(keys []string, size int) [][]string {
	var chunks [][]string
	for len(keys) > 0 {
		n := min(size, len(keys))
		chunks = append(chunks, keys[:n])
		keys = keys[n:]
	}
	return chunks
}

func contentTypeOrDefault(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "application/octet-stream"
	}
	return ct
}

var (
	_ object.Store     = (*Store)(nil)
	_ object.Presigner = (*Store)(nil)
)
