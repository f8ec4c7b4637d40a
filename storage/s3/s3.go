// Package s3 implements a state store on S3-compatible object storage.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/storage"
)

// DefaultPrefix namespaces snapshot objects.
const DefaultPrefix = "esgo/states/"

// ObjectAPI is the subset of the S3 client the store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config holds bucket settings.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

// NewClient loads the default AWS configuration and builds a client.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// StateStore keeps one object per entity at prefix+key(id)+".snap".
type StateStore[K comparable, S entity.State[K]] struct {
	client ObjectAPI
	codec  *storage.StateCodec[K, S]
	bucket string
	prefix string
	key    storage.KeyFunc[K]
}

// NewStateStore creates a StateStore. A nil key uses storage.DefaultKey.
func NewStateStore[K comparable, S entity.State[K]](client ObjectAPI, stateCodec *storage.StateCodec[K, S], cfg Config, key storage.KeyFunc[K]) (*StateStore[K, S], error) {
	if client == nil || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, storage.ErrMissingConnection
	}
	if stateCodec == nil {
		return nil, storage.ErrNilSerializer
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if key == nil {
		key = storage.DefaultKey[K]
	}
	return &StateStore[K, S]{client: client, codec: stateCodec, bucket: cfg.Bucket, prefix: prefix, key: key}, nil
}

// ObjectKey returns the object key of id's snapshot.
func (s *StateStore[K, S]) ObjectKey(id K) string {
	return s.prefix + s.key(id) + ".snap"
}

// GetByID returns the snapshot of id.
func (s *StateStore[K, S]) GetByID(ctx context.Context, id K) (S, bool, error) {
	var zero S
	key := s.ObjectKey(id)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("s3 get failed for %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return zero, false, fmt.Errorf("s3 read failed for %s: %w", key, err)
	}
	state, err := s.codec.Decode(data)
	if err != nil {
		return zero, false, err
	}
	return state, true, nil
}

// Insert writes the first snapshot with a conditional put that fails when
// the object already exists.
func (s *StateStore[K, S]) Insert(ctx context.Context, state S) error {
	key := s.ObjectKey(state.Base().StateID)
	data, err := s.codec.Encode(state)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("%w: %s", storage.ErrStateExists, key)
		}
		return fmt.Errorf("s3 put failed for %s: %w", key, err)
	}
	return nil
}

// Update overwrites an existing snapshot.
func (s *StateStore[K, S]) Update(ctx context.Context, state S) error {
	key := s.ObjectKey(state.Base().StateID)
	data, err := s.codec.Encode(state)
	if err != nil {
		return err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", storage.ErrStateNotFound, key)
		}
		return fmt.Errorf("s3 head failed for %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		IfMatch:     head.ETag,
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("s3 put failed for %s: snapshot changed concurrently: %w", key, err)
		}
		return fmt.Errorf("s3 put failed for %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (s *StateStore[K, S]) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
