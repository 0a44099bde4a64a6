// Package objectstore implements the Object Store Adapter (§4.3, §6): an
// S3-backed last-writer-wins "latest" pointer plus a write-once history
// trail, for facts-extraction and drift-analysis results.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config configures the S3 client and target bucket.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for an S3-compatible endpoint (e.g. MinIO)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Store puts/gets objects under the facts/ and drift/ key prefixes
// described in §6.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a Store from cfg. When AccessKeyID/SecretAccessKey are both
// set, a static credentials provider is used; otherwise the default AWS
// credential chain applies (env vars, shared config, instance profile).
func New(ctx context.Context, cfg Config) (*Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// PutFacts writes v as the new facts/latest.json, and archives it under
// facts/history/<iso-timestamp>.json (§6 object store layout). History
// keys are write-once; latest is last-writer-wins (§5).
func (s *Store) PutFacts(ctx context.Context, v any) error {
	return s.putWithHistory(ctx, "facts", v)
}

// PutDrift writes v as the new drift/latest.json, and archives it under
// drift/history/<iso-timestamp>.json.
func (s *Store) PutDrift(ctx context.Context, v any) error {
	return s.putWithHistory(ctx, "drift", v)
}

// GetLatestFacts reads facts/latest.json into v. Returns
// ErrNotFound if no extraction has been recorded yet.
func (s *Store) GetLatestFacts(ctx context.Context, v any) error {
	return s.get(ctx, "facts/latest.json", v)
}

// GetLatestDrift reads drift/latest.json into v.
func (s *Store) GetLatestDrift(ctx context.Context, v any) error {
	return s.get(ctx, "drift/latest.json", v)
}

func (s *Store) putWithHistory(ctx context.Context, prefix string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", prefix, err)
	}

	historyKey := fmt.Sprintf("%s/history/%s.json", prefix, time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(historyKey),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("put %s history object: %w", prefix, err)
	}

	latestKey := fmt.Sprintf("%s/latest.json", prefix)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(latestKey),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("put %s latest object: %w", prefix, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3.NoSuchKey
		if errors.As(err, &nsk) {
			return ErrNotFound
		}
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read object %s: %w", key, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal object %s: %w", key, err)
	}
	return nil
}
