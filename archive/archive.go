// Package archive exports conversation transcripts to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dailyux/eldercare-go/eldercare"
)

// ErrDisabled is returned by NopArchiver.
var ErrDisabled = errors.New("transcript archive is disabled")

// Transcript is the exported form of a session.
type Transcript struct {
	SessionID  string               `json:"session_id"`
	ExportedAt time.Time            `json:"exported_at"`
	Messages   []*eldercare.Message `json:"messages"`
	Summary    string               `json:"summary,omitempty"`
	// Tasks holds the session's scheduled follow-ups.
	Tasks interface{} `json:"tasks,omitempty"`
}

// Archiver stores transcripts and returns where each one went.
type Archiver interface {
	Put(ctx context.Context, transcript Transcript) (string, error)
}

// ObjectKey is the object name for a transcript exported at t.
func ObjectKey(sessionID string, t time.Time) string {
	return fmt.Sprintf("sessions/%s/%s.json", sessionID, t.UTC().Format("20060102T150405.000Z"))
}

// NopArchiver rejects every export.
type NopArchiver struct{}

// Put returns ErrDisabled.
func (NopArchiver) Put(context.Context, Transcript) (string, error) {
	return "", ErrDisabled
}

// MinioConfig holds the S3-compatible endpoint settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioArchiver uploads transcripts as JSON objects.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioArchiver connects to the endpoint. The bucket is created on first
// use if it does not exist.
func NewMinioArchiver(cfg MinioConfig, logger *slog.Logger) (*MinioArchiver, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (a *MinioArchiver) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	a.logger.InfoContext(ctx, "created archive bucket", "bucket", a.bucket)
	return nil
}

// Put uploads the transcript and returns "<bucket>/<key>".
func (a *MinioArchiver) Put(ctx context.Context, transcript Transcript) (string, error) {
	if transcript.ExportedAt.IsZero() {
		transcript.ExportedAt = time.Now().UTC()
	}
	data, err := Encode(transcript)
	if err != nil {
		return "", err
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}

	key := ObjectKey(transcript.SessionID, transcript.ExportedAt)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript to %s: %w", a.bucket, err)
	}
	return a.bucket + "/" + key, nil
}

// Encode renders the transcript as indented JSON.
func Encode(transcript Transcript) ([]byte, error) {
	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript: %w", err)
	}
	return data, nil
}
