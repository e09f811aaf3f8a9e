// Package archive copies accepted webhook payloads to S3 so deliveries can
// be inspected or replayed after the ProcessingLog row is gone.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = errors.New("archive: payload not found")

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Payload is one accepted webhook delivery.
type Payload struct {
	InstanceKey string
	LogID       string
	ReceivedAt  time.Time
	Body        []byte
	Senders     []string
}

// Store archives webhook payloads to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *slog.Logger
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Key is the object key for a payload:
// webhooks/v1/<instance>/<yyyy>/<mm>/<dd>/<log id>.json
func Key(instanceKey, logID string, receivedAt time.Time) string {
	at := receivedAt.UTC()
	return fmt.Sprintf("webhooks/v1/%s/%d/%02d/%02d/%s.json",
		instanceKey, at.Year(), at.Month(), at.Day(), logID)
}

// Archive writes the raw body and returns its key. A disabled store returns
// an empty key and no error.
func (s *Store) Archive(ctx context.Context, p Payload) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	if p.InstanceKey == "" || p.LogID == "" {
		return "", errors.New("archive: instance key and log id are required")
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now().UTC()
	}
	key := Key(p.InstanceKey, p.LogID, p.ReceivedAt)

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(p.Body),
		ContentType: aws.String("application/json"),
		Metadata:    metadata(p),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	s.logger.Debug("archived webhook payload", "instance_key", p.InstanceKey, "s3_key", key, "bytes", len(p.Body))
	return key, nil
}

// Get reads an archived payload back.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.Enabled() {
		return nil, errors.New("archive: not configured")
	}
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", key, err)
	}
	return body, nil
}

func metadata(p Payload) map[string]string {
	md := map[string]string{
		"instance-key": p.InstanceKey,
		"log-id":       p.LogID,
		"received-at":  p.ReceivedAt.UTC().Format(time.RFC3339),
	}
	if len(p.Senders) == 0 {
		return md
	}
	seen := make(map[string]struct{}, len(p.Senders))
	hashes := make([]string, 0, len(p.Senders))
	for _, sender := range p.Senders {
		h := HashAddress(sender)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	md["sender-hashes"] = strings.Join(hashes, ",")
	return md
}
