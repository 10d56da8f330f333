// Package archive offloads settled webhook events to S3-compatible storage.
// The sqlite ledger is never pruned (it is the audit log and dedup key
// space); the archive is a copy for long-term retention and analysis.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/payline/internal/store"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3        S3Config
	Retention time.Duration
	Interval  time.Duration
	BatchSize int
}

const watermarkKey = "archive_watermark"

// Exporter periodically writes completed and failed webhook events older
// than the retention window to the bucket as JSON lines, tracking progress
// with a watermark so each event is exported once.
type Exporter struct {
	cfg    Config
	events *store.WebhookEventStore
	kv     *store.KVStore
	client s3Client
	logger *slog.Logger
	now    func() time.Time
}

func NewExporter(cfg Config, events *store.WebhookEventStore, kv *store.KVStore, logger *slog.Logger) *Exporter {
	if cfg.Retention == 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}

	e := &Exporter{
		cfg:    cfg,
		events: events,
		kv:     kv,
		logger: logger,
		now:    time.Now,
	}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		e.client = newS3Client(cfg.S3)
	}
	return e
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether storage credentials are configured.
func (e *Exporter) Enabled() bool {
	return e.client != nil
}

// Run exports on a fixed interval until the context is cancelled. No-op
// when storage is not configured.
func (e *Exporter) Run(ctx context.Context) {
	if !e.Enabled() {
		e.logger.Info("archive disabled, no storage configured")
		return
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.ExportOnce(ctx); err != nil {
				e.logger.Error("archive export", "error", err)
			} else if n > 0 {
				e.logger.Info("archived webhook events", "count", n)
			}
		}
	}
}

// ExportOnce uploads one batch of settled events past the retention window
// and advances the watermark. Returns the number of events exported.
func (e *Exporter) ExportOnce(ctx context.Context) (int, error) {
	if !e.Enabled() {
		return 0, nil
	}

	after := time.Time{}
	if mark, err := e.kv.Get(watermarkKey); err != nil {
		return 0, err
	} else if mark != "" {
		t, err := time.Parse(time.RFC3339Nano, mark)
		if err != nil {
			return 0, fmt.Errorf("parse watermark: %w", err)
		}
		after = t
	}

	now := e.now().UTC()
	cutoff := now.Add(-e.cfg.Retention)
	events, err := e.events.ListSettledBefore(cutoff, after, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, evt := range events {
		if err := enc.Encode(evt); err != nil {
			return 0, fmt.Errorf("encode event %s: %w", evt.ID, err)
		}
	}

	key := fmt.Sprintf("webhooks/%s/%d.jsonl", now.Format("2006-01-02"), now.UnixNano())
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return 0, fmt.Errorf("put archive object: %w", err)
	}

	last := events[len(events)-1]
	if last.ProcessedAt != nil {
		if err := e.kv.Set(watermarkKey, last.ProcessedAt.Format(time.RFC3339Nano)); err != nil {
			return 0, fmt.Errorf("advance watermark: %w", err)
		}
	}

	return len(events), nil
}
