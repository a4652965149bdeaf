// Package backup archives the expiry-calendar SQLite file to an S3-
// compatible bucket (R2, S3, or any compatible endpoint) on a schedule.
// Grounded on internal/reliability/r2_backup_service.go's orchestration
// shape (WAL checkpoint, staging, checksum, upload, rotate-by-age), scaled
// down from its multi-database tar.gz archive to the single SQLite file
// this system persists, and rewired from its never-retrieved R2Client onto
// aws-sdk-go-v2's s3/manager packages directly (see DESIGN.md).
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/database"
)

// Config configures the S3-compatible backup target.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

const (
	keyPrefix       = "quantlab-calendar-"
	minBackupsToKeep = 3
)

// Service archives and rotates backups of the calendar database.
type Service struct {
	client *s3.Client
	cfg    Config
	db     *database.DB
	log    zerolog.Logger
}

// New builds a Service using aws-sdk-go-v2's static-credentials provider
// and an optional custom endpoint (for R2 or another S3-compatible host).
func New(ctx context.Context, cfg Config, db *database.DB, log zerolog.Logger) (*Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Service{
		client: client,
		cfg:    cfg,
		db:     db,
		log:    log.With().Str("component", "backup").Logger(),
	}, nil
}

// RunContext checkpoints the WAL, uploads a snapshot of the calendar
// database, and rotates backups past the configured retention.
func (s *Service) RunContext(ctx context.Context) error {
	s.log.Info().Msg("starting calendar backup")
	start := time.Now()

	if err := s.db.WALCheckpoint(); err != nil {
		return fmt.Errorf("backup: failed to checkpoint WAL: %w", err)
	}

	f, err := os.Open(s.db.Path())
	if err != nil {
		return fmt.Errorf("backup: failed to open database file: %w", err)
	}
	defer f.Close()

	checksum, err := checksumFile(s.db.Path())
	if err != nil {
		return fmt.Errorf("backup: failed to checksum database file: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("backup: failed to rewind database file: %w", err)
	}

	key := fmt.Sprintf("%s%s.db", keyPrefix, time.Now().UTC().Format("2006-01-02-150405"))
	uploader := manager.NewUploader(s.client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: map[string]string{"checksum_sha256": checksum},
	}); err != nil {
		return fmt.Errorf("backup: failed to upload to bucket: %w", err)
	}

	s.log.Info().Dur("duration_ms", time.Since(start)).Str("key", key).Msg("calendar backup completed")

	if err := s.rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("backup rotation failed, new backup was still uploaded")
	}
	return nil
}

type backupObject struct {
	Key       string
	Timestamp time.Time
}

func (s *Service) list(ctx context.Context) ([]backupObject, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(keyPrefix),
	})
	if err != nil {
		return nil, err
	}

	var backups []backupObject
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, keyPrefix), ".db")
		ts, err := time.Parse("2006-01-02-150405", name)
		if err != nil {
			continue
		}
		backups = append(backups, backupObject{Key: *obj.Key, Timestamp: ts})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// rotate deletes backups older than the configured retention, always
// keeping at least minBackupsToKeep (mirrors r2_backup_service.go's
// rotation rule).
func (s *Service) rotate(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	backups, err := s.list(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	for i, b := range backups {
		if i < minBackupsToKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(b.Key),
		}); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.Key).Msg("deleted old backup")
	}
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Name satisfies internal/scheduler.Job.
func (s *Service) Name() string { return "calendar_backup" }

// Run satisfies internal/scheduler.Job by running RunContext with a
// background context; the scheduler itself enforces no per-job timeout.
func (s *Service) Run() error {
	return s.RunContext(context.Background())
}
