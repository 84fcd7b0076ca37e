// Package archive stores a JSON snapshot of every published changeset in an
// S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
	"github.com/dmitrijs2005/changesetd/internal/timex"
)

type Config struct {
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	// Prefix is prepended to every object key.
	Prefix string
}

// objectPutter is the part of *s3.Client the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Seams for tests.
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
)

type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Snapshot is the archived form of a published changeset.
type Snapshot struct {
	UUID       string              `json:"uuid"`
	Status     string              `json:"status"`
	Title      string              `json:"title"`
	DateGMT    string              `json:"date_gmt,omitempty"`
	Author     string              `json:"author"`
	Settings   models.SettingsData `json:"settings"`
	ArchivedAt time.Time           `json:"archived_at"`
}

// Key returns the object key of c: <prefix>/changesets/YYYY/MM/DD/<uuid>.json,
// dated by publication.
func (a *S3Archiver) Key(c *models.Changeset) string {
	d := time.Now().UTC()
	if c.Date != nil {
		d = c.Date.UTC()
	}
	return path.Join(a.prefix, "changesets", d.Format("2006/01/02"), c.UUID+".json")
}

func (a *S3Archiver) Archive(ctx context.Context, c *models.Changeset) error {
	snap := Snapshot{
		UUID:       c.UUID,
		Status:     c.Status,
		Title:      c.Title,
		Author:     c.Author,
		Settings:   c.Data,
		ArchivedAt: time.Now().UTC(),
	}
	if c.Date != nil {
		snap.DateGMT = timex.FormatGMT(*c.Date)
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", c.UUID, err)
	}

	key := a.Key(c)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}
