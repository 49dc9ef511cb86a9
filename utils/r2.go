// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"match-coordinator/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

// R2Archive writes match records as JSON objects to a Cloudflare R2 bucket.
type R2Archive struct {
	client *s3.Client
	bucket string
}

func NewR2Archive(ctx context.Context, accountID, accessKeyID, accessKeySecret, bucket string) (*R2Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID))
	})
	return &R2Archive{client: client, bucket: bucket}, nil
}

func (a *R2Archive) Name() string { return "r2" }

// Record uploads rec under ArchiveKey(rec).
func (a *R2Archive) Record(ctx context.Context, rec models.MatchRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ArchiveKey(rec)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}

// ArchiveKey is the object key for a record, e.g.
// "matches/2026/10/19/court-7-finals-expired-1a2b3c4d.json".
func ArchiveKey(rec models.MatchRecord) string {
	id := rec.ID
	if len(id) > 8 {
		id = id[:8]
	}
	name := slug.Make(rec.MatchID)
	if name == "" {
		name = "match"
	}
	return fmt.Sprintf("matches/%s/%s-%s-%s.json",
		rec.FinishedAt.UTC().Format("2006/01/02"), name, rec.Outcome, id)
}
