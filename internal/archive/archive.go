// Package archive offloads versions evicted from a project's capped history
// to object storage. Archiving is best-effort: the cap is enforced by the
// store regardless, the archive just keeps the overflow recoverable.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"inkwell/api/internal/store"
)

const bucket = "inkwell-versions"

// Options configures the object storage connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Service writes evicted versions to a bucket. A nil Service no-ops, so the
// archive is safe to leave unconfigured.
type Service struct {
	client *minio.Client
}

// New connects to object storage and ensures the bucket exists.
func New(ctx context.Context, opts Options) (*Service, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Service{client: client}, nil
}

// ArchiveEvicted stores one evicted version (fire-and-forget).
func (s *Service) ArchiveEvicted(projectID string, v store.ProjectVersion) {
	if s == nil || s.client == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.put(ctx, projectID, v); err != nil {
			log.Printf("archive: version %s of project %s: %v", v.ID, projectID, err)
		}
	}()
}

func (s *Service) put(ctx context.Context, projectID string, v store.ProjectVersion) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal version: %w", err)
	}
	_, err = s.client.PutObject(ctx, bucket, objectName(projectID, v), bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// objectName groups archived versions by project, ordered by capture time.
func objectName(projectID string, v store.ProjectVersion) string {
	return fmt.Sprintf("projects/%s/%s-%s.json", projectID, v.CreatedAt.UTC().Format("20060102T150405"), v.ID)
}
