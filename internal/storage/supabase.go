// Package storage uploads finished call transcripts to a Supabase bucket
// so results survive the machine the probe ran on. Upload is best effort;
// the local JSON file is the source of truth.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/supabase-community/supabase-go"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Enabled reports whether upload is configured at all.
func (c Config) Enabled() bool { return c.URL != "" && c.ServiceRoleKey != "" }

type Storage struct {
	client *supabase.Client
	bucket string
}

// New builds the Supabase-backed store.
func New(config Config) (*Storage, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Storage{client: client, bucket: config.Bucket}, nil
}

// Upload stores data under key in the bucket.
func (s *Storage) Upload(key string, data []byte) error {
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s to supabase: %w", key, err)
	}
	return nil
}

// UploadTranscriptFile pushes one saved transcript JSON by path.
func (s *Storage) UploadTranscriptFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read transcript for upload: %w", err)
	}
	key := filepath.Base(path)
	if err := s.Upload(key, data); err != nil {
		return err
	}
	log.Infof("storage: transcript uploaded as %s", key)
	return nil
}
