package gcp

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvBool reads a boolean variable; unparsable values fall back.
func GetEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// GetEnvInt reads an integer variable; unparsable values fall back.
func GetEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// GetEnvDuration reads a duration such as "30s"; unparsable values fall back.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// NewBlobStore creates the Cloud Storage backed store used by every service.
func NewBlobStore(ctx context.Context, config blobstore.GCSConfig) (*blobstore.GCSStore, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("ASSETS_BUCKET environment variable must be set")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	store, err := blobstore.NewGCSStore(client, config)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}
