package artifacts

import (
	"context"
	"fmt"
)

// StoreType selects an artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// GCSConfig selects a GCS bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Config is the artifacts section of the service configuration.
type Config struct {
	Type StoreType `mapstructure:"type"`
	Dir  string    `mapstructure:"dir"`
	S3   S3Config  `mapstructure:"s3"`
	GCS  GCSConfig `mapstructure:"gcs"`
}

// Open creates the store selected by cfg. An empty type means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/artifacts"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		return NewS3Store(ctx, cfg.S3)
	case StoreTypeGCS:
		return openGCS(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Type)
	}
}
