package archive

import (
	"context"
	"fmt"
	"tmcnotebook/internal/infra/archive/fs"
	"tmcnotebook/internal/infra/archive/memory"
	infraS3 "tmcnotebook/internal/infra/archive/s3"
)

// S3Config re-exports the infra S3 configuration.
type S3Config = infraS3.Config

// Config selects an archive backend.
type Config struct {
	Driver Driver
	FSRoot string // root directory when Driver is fs
	S3     S3Config
}

// Open builds the configured Store. An empty driver selects fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memory.New() }

// NewMockS3ForTests exposes the in-process S3 fake for cross-package tests.
func NewMockS3ForTests(ctx context.Context, bucket string) (Store, error) {
	return infraS3.NewMock(ctx, bucket)
}
