// Package objstore abstracts the object storage collaborator that holds
// composed question images and whole page images. All backends share
// overwrite-on-same-key semantics so reprocessing a paper is idempotent.
package objstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for keys that were never written.
var ErrNotFound = errors.New("objstore: object not found")

// Store is the object storage capability.
type Store interface {
	// Put writes bytes under a key, overwriting any existing object, and
	// returns a stable reference for later Get calls.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get reads an object by the reference Put returned.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "memory", "local", "gcs".
	Backend string `json:"backend"`
	// Dir is the root directory for the local backend.
	Dir string `json:"dir,omitempty"`
	// Bucket is the bucket name for the gcs backend.
	Bucket string `json:"bucket,omitempty"`
}

// New constructs the configured backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "local":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("objstore: local backend requires a directory")
		}
		return NewLocal(cfg.Dir)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("objstore: gcs backend requires a bucket")
		}
		return NewGCS(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("objstore: unknown backend: %s", cfg.Backend)
	}
}
