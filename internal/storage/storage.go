// Package storage persists the annotation list of each mesh behind the
// write endpoint.
package storage

import (
	"context"
	"fmt"

	"github.com/Faultbox/scenetag/internal/config"
)

// Store saves and loads the encoded annotation list of a mesh. mesh is the
// mesh resource name, for example "scene_mesh_aligned_0.05.ply".
type Store interface {
	Save(ctx context.Context, mesh string, payload []byte) error
	// Load returns errs.ErrResourceNotFound when nothing was saved.
	Load(ctx context.Context, mesh string) ([]byte, error)
	Close() error
}

// Open creates the store selected by cfg.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Annotations.Backend {
	case "", "file":
		return NewFileStore(cfg.Data.AnnotationsDir)
	case "postgres":
		return OpenPostgres(ctx, cfg.Annotations.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown annotation backend %q", cfg.Annotations.Backend)
	}
}
