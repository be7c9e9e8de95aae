package annotation

import (
	"context"
	"encoding/json"
	"fmt"
)

// Loader reads a named resource.
type Loader interface {
	Load(name string) ([]byte, error)
}

// Saver stores the encoded annotation list of a mesh.
type Saver interface {
	Save(ctx context.Context, mesh string, payload []byte) error
}

// Local is a Backend running inside the server process. Collections come
// from Resources and lists are written to Storage.
type Local struct {
	Resources Loader
	Storage   Saver
}

// Fetch implements Backend.
func (l *Local) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Resources.Load(name)
}

// Submit implements Backend. Storage failures are reported in the Result as
// the write endpoint would.
func (l *Local) Submit(ctx context.Context, mesh string, list []Annotation) (Result, error) {
	if list == nil {
		list = []Annotation{}
	}
	payload, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encoding annotations: %w", err)
	}
	if err := l.Storage.Save(ctx, mesh, payload); err != nil {
		return Result{Status: "error", Message: err.Error()}, nil
	}
	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("saved %d annotations for %s", len(list), mesh),
	}, nil
}
