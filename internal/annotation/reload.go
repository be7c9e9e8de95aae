package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/internal/logger"
)

// Collection is one sub-collection file and the array fields read from it,
// in order.
type Collection struct {
	Name   string
	Fields []string
}

// DefaultFragment is the part of a mesh name replaced by a collection name.
const DefaultFragment = "mesh_aligned_0.05"

// DefaultCollections are the annotation sets merged on reload, in order:
// commonsense, human intention, absolute and relative relations.
var DefaultCollections = []Collection{
	{Name: "regular_annotations", Fields: []string{"commonsense", "human_intention"}},
	{Name: "spatial_annotations", Fields: []string{"abs_annotations", "rel_annotations"}},
}

// CollectionName derives the resource name of collection from the mesh's
// annotation name by replacing fragment.
func CollectionName(name, fragment, collection string) string {
	if fragment == "" {
		return name
	}
	return strings.Replace(name, fragment, collection, 1)
}

// Reload fetches every collection for the annotation name of a mesh and
// concatenates their arrays in collection then field order. Collections are
// fetched concurrently. A missing or malformed collection or field
// contributes nothing; only a cancelled ctx is returned as an error.
func Reload(ctx context.Context, backend Backend, name, fragment string, collections []Collection) ([]Annotation, error) {
	if collections == nil {
		collections = DefaultCollections
	}
	log := logger.Named("annotation")

	parts := make([][]Annotation, len(collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range collections {
		g.Go(func() error {
			resource := CollectionName(name, fragment, c.Name)
			data, err := backend.Fetch(gctx, resource)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if errors.Is(err, errs.ErrResourceNotFound) {
					log.Debug("annotation collection missing", zap.String("resource", resource))
				} else {
					log.Warn("fetching annotation collection", zap.String("resource", resource), zap.Error(err))
				}
				return nil
			}
			parts[i] = decodeCollection(log, resource, data, c.Fields)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Annotation
	for _, p := range parts {
		out = append(out, p...)
	}
	log.Info("annotations loaded", zap.String("name", name), zap.Int("count", len(out)))
	return out, nil
}

// decodeCollection extracts fields from a collection object. Missing fields
// are empty.
func decodeCollection(log *zap.Logger, resource string, data []byte, fields []string) []Annotation {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		log.Warn("decoding annotation collection", zap.String("resource", resource), zap.Error(err))
		return nil
	}

	var out []Annotation
	for _, f := range fields {
		raw, ok := obj[f]
		if !ok {
			continue
		}
		var list []Annotation
		if err := json.Unmarshal(raw, &list); err != nil {
			log.Warn("decoding annotation field",
				zap.String("resource", resource),
				zap.String("field", f),
				zap.Error(err))
			continue
		}
		out = append(out, list...)
	}
	return out
}
