package resources

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/mesh"
	"github.com/Faultbox/scenetag/pkg/formats"
)

// SceneOptions controls how a mesh and its mask are loaded.
type SceneOptions struct {
	MaskExt      string // Defaults to ".npy"
	GridFallback bool   // Assign grid cells when no mask exists
	GridSize     int
}

// Scene is a mesh loaded together with its instance index.
type Scene struct {
	Mesh *mesh.Mesh
	// Index is nil when instance data is unavailable.
	Index *instance.Index
	// MaskErr records why no mask was used: errs.ErrResourceNotFound for a
	// missing file or an errs.ErrDecode for a malformed one.
	MaskErr error
	// Grid is set when Index holds placeholder grid cells.
	Grid bool
}

// LoadScene fetches the mask of name, then decodes the mesh. A missing or
// malformed mask leaves the scene without an index; a malformed mesh fails
// the whole load.
func (m *Manager) LoadScene(ctx context.Context, name string, opts SceneOptions) (*Scene, error) {
	if opts.MaskExt == "" {
		opts.MaskExt = ".npy"
	}

	maskName := MaskName(name, opts.MaskExt)
	var ids []instance.ID
	maskData, maskErr := m.Load(maskName)
	if maskErr == nil {
		npy, err := formats.ParseNPY(maskData)
		if err != nil {
			maskErr = fmt.Errorf("%w: mask %s: %w", errs.ErrDecode, maskName, err)
		} else {
			ids = instance.FromInt64(npy.Values)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := m.Load(name)
	if err != nil {
		return nil, err
	}
	ply, err := formats.ParsePLY(data)
	if err != nil {
		return nil, fmt.Errorf("%w: mesh %s: %w", errs.ErrDecode, name, err)
	}
	mm, err := mesh.Load(name, mesh.FromPLY(ply))
	if err != nil {
		return nil, err
	}

	scene := &Scene{Mesh: mm, MaskErr: maskErr}
	switch {
	case ids != nil:
		scene.Index = instance.NewIndex(ids, mm.VertexCount())
	case opts.GridFallback:
		scene.Index = instance.NewIndex(instance.AssignGridIDs(mm, opts.GridSize), mm.VertexCount())
		scene.Grid = true
	}

	fields := []zap.Field{
		zap.String("mesh", name),
		zap.Int("vertices", mm.VertexCount()),
		zap.Int("triangles", mm.TriangleCount()),
		zap.Bool("instances", scene.Index != nil),
	}
	if maskErr != nil && !errors.Is(maskErr, errs.ErrResourceNotFound) {
		m.log.Warn("instance mask unusable", append(fields, zap.Error(maskErr))...)
	} else {
		m.log.Info("scene loaded", fields...)
	}
	return scene, nil
}
