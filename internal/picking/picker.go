package picking

import (
	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/logger"
	"github.com/Faultbox/scenetag/internal/mesh"
	"github.com/Faultbox/scenetag/pkg/math"
)

// Camera is the view a pick is made through.
type Camera interface {
	ViewProjection() math.Mat4
	Viewport() (width, height float32)
}

// Hit is the nearest triangle under a ray.
type Hit struct {
	Triangle int
	T        float32
	Point    math.Vec3 // Display (offset) coordinates
}

// Picker resolves screen positions to instance ids.
type Picker struct {
	log *zap.Logger
}

// NewPicker creates a picker.
func NewPicker() *Picker {
	return &Picker{log: logger.Named("picking")}
}

// Cast returns the nearest triangle of m hit by ray, which is given in
// display coordinates.
func (p *Picker) Cast(ray Ray, m *mesh.Mesh) (Hit, bool) {
	if m == nil {
		return Hit{}, false
	}

	// Work in source coordinates so the mesh stays untouched.
	local := ray.Translate(m.Offset.Negate())
	if _, ok := local.IntersectAABB(AABB{Min: m.Bounds.Min, Max: m.Bounds.Max}); !ok {
		return Hit{}, false
	}

	best := Hit{Triangle: -1}
	for i, tri := range m.Triangles {
		t, ok := local.IntersectTriangle(m.Position(int(tri[0])), m.Position(int(tri[1])), m.Position(int(tri[2])))
		if ok && (best.Triangle < 0 || t < best.T) {
			best = Hit{Triangle: i, T: t}
		}
	}
	if best.Triangle < 0 {
		return Hit{}, false
	}
	best.Point = ray.At(best.T)
	return best, true
}

// Pick casts a ray through pixel (x, y) and returns the instance id of the
// first corner of the nearest triangle hit. It reports false when nothing
// is hit, when there is no instance index, or when the corner is
// unassigned.
func (p *Picker) Pick(cam Camera, m *mesh.Mesh, idx *instance.Index, x, y float32) (instance.ID, bool) {
	if cam == nil || m == nil || idx == nil {
		return instance.Unassigned, false
	}

	w, h := cam.Viewport()
	if w <= 0 || h <= 0 {
		return instance.Unassigned, false
	}
	ray := ScreenToRay(x, y, w, h, cam.ViewProjection().Inverse())

	hit, ok := p.Cast(ray, m)
	if !ok {
		return instance.Unassigned, false
	}

	vertex := int(m.Triangles[hit.Triangle][0])
	id, ok := idx.Lookup(vertex)
	p.log.Debug("pick",
		zap.Int("triangle", hit.Triangle),
		zap.Int("vertex", vertex),
		zap.Int64("instance", int64(id)),
		zap.Bool("assigned", ok && id != instance.Unassigned))
	if !ok || id == instance.Unassigned {
		return instance.Unassigned, false
	}
	return id, true
}
