// Package mesh holds the active triangle mesh and its display transform.
package mesh

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/pkg/formats"
	"github.com/Faultbox/scenetag/pkg/math"
)

// Raw is a decoded triangle mesh before validation. Normals and Colors may be
// nil.
type Raw struct {
	Positions [][3]float32
	Normals   [][3]float32
	Colors    [][3]float32
	Triangles [][3]uint32
}

// FromPLY adapts a decoded PLY file.
func FromPLY(p *formats.PLY) *Raw {
	return &Raw{
		Positions: p.Positions,
		Normals:   p.Normals,
		Colors:    p.Colors,
		Triangles: p.Faces,
	}
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min math.Vec3
	Max math.Vec3
}

// Center returns the midpoint of the box.
func (b Bounds) Center() math.Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Size returns the extent of the box along each axis.
func (b Bounds) Size() math.Vec3 {
	return b.Max.Sub(b.Min)
}

// Mesh is a validated triangle mesh. Positions are kept as loaded; Offset is
// the display translation (minus the bounding-box center) applied on top.
type Mesh struct {
	Name      string
	Positions [][3]float32
	Normals   [][3]float32 // Always present, unit length
	Colors    [][3]float32 // nil when the source had no vertex colors
	Triangles [][3]uint32
	Bounds    Bounds
	Offset    math.Vec3
}

// Load validates raw and builds a Mesh. Missing or mis-sized normals are
// recomputed from the triangles. raw is not modified.
func Load(name string, raw *Raw) (*Mesh, error) {
	if raw == nil || len(raw.Positions) == 0 {
		return nil, fmt.Errorf("%w: mesh %s has no vertices", errs.ErrDecode, name)
	}

	n := len(raw.Positions)
	for i, tri := range raw.Triangles {
		for _, v := range tri {
			if int(v) >= n {
				return nil, fmt.Errorf("%w: mesh %s triangle %d references vertex %d of %d",
					errs.ErrDecode, name, i, v, n)
			}
		}
	}

	if raw.Colors != nil && len(raw.Colors) != n {
		return nil, fmt.Errorf("%w: mesh %s has %d colors for %d vertices",
			errs.ErrDecode, name, len(raw.Colors), n)
	}

	m := &Mesh{
		Name:      name,
		Positions: raw.Positions,
		Colors:    raw.Colors,
		Triangles: raw.Triangles,
	}

	if len(raw.Normals) == n {
		m.Normals = make([][3]float32, n)
		copy(m.Normals, raw.Normals)
	} else {
		m.Normals = ComputeNormals(raw.Positions, raw.Triangles)
	}
	FixNormals(m.Normals)

	m.Bounds = ComputeBounds(raw.Positions)
	m.Offset = m.Bounds.Center().Negate()
	return m, nil
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Positions)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

// Center returns the bounding-box center in source coordinates.
func (m *Mesh) Center() math.Vec3 {
	return m.Bounds.Center()
}

// Size returns the bounding-box extent.
func (m *Mesh) Size() math.Vec3 {
	return m.Bounds.Size()
}

// HasColors reports whether the mesh carries per-vertex colors.
func (m *Mesh) HasColors() bool {
	return m.Colors != nil
}

// Position returns vertex i in source coordinates.
func (m *Mesh) Position(i int) math.Vec3 {
	return math.V3(m.Positions[i])
}

// WorldPosition returns vertex i with the display offset applied.
func (m *Mesh) WorldPosition(i int) math.Vec3 {
	return math.V3(m.Positions[i]).Add(m.Offset)
}

// Fit holds the initial camera placement for a mesh.
type Fit struct {
	Distance    float32
	MinDistance float32
	MaxDistance float32
}

// FitDistance places the camera on +Z far enough to frame the whole mesh for
// a vertical field of view fovY, in degrees.
func (m *Mesh) FitDistance(fovY float32) Fit {
	maxDim := m.Size().MaxComponent()
	half := math.DegToRad(fovY) / 2
	frame := math32.Abs(maxDim / math32.Sin(half))
	return Fit{
		Distance:    frame * 1.5,
		MinDistance: maxDim / 10,
		MaxDistance: frame * 4,
	}
}

// ComputeBounds returns the bounding box of positions.
func ComputeBounds(positions [][3]float32) Bounds {
	if len(positions) == 0 {
		return Bounds{}
	}
	b := Bounds{Min: math.V3(positions[0]), Max: math.V3(positions[0])}
	for _, p := range positions[1:] {
		v := math.V3(p)
		b.Min = b.Min.Min(v)
		b.Max = b.Max.Max(v)
	}
	return b
}

// ComputeNormals returns smooth per-vertex normals: each vertex gets the sum
// of the area-weighted normals of the triangles that use it, normalized.
func ComputeNormals(positions [][3]float32, triangles [][3]uint32) [][3]float32 {
	sums := make([]math.Vec3, len(positions))
	for _, tri := range triangles {
		a := math.V3(positions[tri[0]])
		b := math.V3(positions[tri[1]])
		c := math.V3(positions[tri[2]])
		n := c.Sub(b).Cross(a.Sub(b))
		sums[tri[0]] = sums[tri[0]].Add(n)
		sums[tri[1]] = sums[tri[1]].Add(n)
		sums[tri[2]] = sums[tri[2]].Add(n)
	}

	normals := make([][3]float32, len(positions))
	for i, s := range sums {
		normals[i] = s.Normalize().Array()
	}
	return normals
}

// FixNormals replaces zero-length normals with +Z and normalizes the rest in
// place.
func FixNormals(normals [][3]float32) {
	for i, n := range normals {
		v := math.V3(n)
		if v.LengthSquared() == 0 {
			normals[i] = [3]float32{0, 0, 1}
			continue
		}
		normals[i] = v.Normalize().Array()
	}
}
