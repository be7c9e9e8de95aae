// Package highlight derives the colored sub-mesh shown for the current
// selection.
package highlight

import (
	gomath "math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/mesh"
	"github.com/Faultbox/scenetag/internal/selection"
	"github.com/Faultbox/scenetag/pkg/math"
)

// Instance color parameters.
const (
	goldenAngle = 137.508
	saturation  = 0.75
	lightness   = 0.60
)

// Gray is the color of highlighted vertices that belong to no selected
// instance when the mesh has no vertex colors (0x888888).
var Gray = [3]float32{0x88 / 255.0, 0x88 / 255.0, 0x88 / 255.0}

// ColorFor returns the display color of an instance. Consecutive ids are a
// golden angle apart in hue.
func ColorFor(id instance.ID) [3]float32 {
	hue := gomath.Mod(float64(id)*goldenAngle, 360)
	if hue < 0 {
		hue += 360
	}
	c := colorful.Hsl(hue, saturation, lightness)
	return [3]float32{float32(c.R), float32(c.G), float32(c.B)}
}

// Mesh is a highlight overlay: the triangles of the source mesh touching any
// selected instance, with their own compact vertex buffer.
type Mesh struct {
	Positions [][3]float32
	Normals   [][3]float32
	Colors    [][3]float32
	Triangles [][3]uint32
	Offset    math.Vec3
	// Source maps each overlay vertex to its index in the source mesh.
	Source []uint32
	// InstanceIDs is the selection the overlay was built from.
	InstanceIDs []instance.ID
}

// VertexCount returns the number of overlay vertices.
func (h *Mesh) VertexCount() int {
	if h == nil {
		return 0
	}
	return len(h.Positions)
}

// TriangleCount returns the number of overlay triangles.
func (h *Mesh) TriangleCount() int {
	if h == nil {
		return 0
	}
	return len(h.Triangles)
}

// Rebuild builds the overlay for sel. It returns nil when there is nothing
// to show: no mesh, no instance index, or an empty selection.
//
// A triangle is included when any of its corners has a selected id, so
// patches keep the triangles straddling an instance boundary. Corners whose
// own id is selected take the instance color; the others keep the source
// vertex color, or Gray.
func Rebuild(m *mesh.Mesh, idx *instance.Index, sel *selection.Set) *Mesh {
	if m == nil || idx == nil || sel.Empty() {
		return nil
	}

	h := &Mesh{
		Offset:      m.Offset,
		InstanceIDs: sel.IDs(),
	}

	remap := make(map[uint32]uint32)
	for _, tri := range m.Triangles {
		if !idx.MembersOfAny(sel, tri) {
			continue
		}

		var out [3]uint32
		for k, v := range tri {
			nv, ok := remap[v]
			if !ok {
				nv = uint32(len(h.Positions))
				remap[v] = nv
				h.Positions = append(h.Positions, m.Positions[v])
				h.Colors = append(h.Colors, vertexColor(m, idx, sel, v))
				h.Source = append(h.Source, v)
			}
			out[k] = nv
		}
		h.Triangles = append(h.Triangles, out)
	}

	h.Normals = mesh.ComputeNormals(h.Positions, h.Triangles)
	mesh.FixNormals(h.Normals)
	return h
}

func vertexColor(m *mesh.Mesh, idx *instance.Index, sel *selection.Set, v uint32) [3]float32 {
	if id, ok := idx.Lookup(int(v)); ok && sel.Contains(id) {
		return ColorFor(id)
	}
	if m.HasColors() {
		return m.Colors[v]
	}
	return Gray
}
