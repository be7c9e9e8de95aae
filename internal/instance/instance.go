// Package instance maps mesh vertices to object instance ids.
package instance

import (
	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/logger"
	"github.com/Faultbox/scenetag/internal/mesh"
)

// ID is an object instance id. Zero means the vertex belongs to no instance.
type ID int64

// Unassigned is the id of vertices outside every instance.
const Unassigned ID = 0

// Membership answers whether an id is part of a set.
type Membership interface {
	Contains(id ID) bool
}

// Index is the per-vertex instance mask of the active mesh. A nil *Index is
// valid and answers every lookup with none.
type Index struct {
	ids         []ID
	vertexCount int
}

// NewIndex wraps a mask for a mesh with vertexCount vertices. A mask whose
// length differs from vertexCount is accepted with a warning; vertices past
// the end of the mask have no instance.
func NewIndex(ids []ID, vertexCount int) *Index {
	idx := &Index{ids: ids, vertexCount: vertexCount}
	if idx.Mismatched() {
		logger.Warn("instance mask length does not match mesh",
			zap.Int("mask", len(ids)),
			zap.Int("vertices", vertexCount))
	}
	return idx
}

// FromInt64 converts a decoded numeric mask.
func FromInt64(values []int64) []ID {
	ids := make([]ID, len(values))
	for i, v := range values {
		ids[i] = ID(v)
	}
	return ids
}

// Lookup returns the instance id of vertex v. It reports false when there is
// no mask, when v is outside the mask, or when the stored id is negative.
func (idx *Index) Lookup(v int) (ID, bool) {
	if idx == nil || v < 0 || v >= len(idx.ids) {
		return Unassigned, false
	}
	id := idx.ids[v]
	if id < 0 {
		return Unassigned, false
	}
	return id, true
}

// MembersOfAny reports whether any corner of tri has an instance id in set.
func (idx *Index) MembersOfAny(set Membership, tri [3]uint32) bool {
	if idx == nil || set == nil {
		return false
	}
	for _, v := range tri {
		if id, ok := idx.Lookup(int(v)); ok && set.Contains(id) {
			return true
		}
	}
	return false
}

// Len returns the mask length.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.ids)
}

// Mismatched reports whether the mask length differs from the mesh vertex
// count.
func (idx *Index) Mismatched() bool {
	return idx != nil && len(idx.ids) != idx.vertexCount
}

// Distinct returns the number of distinct ids in the mask, including zero.
func (idx *Index) Distinct() int {
	if idx == nil {
		return 0
	}
	seen := make(map[ID]struct{})
	for _, id := range idx.ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// Counts returns the number of vertices carrying each id.
func (idx *Index) Counts() map[ID]int {
	counts := make(map[ID]int)
	if idx == nil {
		return counts
	}
	for _, id := range idx.ids {
		counts[id]++
	}
	return counts
}

// IDs returns a copy of the mask.
func (idx *Index) IDs() []ID {
	if idx == nil {
		return nil
	}
	out := make([]ID, len(idx.ids))
	copy(out, idx.ids)
	return out
}

// Int64s returns the mask as plain integers, ready for encoding.
func (idx *Index) Int64s() []int64 {
	if idx == nil {
		return nil
	}
	out := make([]int64, len(idx.ids))
	for i, id := range idx.ids {
		out[i] = int64(id)
	}
	return out
}

// AssignGridIDs partitions the mesh bounding box into gridSize^3 cells and
// gives every vertex the id of its cell, starting at 1. It stands in for a
// real segmentation when no mask exists.
func AssignGridIDs(m *mesh.Mesh, gridSize int) []ID {
	if m == nil {
		return nil
	}
	if gridSize < 1 {
		gridSize = 1
	}

	size := m.Size()
	extent := [3]float32{size.X, size.Y, size.Z}
	ids := make([]ID, m.VertexCount())
	for i := range ids {
		p := m.Position(i)
		rel := [3]float32{p.X - m.Bounds.Min.X, p.Y - m.Bounds.Min.Y, p.Z - m.Bounds.Min.Z}

		var cell [3]int
		for axis := 0; axis < 3; axis++ {
			if extent[axis] == 0 {
				continue
			}
			c := int(rel[axis] / extent[axis] * float32(gridSize))
			cell[axis] = min(max(c, 0), gridSize-1)
		}
		ids[i] = ID(1 + cell[0] + cell[1]*gridSize + cell[2]*gridSize*gridSize)
	}
	return ids
}
