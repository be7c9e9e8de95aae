package instance

import (
	"testing"

	"github.com/Faultbox/scenetag/internal/mesh"
)

type idSet map[ID]bool

func (s idSet) Contains(id ID) bool { return s[id] }

func TestLookup(t *testing.T) {
	idx := NewIndex([]ID{0, 3, 3, 7, -1}, 5)

	tests := []struct {
		name   string
		vertex int
		want   ID
		ok     bool
	}{
		{"unassigned", 0, 0, true},
		{"assigned", 1, 3, true},
		{"last", 3, 7, true},
		{"negative id", 4, 0, false},
		{"past end", 5, 0, false},
		{"negative vertex", -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := idx.Lookup(tt.vertex)
			if id != tt.want || ok != tt.ok {
				t.Errorf("Lookup(%d) = (%d, %v), want (%d, %v)", tt.vertex, id, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNilIndex(t *testing.T) {
	var idx *Index

	if _, ok := idx.Lookup(0); ok {
		t.Error("nil index should answer none")
	}
	if idx.MembersOfAny(idSet{1: true}, [3]uint32{0, 1, 2}) {
		t.Error("nil index should match nothing")
	}
	if idx.Len() != 0 || idx.Distinct() != 0 || idx.Mismatched() {
		t.Error("nil index should be empty")
	}
	if idx.IDs() != nil || idx.Int64s() != nil {
		t.Error("nil index should have no ids")
	}
}

func TestMismatchedMask(t *testing.T) {
	// Shorter than the mesh: the tail has no instance
	idx := NewIndex([]ID{5, 5}, 4)
	if !idx.Mismatched() {
		t.Error("expected mismatch")
	}
	if _, ok := idx.Lookup(3); ok {
		t.Error("vertex past mask end should have no instance")
	}
	if !idx.MembersOfAny(idSet{5: true}, [3]uint32{3, 2, 1}) {
		t.Error("vertex 1 is inside the mask and selected")
	}
	if idx.MembersOfAny(idSet{5: true}, [3]uint32{2, 3, 3}) {
		t.Error("triangle entirely past mask end should not match")
	}

	// Longer than the mesh is still safe
	long := NewIndex([]ID{1, 2, 3, 4}, 2)
	if !long.Mismatched() {
		t.Error("expected mismatch")
	}
	if id, ok := long.Lookup(3); !ok || id != 4 {
		t.Errorf("expected (4, true), got (%d, %v)", id, ok)
	}
}

func TestDistinctAndCounts(t *testing.T) {
	idx := NewIndex([]ID{0, 1, 1, 2, 2, 2}, 6)

	if idx.Distinct() != 3 {
		t.Errorf("expected 3 distinct ids, got %d", idx.Distinct())
	}
	counts := idx.Counts()
	if counts[0] != 1 || counts[1] != 2 || counts[2] != 3 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestFromInt64(t *testing.T) {
	ids := FromInt64([]int64{4, 0, 9})
	idx := NewIndex(ids, 3)

	if got := idx.Int64s(); got[0] != 4 || got[2] != 9 {
		t.Errorf("unexpected round trip %v", got)
	}

	// IDs returns a copy
	copied := idx.IDs()
	copied[0] = 100
	if id, _ := idx.Lookup(0); id != 4 {
		t.Errorf("mask mutated through IDs(): %d", id)
	}
}

func TestAssignGridIDs(t *testing.T) {
	m, err := mesh.Load("cube.ply", &mesh.Raw{
		Positions: [][3]float32{
			{0, 0, 0}, // min corner
			{3, 3, 3}, // max corner clamps into the last cell
			{1.5, 0, 0},
			{0, 2.5, 2.5},
		},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ids := AssignGridIDs(m, 3)
	want := []ID{
		1,
		1 + 2 + 2*3 + 2*9,
		1 + 1,
		1 + 0 + 2*3 + 2*9,
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("vertex %d: expected id %d, got %d", i, want[i], ids[i])
		}
	}
}

func TestAssignGridIDs_FlatAxis(t *testing.T) {
	m, err := mesh.Load("plane.ply", &mesh.Raw{
		Positions: [][3]float32{{0, 0, 5}, {4, 0, 5}, {4, 4, 5}},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ids := AssignGridIDs(m, 2)
	want := []ID{1, 2, 4}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("vertex %d: expected id %d, got %d", i, want[i], ids[i])
		}
	}

	if AssignGridIDs(nil, 3) != nil {
		t.Error("nil mesh should yield nil ids")
	}
}
