package highlight

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/qmuntal/gltf"

	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/mesh"
	"github.com/Faultbox/scenetag/internal/selection"
)

// strip builds three triangles along X. Vertices 0-1 belong to instance 1,
// 2-3 to instance 2, 4 to instance 3.
//
//	0---2---4
//	| \ | \ |
//	1---3---5
func strip(t *testing.T, colors bool) (*mesh.Mesh, *instance.Index) {
	t.Helper()
	raw := &mesh.Raw{
		Positions: [][3]float32{{0, 1, 0}, {0, 0, 0}, {1, 1, 0}, {1, 0, 0}, {2, 1, 0}, {2, 0, 0}},
		Triangles: [][3]uint32{{0, 1, 3}, {0, 3, 2}, {2, 3, 5}, {2, 5, 4}},
	}
	if colors {
		raw.Colors = [][3]float32{{1, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 1, 0}, {0, 0, 1}, {0, 0, 1}}
	}
	m, err := mesh.Load("strip.ply", raw)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return m, instance.NewIndex([]instance.ID{1, 1, 2, 2, 3, 3}, 6)
}

func TestColorFor_Deterministic(t *testing.T) {
	for _, id := range []instance.ID{0, 1, 2, 17, 1000, -4} {
		a, b := ColorFor(id), ColorFor(id)
		if a != b {
			t.Errorf("ColorFor(%d) not deterministic: %v vs %v", id, a, b)
		}
		for _, c := range a {
			if c < 0 || c > 1 {
				t.Errorf("ColorFor(%d) out of range: %v", id, a)
			}
		}
	}
}

func TestColorFor_KnownValues(t *testing.T) {
	// id 0: hue 0 is red at s=0.75, l=0.6
	red := ColorFor(0)
	want := [3]float32{0.9, 0.3, 0.3}
	for i := range want {
		if math32.Abs(red[i]-want[i]) > 1e-4 {
			t.Errorf("ColorFor(0) = %v, want %v", red, want)
			break
		}
	}

	// Consecutive ids get different hues
	if ColorFor(1) == ColorFor(2) {
		t.Error("expected distinct colors for ids 1 and 2")
	}
}

func TestRebuild_NilCases(t *testing.T) {
	m, idx := strip(t, false)

	if Rebuild(nil, idx, selection.New(1)) != nil {
		t.Error("expected nil without mesh")
	}
	if Rebuild(m, nil, selection.New(1)) != nil {
		t.Error("expected nil without index")
	}
	if Rebuild(m, idx, selection.New()) != nil {
		t.Error("expected nil for empty selection")
	}
}

func TestRebuild_InclusionRule(t *testing.T) {
	m, idx := strip(t, false)
	sel := selection.New(3)

	h := Rebuild(m, idx, sel)
	if h == nil {
		t.Fatal("expected overlay")
	}

	// Every triangle with a selected corner is included, others are not
	for ti, tri := range m.Triangles {
		want := idx.MembersOfAny(sel, tri)
		got := containsTriangle(h, tri)
		if got != want {
			t.Errorf("triangle %d: included=%v, want %v", ti, got, want)
		}
	}
	if h.TriangleCount() != 2 {
		t.Errorf("expected 2 triangles touching instance 3, got %d", h.TriangleCount())
	}
}

func TestRebuild_DedupesAndPreservesOrder(t *testing.T) {
	m, idx := strip(t, false)

	h := Rebuild(m, idx, selection.New(1))
	if h.TriangleCount() != 2 {
		t.Fatalf("expected 2 triangles, got %d", h.TriangleCount())
	}
	// Four distinct source vertices 0, 1, 3, 2 in first-use order
	wantSource := []uint32{0, 1, 3, 2}
	if len(h.Source) != len(wantSource) {
		t.Fatalf("expected %d vertices, got %d", len(wantSource), len(h.Source))
	}
	for i := range wantSource {
		if h.Source[i] != wantSource[i] {
			t.Errorf("vertex %d: expected source %d, got %d", i, wantSource[i], h.Source[i])
		}
	}
	if h.Triangles[0] != [3]uint32{0, 1, 2} || h.Triangles[1] != [3]uint32{0, 2, 3} {
		t.Errorf("unexpected triangles %v", h.Triangles)
	}
	if h.Offset != m.Offset {
		t.Errorf("expected offset %v, got %v", m.Offset, h.Offset)
	}
}

func TestRebuild_Colors(t *testing.T) {
	t.Run("gray fallback", func(t *testing.T) {
		m, idx := strip(t, false)
		h := Rebuild(m, idx, selection.New(2))

		for i, src := range h.Source {
			id, _ := idx.Lookup(int(src))
			want := Gray
			if id == 2 {
				want = ColorFor(2)
			}
			if h.Colors[i] != want {
				t.Errorf("vertex %d (source %d, id %d): expected %v, got %v", i, src, id, want, h.Colors[i])
			}
		}
	})

	t.Run("source colors", func(t *testing.T) {
		m, idx := strip(t, true)
		h := Rebuild(m, idx, selection.New(1))

		for i, src := range h.Source {
			id, _ := idx.Lookup(int(src))
			want := m.Colors[src]
			if id == 1 {
				want = ColorFor(1)
			}
			if h.Colors[i] != want {
				t.Errorf("vertex %d (source %d): expected %v, got %v", i, src, want, h.Colors[i])
			}
		}
	})
}

func TestRebuild_RecomputesNormals(t *testing.T) {
	m, idx := strip(t, false)
	h := Rebuild(m, idx, selection.New(1, 2, 3))

	if len(h.Normals) != h.VertexCount() {
		t.Fatalf("expected %d normals, got %d", h.VertexCount(), len(h.Normals))
	}
	for i, n := range h.Normals {
		if math32.Abs(n[2]-1) > 1e-5 && math32.Abs(n[2]+1) > 1e-5 {
			t.Errorf("normal %d should be along Z for a flat strip, got %v", i, n)
		}
	}
}

func TestRebuild_ShortMask(t *testing.T) {
	m, _ := strip(t, false)
	idx := instance.NewIndex([]instance.ID{1, 1}, 6)

	h := Rebuild(m, idx, selection.New(1))
	if h.TriangleCount() != 2 {
		t.Errorf("expected the 2 triangles touching vertices 0-1, got %d", h.TriangleCount())
	}
}

func TestWriteGLB(t *testing.T) {
	m, idx := strip(t, true)
	h := Rebuild(m, idx, selection.New(2))

	var buf bytes.Buffer
	if err := h.WriteGLB(&buf); err != nil {
		t.Fatalf("WriteGLB failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("glTF")) {
		t.Fatalf("expected GLB magic, got %q", buf.Bytes()[:4])
	}

	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(buf.Bytes())).Decode(doc); err != nil {
		t.Fatalf("decode GLB: %v", err)
	}
	if len(doc.Meshes) != 1 || len(doc.Meshes[0].Primitives) != 1 {
		t.Fatalf("expected one mesh with one primitive, got %d meshes", len(doc.Meshes))
	}
	prim := doc.Meshes[0].Primitives[0]
	for _, attr := range []string{gltf.POSITION, gltf.NORMAL, gltf.COLOR_0} {
		if _, ok := prim.Attributes[attr]; !ok {
			t.Errorf("missing attribute %s", attr)
		}
	}
	pos := doc.Accessors[prim.Attributes[gltf.POSITION]]
	if int(pos.Count) != h.VertexCount() {
		t.Errorf("expected %d positions, got %d", h.VertexCount(), pos.Count)
	}
	if prim.Indices == nil || int(doc.Accessors[*prim.Indices].Count) != h.TriangleCount()*3 {
		t.Error("unexpected index accessor")
	}
}

func TestWriteGLB_Empty(t *testing.T) {
	var h *Mesh
	if err := h.WriteGLB(&bytes.Buffer{}); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func containsTriangle(h *Mesh, tri [3]uint32) bool {
	for _, ht := range h.Triangles {
		if h.Source[ht[0]] == tri[0] && h.Source[ht[1]] == tri[1] && h.Source[ht[2]] == tri[2] {
			return true
		}
	}
	return false
}
