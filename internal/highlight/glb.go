package highlight

import (
	"errors"
	"io"

	"github.com/chewxy/math32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// ErrEmpty is returned when exporting an overlay with no triangles.
var ErrEmpty = errors.New("highlight mesh is empty")

// Document converts the overlay into a single-mesh glTF document. The node
// carries the display offset as its translation.
func (h *Mesh) Document() (*gltf.Document, error) {
	if h.TriangleCount() == 0 {
		return nil, ErrEmpty
	}

	doc := gltf.NewDocument()
	position := modeler.WritePosition(doc, h.Positions)
	normal := modeler.WriteNormal(doc, h.Normals)
	color := modeler.WriteColor(doc, rgba8(h.Colors))

	indices := make([]uint32, 0, len(h.Triangles)*3)
	for _, tri := range h.Triangles {
		indices = append(indices, tri[0], tri[1], tri[2])
	}
	index := modeler.WriteIndices(doc, indices)

	doc.Meshes = []*gltf.Mesh{{
		Name: "highlight",
		Primitives: []*gltf.Primitive{{
			Indices: gltf.Index(index),
			Attributes: map[string]int{
				gltf.POSITION: position,
				gltf.NORMAL:   normal,
				gltf.COLOR_0:  color,
			},
		}},
	}}
	doc.Nodes = []*gltf.Node{{
		Name:        "highlight",
		Mesh:        gltf.Index(0),
		Translation: [3]float64{float64(h.Offset.X), float64(h.Offset.Y), float64(h.Offset.Z)},
	}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)
	return doc, nil
}

// WriteGLB encodes the overlay as binary glTF.
func (h *Mesh) WriteGLB(w io.Writer) error {
	doc, err := h.Document()
	if err != nil {
		return err
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	return enc.Encode(doc)
}

func rgba8(colors [][3]float32) [][4]uint8 {
	out := make([][4]uint8, len(colors))
	for i, c := range colors {
		out[i] = [4]uint8{channel8(c[0]), channel8(c[1]), channel8(c[2]), 255}
	}
	return out
}

func channel8(v float32) uint8 {
	return uint8(math32.Round(math32.Min(math32.Max(v, 0), 1) * 255))
}
