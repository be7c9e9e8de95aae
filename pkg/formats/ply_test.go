package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

const asciiQuadPLY = `ply
format ascii 1.0
comment quad split into two triangles
element vertex 4
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
element face 1
property list uchar int vertex_indices
end_header
0 0 0 255 0 0
1 0 0 0 255 0
1 1 0 0 0 255
0 1 0 255 255 255
4 0 1 2 3
`

// createBinaryPLY builds a binary PLY with positions, normals and triangles.
func createBinaryPLY(order binary.ByteOrder, positions, normals [][3]float32, faces [][3]int32) []byte {
	buf := new(bytes.Buffer)
	format := "binary_little_endian"
	if order == binary.BigEndian {
		format = "binary_big_endian"
	}

	buf.WriteString("ply\n")
	buf.WriteString("format " + format + " 1.0\n")
	buf.WriteString("element vertex ")
	buf.WriteString(strconv.Itoa(len(positions)))
	buf.WriteString("\nproperty float x\nproperty float y\nproperty float z\n")
	buf.WriteString("property float nx\nproperty float ny\nproperty float nz\n")
	buf.WriteString("element face ")
	buf.WriteString(strconv.Itoa(len(faces)))
	buf.WriteString("\nproperty list uchar int vertex_index\n")
	buf.WriteString("end_header\n")

	for i := range positions {
		binary.Write(buf, order, positions[i])
		binary.Write(buf, order, normals[i])
	}
	for _, f := range faces {
		buf.WriteByte(3)
		binary.Write(buf, order, f)
	}
	return buf.Bytes()
}

func TestParsePLY_ASCII(t *testing.T) {
	ply, err := ParsePLY([]byte(asciiQuadPLY))
	if err != nil {
		t.Fatalf("ParsePLY failed: %v", err)
	}

	if ply.Format != PLYASCII {
		t.Errorf("expected ascii format, got %s", ply.Format)
	}
	if len(ply.Comments) != 1 || ply.Comments[0] != "quad split into two triangles" {
		t.Errorf("unexpected comments %q", ply.Comments)
	}
	if ply.VertexCount() != 4 {
		t.Fatalf("expected 4 vertices, got %d", ply.VertexCount())
	}
	if ply.Positions[2] != [3]float32{1, 1, 0} {
		t.Errorf("unexpected vertex 2 position %v", ply.Positions[2])
	}
	if ply.Normals != nil {
		t.Error("expected no normals")
	}

	// Colors are scaled into [0, 1]
	if ply.Colors == nil {
		t.Fatal("expected colors")
	}
	if ply.Colors[0] != [3]float32{1, 0, 0} || ply.Colors[3] != [3]float32{1, 1, 1} {
		t.Errorf("unexpected colors %v", ply.Colors)
	}

	// Quad is fanned around its first corner
	if ply.FaceCount() != 2 {
		t.Fatalf("expected 2 triangles, got %d", ply.FaceCount())
	}
	if ply.Faces[0] != [3]uint32{0, 1, 2} || ply.Faces[1] != [3]uint32{0, 2, 3} {
		t.Errorf("unexpected faces %v", ply.Faces)
	}
}

func TestParsePLY_Binary(t *testing.T) {
	positions := [][3]float32{{0, 0, 0}, {2, 0, 0}, {0, 3, 0}}
	normals := [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}}
	faces := [][3]int32{{0, 1, 2}}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			ply, err := ParsePLY(createBinaryPLY(order, positions, normals, faces))
			if err != nil {
				t.Fatalf("ParsePLY failed: %v", err)
			}
			if ply.VertexCount() != 3 {
				t.Fatalf("expected 3 vertices, got %d", ply.VertexCount())
			}
			if ply.Positions[1] != [3]float32{2, 0, 0} || ply.Positions[2] != [3]float32{0, 3, 0} {
				t.Errorf("unexpected positions %v", ply.Positions)
			}
			if ply.Normals == nil || ply.Normals[0] != [3]float32{0, 0, 1} {
				t.Errorf("unexpected normals %v", ply.Normals)
			}
			if ply.Colors != nil {
				t.Error("expected no colors")
			}
			if ply.FaceCount() != 1 || ply.Faces[0] != [3]uint32{0, 1, 2} {
				t.Errorf("unexpected faces %v", ply.Faces)
			}
		})
	}
}

func TestParsePLY_SkipsUnknownElements(t *testing.T) {
	data := `ply
format ascii 1.0
element vertex 3
property double x
property double y
property double z
property float confidence
element edge 1
property int vertex1
property int vertex2
element face 1
property list uchar uint vertex_indices
property uchar flags
end_header
0 0 0 0.5
1 0 0 0.5
0 1 0 0.5
0 1
3 0 1 2 7
`
	ply, err := ParsePLY([]byte(data))
	if err != nil {
		t.Fatalf("ParsePLY failed: %v", err)
	}
	if len(ply.Elements) != 3 {
		t.Errorf("expected 3 declared elements, got %d", len(ply.Elements))
	}
	if ply.FaceCount() != 1 || ply.Faces[0] != [3]uint32{0, 1, 2} {
		t.Errorf("unexpected faces %v", ply.Faces)
	}
}

func TestParsePLY_PointCloud(t *testing.T) {
	data := "ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n4 5 6\n"
	ply, err := ParsePLY([]byte(data))
	if err != nil {
		t.Fatalf("ParsePLY failed: %v", err)
	}
	if ply.VertexCount() != 2 || ply.FaceCount() != 0 {
		t.Errorf("expected 2 vertices and no faces, got %d/%d", ply.VertexCount(), ply.FaceCount())
	}
}

func TestParsePLY_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"bad magic", "plx\nformat ascii 1.0\nend_header\n", ErrInvalidPLYMagic},
		{"empty", "", ErrInvalidPLYMagic},
		{"unknown format", "ply\nformat binary_middle_endian 1.0\nend_header\n", ErrUnsupportedPLYFormat},
		{"unknown version", "ply\nformat ascii 2.0\nend_header\n", ErrUnsupportedPLYFormat},
		{"missing format", "ply\nelement vertex 0\nend_header\n", ErrInvalidPLYHeader},
		{"missing end_header", "ply\nformat ascii 1.0\nelement vertex 1\n", ErrInvalidPLYHeader},
		{"property before element", "ply\nformat ascii 1.0\nproperty float x\nend_header\n", ErrInvalidPLYHeader},
		{"unknown type", "ply\nformat ascii 1.0\nelement vertex 1\nproperty quad x\nend_header\n", ErrInvalidPLYHeader},
		{"missing xyz", "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nend_header\n1\n", ErrInvalidPLYHeader},
		{"truncated body", "ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n", ErrTruncatedPLYData},
		{"bad value", "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 two 3\n", ErrInvalidPLYData},
		{"negative index", "ply\nformat ascii 1.0\nelement face 1\nproperty list uchar int vertex_indices\nend_header\n3 0 -1 2\n", ErrInvalidPLYData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePLY([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParsePLY_TruncatedBinary(t *testing.T) {
	data := createBinaryPLY(binary.LittleEndian,
		[][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		[][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		[][3]int32{{0, 1, 2}})

	_, err := ParsePLY(data[:len(data)-4])
	if !errors.Is(err, ErrTruncatedPLYData) {
		t.Errorf("expected ErrTruncatedPLYData, got %v", err)
	}
}

func TestParsePLY_HugeElementCount(t *testing.T) {
	tests := []struct {
		name   string
		format string
		body   string
	}{
		{"ascii", "ascii", "1 2 3\n"},
		{"binary", "binary_little_endian", "\x00\x00\x80\x3f\x00\x00\x00\x40\x00\x00\x40\x40"},
		{"binary big endian", "binary_big_endian", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := "ply\nformat " + tt.format + " 1.0\nelement vertex 100000000000000\n" +
				"property float x\nproperty float y\nproperty float z\nend_header\n" + tt.body
			_, err := ParsePLY([]byte(data))
			if !errors.Is(err, ErrTruncatedPLYData) {
				t.Errorf("expected ErrTruncatedPLYData, got %v", err)
			}
		})
	}
}

func TestParsePLY_HugeFaceCountAfterVertices(t *testing.T) {
	data := createBinaryPLY(binary.LittleEndian,
		[][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		[][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		[][3]int32{{0, 1, 2}})
	data = bytes.Replace(data, []byte("element face 1\n"), []byte("element face 9223372036854775807\n"), 1)

	_, err := ParsePLY(data)
	if !errors.Is(err, ErrTruncatedPLYData) {
		t.Errorf("expected ErrTruncatedPLYData, got %v", err)
	}
}

func TestParsePLY_ASCIIBlankLinesAndAliases(t *testing.T) {
	data := "ply\nformat ascii 1.0\nobj_info scanner v2\nelement vertex 3\n" +
		"property float32 x\nproperty float32 y\nproperty float32 z\n" +
		"property uint8 red\nproperty uint8 green\nproperty uint8 blue\n" +
		"element face 1\nproperty list uint8 int32 vertex_indices\nend_header\n" +
		"\n0 0 0 255 0 0\r\n1 0 0 0 255 0\n\n0 1 0 0 0 255\n3 0 1 2\n\ntrailing junk\n"

	ply, err := ParsePLY([]byte(data))
	if err != nil {
		t.Fatalf("ParsePLY failed: %v", err)
	}
	if ply.VertexCount() != 3 || ply.FaceCount() != 1 {
		t.Fatalf("expected 3 vertices and 1 face, got %d/%d", ply.VertexCount(), ply.FaceCount())
	}
	if ply.Colors[1] != [3]float32{0, 1, 0} {
		t.Errorf("expected green second vertex, got %v", ply.Colors[1])
	}
	if len(ply.Comments) != 1 || ply.Comments[0] != "scanner v2" {
		t.Errorf("unexpected comments %q", ply.Comments)
	}
}

func TestParsePLY_ASCIIShortRow(t *testing.T) {
	data := "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 2\n"
	_, err := ParsePLY([]byte(data))
	if !errors.Is(err, ErrInvalidPLYData) {
		t.Errorf("expected ErrInvalidPLYData, got %v", err)
	}
}

func TestParsePLYFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quad.ply")
	if err := os.WriteFile(path, []byte(asciiQuadPLY), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ply, err := ParsePLYFile(path)
	if err != nil {
		t.Fatalf("ParsePLYFile failed: %v", err)
	}
	if ply.VertexCount() != 4 {
		t.Errorf("expected 4 vertices, got %d", ply.VertexCount())
	}
}
