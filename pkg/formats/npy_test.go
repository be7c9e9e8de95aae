package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// createTestNPY builds an NPY v1.0 file with the given descr and raw body.
func createTestNPY(descr, shape string, body []byte) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(1)
	buf.WriteByte(0)

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }\n", descr, shape)
	binary.Write(buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(body)
	return buf.Bytes()
}

func encodeValues(order binary.ByteOrder, values any) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, order, values)
	return buf.Bytes()
}

func TestParseNPY_IntTypes(t *testing.T) {
	tests := []struct {
		name  string
		descr string
		body  []byte
		want  []int64
	}{
		{"int64 LE", "<i8", encodeValues(binary.LittleEndian, []int64{0, 1, 2, 40}), []int64{0, 1, 2, 40}},
		{"int32 BE", ">i4", encodeValues(binary.BigEndian, []int32{7, -1, 3}), []int64{7, -1, 3}},
		{"uint8", "|u1", []byte{0, 5, 255}, []int64{0, 5, 255}},
		{"int16 LE", "<i2", encodeValues(binary.LittleEndian, []int16{300, -2}), []int64{300, -2}},
		{"uint32 LE", "<u4", encodeValues(binary.LittleEndian, []uint32{1, 4000000000}), []int64{1, 4000000000}},
		{"float32 LE", "<f4", encodeValues(binary.LittleEndian, []float32{1.0, 2.9, 0}), []int64{1, 2, 0}},
		{"float64 BE", ">f8", encodeValues(binary.BigEndian, []float64{12, 3}), []int64{12, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape := fmt.Sprintf("(%d,)", len(tt.want))
			npy, err := ParseNPY(createTestNPY(tt.descr, shape, tt.body))
			if err != nil {
				t.Fatalf("ParseNPY failed: %v", err)
			}
			if len(npy.Values) != len(tt.want) {
				t.Fatalf("expected %d values, got %d", len(tt.want), len(npy.Values))
			}
			for i := range tt.want {
				if npy.Values[i] != tt.want[i] {
					t.Errorf("value %d: expected %d, got %d", i, tt.want[i], npy.Values[i])
				}
			}
		})
	}
}

func TestParseNPY_Header(t *testing.T) {
	body := encodeValues(binary.LittleEndian, []int64{1, 2, 3, 4, 5, 6})
	npy, err := ParseNPY(createTestNPY("<i8", "(2, 3)", body))
	if err != nil {
		t.Fatalf("ParseNPY failed: %v", err)
	}

	if npy.Major != 1 || npy.Minor != 0 {
		t.Errorf("expected version 1.0, got %d.%d", npy.Major, npy.Minor)
	}
	if npy.Descr() != "<i8" {
		t.Errorf("expected descr <i8, got %s", npy.Descr())
	}
	if len(npy.Shape) != 2 || npy.Shape[0] != 2 || npy.Shape[1] != 3 {
		t.Errorf("expected shape [2 3], got %v", npy.Shape)
	}
	if npy.FortranOrder {
		t.Error("expected C order")
	}
	if len(npy.Values) != 6 {
		t.Errorf("expected 6 flattened values, got %d", len(npy.Values))
	}
}

func TestParseNPY_Version2(t *testing.T) {
	header := "{'descr': '<i4', 'fortran_order': False, 'shape': (2,), }\n"
	buf := new(bytes.Buffer)
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(2)
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, uint32(len(header)))
	buf.WriteString(header)
	binary.Write(buf, binary.LittleEndian, []int32{9, 10})

	npy, err := ParseNPY(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseNPY failed: %v", err)
	}
	if len(npy.Values) != 2 || npy.Values[0] != 9 || npy.Values[1] != 10 {
		t.Errorf("expected [9 10], got %v", npy.Values)
	}
}

func TestParseNPY_NonFiniteFloats(t *testing.T) {
	body := encodeValues(binary.LittleEndian, []float64{math.NaN(), math.Inf(1), 4})
	npy, err := ParseNPY(createTestNPY("<f8", "(3,)", body))
	if err != nil {
		t.Fatalf("ParseNPY failed: %v", err)
	}
	want := []int64{0, 0, 4}
	for i := range want {
		if npy.Values[i] != want[i] {
			t.Errorf("value %d: expected %d, got %d", i, want[i], npy.Values[i])
		}
	}
}

func TestParseNPY_InvalidMagic(t *testing.T) {
	data := createTestNPY("<i8", "(0,)", nil)
	copy(data, "XNUMPY")

	_, err := ParseNPY(data)
	if !errors.Is(err, ErrInvalidNPYMagic) {
		t.Errorf("expected ErrInvalidNPYMagic, got %v", err)
	}
}

func TestParseNPY_TruncatedData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"magic only", []byte("\x93NUMPY")},
		{"header cut", createTestNPY("<i8", "(1,)", nil)[:20]},
		{"body short", createTestNPY("<i8", "(4,)", encodeValues(binary.LittleEndian, []int64{1, 2}))},
		{"huge shape", createTestNPY("<i8", "(2305843009213693952,)", encodeValues(binary.LittleEndian, []int64{1}))},
		{"overflowing shape", createTestNPY("<i8", "(4294967296, 4294967296, 4294967296)", encodeValues(binary.LittleEndian, []int64{1}))},
		{"scalar without body", createTestNPY("<i4", "()", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNPY(tt.data)
			if !errors.Is(err, ErrTruncatedNPYData) {
				t.Errorf("expected ErrTruncatedNPYData, got %v", err)
			}
		})
	}
}

func TestParseNPY_ZeroDimension(t *testing.T) {
	npy, err := ParseNPY(createTestNPY("<i8", "(9223372036854775807, 0)", nil))
	if err != nil {
		t.Fatalf("ParseNPY failed: %v", err)
	}
	if len(npy.Values) != 0 {
		t.Errorf("expected no values, got %d", len(npy.Values))
	}
}

func TestParseNPY_UnsupportedType(t *testing.T) {
	for _, descr := range []string{"<c16", "<f2", "|b1", "<i3"} {
		t.Run(descr, func(t *testing.T) {
			_, err := ParseNPY(createTestNPY(descr, "(0,)", nil))
			if !errors.Is(err, ErrUnsupportedNPYType) {
				t.Errorf("expected ErrUnsupportedNPYType, got %v", err)
			}
		})
	}
}

func TestParseNPY_MissingDescr(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(1)
	buf.WriteByte(0)
	header := "{'shape': (1,), }\n"
	binary.Write(buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)

	_, err := ParseNPY(buf.Bytes())
	if !errors.Is(err, ErrInvalidNPYHeader) {
		t.Errorf("expected ErrInvalidNPYHeader, got %v", err)
	}
}

func TestEncodeNPY(t *testing.T) {
	ids := []int64{0, 3, 3, 17, 0}
	data := EncodeNPY(ids)

	headerLen := int(binary.LittleEndian.Uint16(data[8:10]))
	if (10+headerLen)%64 != 0 {
		t.Errorf("expected data offset aligned to 64, got %d", 10+headerLen)
	}
	if data[10+headerLen-1] != '\n' {
		t.Error("expected header to end with newline")
	}

	npy, err := ParseNPY(data)
	if err != nil {
		t.Fatalf("ParseNPY of encoded data failed: %v", err)
	}
	if npy.Descr() != "<i8" {
		t.Errorf("expected descr <i8, got %s", npy.Descr())
	}
	if len(npy.Values) != len(ids) {
		t.Fatalf("expected %d values, got %d", len(ids), len(npy.Values))
	}
	for i := range ids {
		if npy.Values[i] != ids[i] {
			t.Errorf("value %d: expected %d, got %d", i, ids[i], npy.Values[i])
		}
	}
}

func TestWriteNPYFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.npy")
	if err := WriteNPYFile(path, []int64{5, 6}); err != nil {
		t.Fatalf("WriteNPYFile failed: %v", err)
	}

	npy, err := ParseNPYFile(path)
	if err != nil {
		t.Fatalf("ParseNPYFile failed: %v", err)
	}
	if len(npy.Values) != 2 || npy.Values[1] != 6 {
		t.Errorf("unexpected values %v", npy.Values)
	}

	if _, err := ParseNPYFile(filepath.Join(t.TempDir(), "missing.npy")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
