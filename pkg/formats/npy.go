package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// NPY format errors.
var (
	ErrInvalidNPYMagic    = errors.New("invalid NPY magic: expected '\\x93NUMPY'")
	ErrInvalidNPYHeader   = errors.New("invalid NPY header")
	ErrUnsupportedNPYType = errors.New("unsupported NPY dtype")
	ErrTruncatedNPYData   = errors.New("truncated NPY data")
)

const npyMagic = "\x93NUMPY"

var (
	npyDescrRe   = regexp.MustCompile(`'descr':\s*'([<>|=]?)([a-zA-Z])(\d+)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// NPY is a decoded one-dimensional integer array, as stored by numpy.save.
// Multi-dimensional arrays are flattened in file order.
type NPY struct {
	Major        byte
	Minor        byte
	ByteOrder    binary.ByteOrder
	Kind         byte // 'i', 'u' or 'f'
	ItemSize     int
	FortranOrder bool
	Shape        []int
	Values       []int64
}

// Descr returns the dtype descriptor, e.g. "<i8".
func (n *NPY) Descr() string {
	order := "<"
	if n.ByteOrder == binary.BigEndian {
		order = ">"
	}
	if n.ItemSize == 1 {
		order = "|"
	}
	return fmt.Sprintf("%s%c%d", order, n.Kind, n.ItemSize)
}

// ParseNPY parses an NPY file from raw bytes.
func ParseNPY(data []byte) (*NPY, error) {
	if len(data) < 10 {
		return nil, ErrTruncatedNPYData
	}
	if string(data[0:6]) != npyMagic {
		return nil, ErrInvalidNPYMagic
	}

	n := &NPY{Major: data[6], Minor: data[7]}

	// v1 uses a uint16 header length, v2 and v3 a uint32.
	var headerLen, offset int
	switch n.Major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		offset = 10
	case 2, 3:
		if len(data) < 12 {
			return nil, ErrTruncatedNPYData
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		offset = 12
	default:
		return nil, fmt.Errorf("%w: version %d.%d", ErrInvalidNPYHeader, n.Major, n.Minor)
	}
	if offset+headerLen > len(data) {
		return nil, ErrTruncatedNPYData
	}
	header := string(data[offset : offset+headerLen])
	body := data[offset+headerLen:]

	if err := n.parseHeader(header); err != nil {
		return nil, err
	}

	count := len(body) / n.ItemSize
	if n.Shape != nil {
		var err error
		if count, err = n.elementCount(count); err != nil {
			return nil, err
		}
	}

	n.Values = make([]int64, count)
	for i := range n.Values {
		n.Values[i] = n.decode(body[i*n.ItemSize : (i+1)*n.ItemSize])
	}
	return n, nil
}

func (n *NPY) parseHeader(header string) error {
	m := npyDescrRe.FindStringSubmatch(header)
	if m == nil {
		return fmt.Errorf("%w: missing descr", ErrInvalidNPYHeader)
	}

	switch m[1] {
	case ">":
		n.ByteOrder = binary.BigEndian
	default: // '<', '|', '=' and none
		n.ByteOrder = binary.LittleEndian
	}

	n.Kind = m[2][0]
	size, _ := strconv.Atoi(m[3])
	n.ItemSize = size
	switch n.Kind {
	case 'i', 'u':
		if size != 1 && size != 2 && size != 4 && size != 8 {
			return fmt.Errorf("%w: %s", ErrUnsupportedNPYType, m[0])
		}
	case 'f':
		if size != 4 && size != 8 {
			return fmt.Errorf("%w: %s", ErrUnsupportedNPYType, m[0])
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedNPYType, m[0])
	}

	if f := npyFortranRe.FindStringSubmatch(header); f != nil {
		n.FortranOrder = f[1] == "True"
	}

	if s := npyShapeRe.FindStringSubmatch(header); s != nil {
		n.Shape = []int{}
		for _, part := range strings.Split(s[1], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			dim, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
			if err != nil || dim < 0 {
				return fmt.Errorf("%w: bad shape %q", ErrInvalidNPYHeader, s[1])
			}
			n.Shape = append(n.Shape, dim)
		}
	}
	return nil
}

func (n *NPY) decode(b []byte) int64 {
	order := n.ByteOrder
	switch n.Kind {
	case 'i':
		switch n.ItemSize {
		case 1:
			return int64(int8(b[0]))
		case 2:
			return int64(int16(order.Uint16(b)))
		case 4:
			return int64(int32(order.Uint32(b)))
		default:
			return int64(order.Uint64(b))
		}
	case 'u':
		switch n.ItemSize {
		case 1:
			return int64(b[0])
		case 2:
			return int64(order.Uint16(b))
		case 4:
			return int64(order.Uint32(b))
		default:
			return int64(order.Uint64(b))
		}
	default:
		var f float64
		if n.ItemSize == 4 {
			f = float64(math.Float32frombits(order.Uint32(b)))
		} else {
			f = math.Float64frombits(order.Uint64(b))
		}
		// Non-finite entries count as unassigned.
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return int64(f)
	}
}

// ParseNPYFile parses an NPY file from disk.
func ParseNPYFile(path string) (*NPY, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading NPY file: %w", err)
	}
	return ParseNPY(data)
}

// EncodeNPY writes ids as a one-dimensional little-endian int64 array
// (version 1.0). The header is padded so the data starts on a 64-byte
// boundary.
func EncodeNPY(ids []int64) []byte {
	header := fmt.Sprintf("{'descr': '<i8', 'fortran_order': False, 'shape': (%d,), }", len(ids))
	// magic(6) + version(2) + length(2) + header + '\n'
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	buf := new(bytes.Buffer)
	buf.Grow(10 + len(header) + 8*len(ids))
	buf.WriteString(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	binary.Write(buf, binary.LittleEndian, ids)
	return buf.Bytes()
}

// WriteNPYFile encodes ids and writes them to path.
func WriteNPYFile(path string, ids []int64) error {
	return os.WriteFile(path, EncodeNPY(ids), 0644)
}

// elementCount multiplies out the shape, failing as soon as the product
// exceeds the avail elements the body holds.
func (n *NPY) elementCount(avail int) (int, error) {
	if slices.Contains(n.Shape, 0) {
		return 0, nil
	}
	count := 1
	for _, dim := range n.Shape {
		if count > avail/dim {
			return 0, fmt.Errorf("%w: shape %v exceeds %d elements in body", ErrTruncatedNPYData, n.Shape, avail)
		}
		count *= dim
	}
	if count > avail {
		return 0, fmt.Errorf("%w: scalar needs %d bytes, have none", ErrTruncatedNPYData, n.ItemSize)
	}
	return count, nil
}
