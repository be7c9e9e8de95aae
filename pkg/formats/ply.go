package formats

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
)

// PLY format errors.
var (
	ErrInvalidPLYMagic      = errors.New("invalid PLY magic: expected 'ply'")
	ErrUnsupportedPLYFormat = errors.New("unsupported PLY format")
	ErrInvalidPLYHeader     = errors.New("invalid PLY header")
	ErrTruncatedPLYData     = errors.New("truncated PLY data")
	ErrInvalidPLYData       = errors.New("invalid PLY data")
)

// PLYFormat is the body encoding declared in the header.
type PLYFormat int

const (
	PLYASCII PLYFormat = iota
	PLYBinaryLittleEndian
	PLYBinaryBigEndian
)

// String returns the header keyword for the format.
func (f PLYFormat) String() string {
	switch f {
	case PLYASCII:
		return "ascii"
	case PLYBinaryLittleEndian:
		return "binary_little_endian"
	case PLYBinaryBigEndian:
		return "binary_big_endian"
	default:
		return fmt.Sprintf("PLYFormat(%d)", int(f))
	}
}

// plyType is a scalar property type.
type plyType struct {
	name  string // Canonical header keyword
	size  int
	float bool
	sign  bool
	max   float64 // Used to scale integer colors into [0, 1]
}

var (
	plyChar   = plyType{"char", 1, false, true, math.MaxInt8}
	plyUChar  = plyType{"uchar", 1, false, false, math.MaxUint8}
	plyShort  = plyType{"short", 2, false, true, math.MaxInt16}
	plyUShort = plyType{"ushort", 2, false, false, math.MaxUint16}
	plyInt    = plyType{"int", 4, false, true, math.MaxInt32}
	plyUInt   = plyType{"uint", 4, false, false, math.MaxUint32}
	plyFloat  = plyType{"float", 4, true, true, 1}
	plyDouble = plyType{"double", 8, true, true, 1}
)

var plyTypes = map[string]plyType{
	"char":    plyChar,
	"int8":    plyChar,
	"uchar":   plyUChar,
	"uint8":   plyUChar,
	"short":   plyShort,
	"int16":   plyShort,
	"ushort":  plyUShort,
	"uint16":  plyUShort,
	"int":     plyInt,
	"int32":   plyInt,
	"uint":    plyUInt,
	"uint32":  plyUInt,
	"float":   plyFloat,
	"float32": plyFloat,
	"double":  plyDouble,
	"float64": plyDouble,
}

// PLYProperty describes one property of an element.
type PLYProperty struct {
	Name      string
	Type      string
	List      bool
	CountType string // Only set for list properties

	typ      plyType
	countTyp plyType
}

// PLYElement describes one element block declared in the header.
type PLYElement struct {
	Name       string
	Count      int
	Properties []PLYProperty
}

func (e *PLYElement) index(names ...string) int {
	for _, name := range names {
		for i, p := range e.Properties {
			if p.Name == name {
				return i
			}
		}
	}
	return -1
}

// minRowSize is the smallest number of binary bytes one instance of the
// element can take: every list is assumed empty.
func (e *PLYElement) minRowSize() int {
	size := 0
	for _, p := range e.Properties {
		if p.List {
			size += p.countTyp.size
		} else {
			size += p.typ.size
		}
	}
	return max(size, 1)
}

// PLY is a decoded triangle mesh. Normals and Colors are nil when the file
// carries no such vertex properties.
type PLY struct {
	Format    PLYFormat
	Comments  []string
	Elements  []PLYElement
	Positions [][3]float32
	Normals   [][3]float32
	Colors    [][3]float32 // RGB in [0, 1]
	Faces     [][3]uint32
}

// VertexCount returns the number of decoded vertices.
func (p *PLY) VertexCount() int {
	return len(p.Positions)
}

// FaceCount returns the number of triangles after fan triangulation.
func (p *PLY) FaceCount() int {
	return len(p.Faces)
}

// ParsePLY parses a PLY file from raw bytes. ASCII bodies are decoded by
// goply; binary bodies are read directly. Element counts are checked against
// the size of the body before anything is allocated.
func ParsePLY(data []byte) (*PLY, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	ply := &PLY{}
	if err := ply.readHeader(r); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if ply.Format == PLYASCII {
		err = ply.decodeASCII(body)
	} else {
		order := binary.ByteOrder(binary.LittleEndian)
		if ply.Format == PLYBinaryBigEndian {
			order = binary.BigEndian
		}
		err = ply.decodeBinary(body, order)
	}
	if err != nil {
		return nil, err
	}
	return ply, nil
}

// ParsePLYFile parses a PLY file from disk.
func ParsePLYFile(path string) (*PLY, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading PLY file: %w", err)
	}
	return ParsePLY(data)
}

func (p *PLY) readHeader(r *bufio.Reader) error {
	magic, err := r.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "ply" {
		return ErrInvalidPLYMagic
	}

	sawFormat := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: missing end_header", ErrInvalidPLYHeader)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "format":
			if len(fields) != 3 {
				return fmt.Errorf("%w: %q", ErrInvalidPLYHeader, strings.TrimSpace(line))
			}
			switch fields[1] {
			case "ascii":
				p.Format = PLYASCII
			case "binary_little_endian":
				p.Format = PLYBinaryLittleEndian
			case "binary_big_endian":
				p.Format = PLYBinaryBigEndian
			default:
				return fmt.Errorf("%w: %s", ErrUnsupportedPLYFormat, fields[1])
			}
			if fields[2] != "1.0" {
				return fmt.Errorf("%w: version %s", ErrUnsupportedPLYFormat, fields[2])
			}
			sawFormat = true

		case "comment", "obj_info":
			p.Comments = append(p.Comments, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0])))

		case "element":
			if len(fields) != 3 {
				return fmt.Errorf("%w: %q", ErrInvalidPLYHeader, strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return fmt.Errorf("%w: bad element count %q", ErrInvalidPLYHeader, fields[2])
			}
			p.Elements = append(p.Elements, PLYElement{Name: fields[1], Count: count})

		case "property":
			if len(p.Elements) == 0 {
				return fmt.Errorf("%w: property before element", ErrInvalidPLYHeader)
			}
			prop, err := parsePLYProperty(fields)
			if err != nil {
				return err
			}
			el := &p.Elements[len(p.Elements)-1]
			el.Properties = append(el.Properties, prop)

		case "end_header":
			if !sawFormat {
				return fmt.Errorf("%w: missing format line", ErrInvalidPLYHeader)
			}
			return nil

		default:
			return fmt.Errorf("%w: unknown keyword %q", ErrInvalidPLYHeader, fields[0])
		}
	}
}

func parsePLYProperty(fields []string) (PLYProperty, error) {
	if len(fields) >= 5 && fields[1] == "list" {
		countTyp, ok1 := plyTypes[fields[2]]
		typ, ok2 := plyTypes[fields[3]]
		if !ok1 || !ok2 || countTyp.float {
			return PLYProperty{}, fmt.Errorf("%w: bad list property %v", ErrInvalidPLYHeader, fields[1:])
		}
		return PLYProperty{
			Name:      fields[4],
			Type:      fields[3],
			List:      true,
			CountType: fields[2],
			typ:       typ,
			countTyp:  countTyp,
		}, nil
	}
	if len(fields) != 3 {
		return PLYProperty{}, fmt.Errorf("%w: bad property %v", ErrInvalidPLYHeader, fields[1:])
	}
	typ, ok := plyTypes[fields[1]]
	if !ok {
		return PLYProperty{}, fmt.Errorf("%w: unknown type %s", ErrInvalidPLYHeader, fields[1])
	}
	return PLYProperty{Name: fields[2], Type: fields[1], typ: typ}, nil
}

// plyBinaryBody reads scalar values from a binary body in declaration order.
type plyBinaryBody struct {
	r     io.Reader
	order binary.ByteOrder
	buf   [8]byte
}

func (b *plyBinaryBody) next(t plyType) (float64, error) {
	buf := b.buf[:t.size]
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return 0, ErrTruncatedPLYData
	}
	switch {
	case t.float && t.size == 4:
		return float64(math.Float32frombits(b.order.Uint32(buf))), nil
	case t.float:
		return math.Float64frombits(b.order.Uint64(buf)), nil
	case t.size == 1 && t.sign:
		return float64(int8(buf[0])), nil
	case t.size == 1:
		return float64(buf[0]), nil
	case t.size == 2 && t.sign:
		return float64(int16(b.order.Uint16(buf))), nil
	case t.size == 2:
		return float64(b.order.Uint16(buf)), nil
	case t.sign:
		return float64(int32(b.order.Uint32(buf))), nil
	default:
		return float64(b.order.Uint32(buf)), nil
	}
}

// readRow reads one element instance. List properties are returned in lists,
// keyed by property index.
func readRow(el *PLYElement, body *plyBinaryBody, row []float64, lists map[int][]float64) error {
	for i, prop := range el.Properties {
		if !prop.List {
			v, err := body.next(prop.typ)
			if err != nil {
				return err
			}
			row[i] = v
			continue
		}
		n, err := body.next(prop.countTyp)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: negative list length", ErrInvalidPLYData)
		}
		items := lists[i][:0]
		for j := 0; j < int(n); j++ {
			v, err := body.next(prop.typ)
			if err != nil {
				return err
			}
			items = append(items, v)
		}
		lists[i] = items
	}
	return nil
}

// rowSink consumes decoded element instances in order.
type rowSink func(i int, row []float64, lists map[int][]float64) error

// sink validates el and returns the consumer for its rows, or nil when the
// element is skipped. It allocates from el.Count, so counts must already be
// bounded by the body size.
func (p *PLY) sink(el *PLYElement) (rowSink, error) {
	switch el.Name {
	case "vertex":
		return p.vertexSink(el)
	case "face":
		return p.faceSink(el)
	default:
		return nil, nil
	}
}

func (p *PLY) vertexSink(el *PLYElement) (rowSink, error) {
	x, y, z := el.index("x"), el.index("y"), el.index("z")
	if x < 0 || y < 0 || z < 0 {
		return nil, fmt.Errorf("%w: vertex element lacks x/y/z", ErrInvalidPLYHeader)
	}
	nx, ny, nz := el.index("nx"), el.index("ny"), el.index("nz")
	hasNormals := nx >= 0 && ny >= 0 && nz >= 0
	r, g, b := el.index("red", "r", "diffuse_red"), el.index("green", "g", "diffuse_green"), el.index("blue", "b", "diffuse_blue")
	hasColors := r >= 0 && g >= 0 && b >= 0

	p.Positions = make([][3]float32, el.Count)
	if hasNormals {
		p.Normals = make([][3]float32, el.Count)
	}
	if hasColors {
		p.Colors = make([][3]float32, el.Count)
	}

	return func(i int, row []float64, _ map[int][]float64) error {
		p.Positions[i] = [3]float32{float32(row[x]), float32(row[y]), float32(row[z])}
		if hasNormals {
			p.Normals[i] = [3]float32{float32(row[nx]), float32(row[ny]), float32(row[nz])}
		}
		if hasColors {
			p.Colors[i] = [3]float32{
				colorChannel(row[r], el.Properties[r].typ),
				colorChannel(row[g], el.Properties[g].typ),
				colorChannel(row[b], el.Properties[b].typ),
			}
		}
		return nil
	}, nil
}

func colorChannel(v float64, t plyType) float32 {
	if t.float {
		return float32(v)
	}
	return float32(v / t.max)
}

func (p *PLY) faceSink(el *PLYElement) (rowSink, error) {
	idx := el.index("vertex_indices", "vertex_index")
	if idx < 0 || !el.Properties[idx].List {
		return nil, fmt.Errorf("%w: face element lacks vertex_indices", ErrInvalidPLYHeader)
	}

	p.Faces = make([][3]uint32, 0, el.Count)
	return func(_ int, _ []float64, lists map[int][]float64) error {
		poly := lists[idx]
		for _, v := range poly {
			if v < 0 || v > math.MaxUint32 {
				return fmt.Errorf("%w: vertex index %v", ErrInvalidPLYData, v)
			}
		}
		// Polygons are split into a triangle fan around their first corner.
		for k := 1; k+1 < len(poly); k++ {
			p.Faces = append(p.Faces, [3]uint32{uint32(poly[0]), uint32(poly[k]), uint32(poly[k+1])})
		}
		return nil
	}, nil
}

func (p *PLY) sinks() ([]rowSink, error) {
	sinks := make([]rowSink, len(p.Elements))
	for i := range p.Elements {
		s, err := p.sink(&p.Elements[i])
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return sinks, nil
}

func (p *PLY) decodeBinary(body []byte, order binary.ByteOrder) error {
	remaining := len(body)
	for _, el := range p.Elements {
		row := el.minRowSize()
		if el.Count > remaining/row {
			return fmt.Errorf("%w: %d %s elements do not fit in %d bytes",
				ErrTruncatedPLYData, el.Count, el.Name, remaining)
		}
		remaining -= el.Count * row
	}

	sinks, err := p.sinks()
	if err != nil {
		return err
	}

	r := &plyBinaryBody{r: bytes.NewReader(body), order: order}
	for i := range p.Elements {
		el := &p.Elements[i]
		row := make([]float64, len(el.Properties))
		lists := map[int][]float64{}
		for j := 0; j < el.Count; j++ {
			if err := readRow(el, r, row, lists); err != nil {
				return fmt.Errorf("reading %s element: %w", el.Name, err)
			}
			if sinks[i] == nil {
				continue
			}
			if err := sinks[i](j, row, lists); err != nil {
				return fmt.Errorf("reading %s element: %w", el.Name, err)
			}
		}
	}
	return nil
}

// decodeASCII hands the body to goply under a canonical header. goply reads
// one element instance per line and sizes its tables from the header, so the
// counts are first checked against the number of body lines.
func (p *PLY) decodeASCII(body []byte) error {
	total := 0
	for _, el := range p.Elements {
		if el.Count > len(body)-total {
			return fmt.Errorf("%w: %d %s elements do not fit in %d bytes",
				ErrTruncatedPLYData, el.Count, el.Name, len(body))
		}
		total += el.Count
	}

	var src bytes.Buffer
	p.writeCanonicalHeader(&src)
	lines := 0
	for rest := body; lines < total && len(rest) > 0; {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			rest = nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		src.Write(line)
		src.WriteByte('\n')
		lines++
	}
	if lines < total {
		return fmt.Errorf("%w: %d of %d element lines", ErrTruncatedPLYData, lines, total)
	}

	sinks, err := p.sinks()
	if err != nil {
		return err
	}
	g, err := readGoply(&src)
	if err != nil {
		return err
	}

	for i := range p.Elements {
		el := &p.Elements[i]
		if sinks[i] == nil {
			continue
		}
		rows := g.Elements(el.Name)
		if len(rows) != el.Count {
			return fmt.Errorf("%w: %s has %d of %d rows", ErrInvalidPLYData, el.Name, len(rows), el.Count)
		}
		row := make([]float64, len(el.Properties))
		lists := map[int][]float64{}
		for j, values := range rows {
			if err := fromGoplyRow(el, values, row, lists); err != nil {
				return fmt.Errorf("reading %s element: %w", el.Name, err)
			}
			if err := sinks[i](j, row, lists); err != nil {
				return fmt.Errorf("reading %s element: %w", el.Name, err)
			}
		}
	}
	return nil
}

// writeCanonicalHeader writes the header using only the keywords and type
// names goply accepts.
func (p *PLY) writeCanonicalHeader(w *bytes.Buffer) {
	w.WriteString("ply\nformat ascii 1.0\n")
	for _, el := range p.Elements {
		fmt.Fprintf(w, "element %s %d\n", el.Name, el.Count)
		for _, prop := range el.Properties {
			if prop.List {
				fmt.Fprintf(w, "property list %s %s %s\n", prop.countTyp.name, prop.typ.name, prop.Name)
			} else {
				fmt.Fprintf(w, "property %s %s\n", prop.typ.name, prop.Name)
			}
		}
	}
	w.WriteString("end_header\n")
}

// readGoply runs goply, which reports malformed input by panicking.
func readGoply(r io.Reader) (g *goply.Ply, err error) {
	defer func() {
		if v := recover(); v != nil {
			g, err = nil, fmt.Errorf("%w: %v", ErrInvalidPLYData, v)
		}
	}()
	return goply.New(r), nil
}

func fromGoplyRow(el *PLYElement, values goply.PlyElement, row []float64, lists map[int][]float64) error {
	for i, prop := range el.Properties {
		v, ok := values[prop.Name]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrInvalidPLYData, prop.Name)
		}
		if !prop.List {
			n, ok := plyNumber(v)
			if !ok {
				return fmt.Errorf("%w: %s is %T", ErrInvalidPLYData, prop.Name, v)
			}
			row[i] = n
			continue
		}
		raw, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("%w: %s is %T", ErrInvalidPLYData, prop.Name, v)
		}
		items := lists[i][:0]
		for _, item := range raw {
			n, ok := plyNumber(item)
			if !ok {
				return fmt.Errorf("%w: %s item is %T", ErrInvalidPLYData, prop.Name, item)
			}
			items = append(items, n)
		}
		lists[i] = items
	}
	return nil
}

func plyNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
