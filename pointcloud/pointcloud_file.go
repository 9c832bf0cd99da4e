package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/multialign/logging"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed lzf compressed binary format for pcd, with values stored field by field.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given file. The format is chosen by extension.
func NewFromFile(fn string, logger logging.Logger) (*PointCloud, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud to fn, choosing the format by extension. PCD files are binary.
func WriteToFile(cloud *PointCloud, fn string) error {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return WriteToLASFile(cloud, fn)
	case ".pcd":
		return writePCDFile(cloud, fn)
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}
}

func writePCDFile(cloud *PointCloud, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err = ToPCD(cloud, w, PCDBinary); err != nil {
		return err
	}
	return w.Flush()
}

// maxPreciseLASCoordinate bounds coordinates that survive LAS integer quantization untouched.
const maxPreciseLASCoordinate = 1 << 20

// NewFromLASFile returns a point cloud from reading a LAS file. If any
// lossiness of points could occur from reading it in, it's reported but is not
// an error.
func NewFromLASFile(fn string, logger logging.Logger) (*PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	hasColor := lf.Header.PointFormatID == 2
	pc := NewWithPrealloc(lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		v := r3.Vector{X: data.X, Y: data.Y, Z: data.Z}
		if math.Abs(v.X) > maxPreciseLASCoordinate || math.Abs(v.Y) > maxPreciseLASCoordinate ||
			math.Abs(v.Z) > maxPreciseLASCoordinate {
			logger.Warnw("potential floating point lossiness for LAS point", "point", v, "index", i)
		}
		if !hasColor {
			pc.Append(v)
			continue
		}
		c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
		if rgb := p.RgbData(); rgb != nil {
			c = color.NRGBA{R: uint8(rgb.Red / 256), G: uint8(rgb.Green / 256), B: uint8(rgb.Blue / 256), A: 255}
		}
		pc.AppendColored(v, c)
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file. Normals are not representable in LAS
// and are dropped.
func WriteToLASFile(cloud *PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	hasColor := cloud.HasColor()
	pointFormatID := 0
	if hasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	for i, pos := range cloud.Points {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		lp = pr0

		if hasColor {
			c := cloud.Colors[i]
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(c.R) * 256,
					Green: uint16(c.G) * 256,
					Blue:  uint16(c.B) * 256,
				},
			}
		}
		if err = lf.AddLasPoint(lp); err != nil {
			return
		}
	}
	return nil
}

func colorToPCDInt(c color.NRGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

func pcdIntToColor(c uint32) color.NRGBA {
	return color.NRGBA{uint8(0xFF & (c >> 16)), uint8(0xFF & (c >> 8)), uint8(0xFF & c), 255}
}

// ToPCD writes the cloud in PCD v0.7. Coordinates and normals are written as 8 byte floats so
// that a write then read is lossless; colors are packed into an unsigned rgb field.
func ToPCD(cloud *PointCloud, out io.Writer, outputType PCDType) error {
	hasNormals, hasColor := cloud.HasNormals(), cloud.HasColor()

	fields := []string{"x", "y", "z"}
	sizes := []string{"8", "8", "8"}
	types := []string{"F", "F", "F"}
	if hasNormals {
		fields = append(fields, "normal_x", "normal_y", "normal_z")
		sizes = append(sizes, "8", "8", "8")
		types = append(types, "F", "F", "F")
	}
	if hasColor {
		fields = append(fields, "rgb")
		sizes = append(sizes, "4")
		types = append(types, "U")
	}
	counts := make([]string, len(fields))
	for i := range counts {
		counts[i] = "1"
	}
	dataName := "ascii"
	switch outputType {
	case PCDBinary:
		dataName = "binary"
	case PCDCompressed:
		dataName = "binary_compressed"
	case PCDAscii:
	default:
		return errors.Errorf("unsupported pcd data type %v", outputType)
	}

	if _, err := fmt.Fprintf(out, "VERSION .7\nFIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n"+
		"WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n",
		strings.Join(fields, " "), strings.Join(sizes, " "), strings.Join(types, " "), strings.Join(counts, " "),
		cloud.Size(), cloud.Size(), dataName); err != nil {
		return err
	}
	if outputType == PCDCompressed {
		return writePCDCompressed(cloud, out)
	}

	record := make([]byte, 0, 8*6+4)
	for i, p := range cloud.Points {
		vals := []float64{p.X, p.Y, p.Z}
		if hasNormals {
			n := cloud.Normals[i]
			vals = append(vals, n.X, n.Y, n.Z)
		}
		var err error
		switch outputType {
		case PCDBinary:
			record = record[:0]
			for _, v := range vals {
				record = binary.LittleEndian.AppendUint64(record, math.Float64bits(v))
			}
			if hasColor {
				record = binary.LittleEndian.AppendUint32(record, colorToPCDInt(cloud.Colors[i]))
			}
			_, err = out.Write(record)
		case PCDAscii:
			tokens := make([]string, 0, len(vals)+1)
			for _, v := range vals {
				tokens = append(tokens, strconv.FormatFloat(v, 'g', -1, 64))
			}
			if hasColor {
				tokens = append(tokens, strconv.FormatUint(uint64(colorToPCDInt(cloud.Colors[i])), 10))
			}
			_, err = fmt.Fprintln(out, strings.Join(tokens, " "))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// pcdColumns returns the cloud's values field by field, which is the layout compressed PCD
// data uses before lzf is applied.
func pcdColumns(cloud *PointCloud) []byte {
	n := cloud.Size()
	columns := []func(i int) float64{
		func(i int) float64 { return cloud.Points[i].X },
		func(i int) float64 { return cloud.Points[i].Y },
		func(i int) float64 { return cloud.Points[i].Z },
	}
	if cloud.HasNormals() {
		columns = append(columns,
			func(i int) float64 { return cloud.Normals[i].X },
			func(i int) float64 { return cloud.Normals[i].Y },
			func(i int) float64 { return cloud.Normals[i].Z },
		)
	}
	size := 8 * len(columns) * n
	if cloud.HasColor() {
		size += 4 * n
	}
	raw := make([]byte, 0, size)
	for _, col := range columns {
		for i := 0; i < n; i++ {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(col(i)))
		}
	}
	if cloud.HasColor() {
		for _, c := range cloud.Colors {
			raw = binary.LittleEndian.AppendUint32(raw, colorToPCDInt(c))
		}
	}
	return raw
}

func writePCDCompressed(cloud *PointCloud, out io.Writer) error {
	raw := pcdColumns(cloud)
	var compressed []byte
	if len(raw) > 0 {
		// lzf can expand incompressible input slightly
		compressed = make([]byte, len(raw)+len(raw)/16+64)
		n, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "compressing pcd data")
		}
		compressed = compressed[:n]
	}
	sizes := binary.LittleEndian.AppendUint32(nil, uint32(len(compressed)))
	sizes = binary.LittleEndian.AppendUint32(sizes, uint32(len(raw)))
	if _, err := out.Write(sizes); err != nil {
		return err
	}
	_, err := out.Write(compressed)
	return err
}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdField struct {
	name  string
	size  int
	typ   pcdValType
	count int
}

type pcdHeader struct {
	fields []pcdField
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

func (h *pcdHeader) fieldIndex(name string) int {
	for i, f := range h.fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		// COUNT is optional and defaults to 1 per field.
		if name == "COUNT" && field == "WIDTH" {
			for i := range header.fields {
				header.fields[i].count = 1
			}
			return parsePCDHeaderLine(line, index+1, header)
		}
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	perField := func() error {
		if len(tokens) != len(header.fields) {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
		return nil
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = make([]pcdField, len(tokens))
		for i, token := range tokens {
			header.fields[i].name = token
		}
		if header.fieldIndex("x") < 0 || header.fieldIndex("y") < 0 || header.fieldIndex("z") < 0 {
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if err := perField(); err != nil {
			return err
		}
		for i, token := range tokens {
			size, err := strconv.Atoi(token)
			if err != nil || (size != 1 && size != 2 && size != 4 && size != 8) {
				return errors.Errorf("invalid SIZE field %s", token)
			}
			header.fields[i].size = size
		}
	case "TYPE":
		if err := perField(); err != nil {
			return err
		}
		for i, token := range tokens {
			typ := pcdValType(token)
			if typ != pcdValFloat && typ != pcdValInt && typ != pcdValUInt {
				return errors.Errorf("invalid TYPE field %s", token)
			}
			if typ == pcdValFloat && header.fields[i].size != 4 && header.fields[i].size != 8 {
				return errors.Errorf("invalid float size %d", header.fields[i].size)
			}
			header.fields[i].typ = typ
		}
	case "COUNT":
		if err := perField(); err != nil {
			return err
		}
		for i, token := range tokens {
			count, err := strconv.Atoi(token)
			if err != nil || count < 1 {
				return errors.Errorf("invalid COUNT field %s", token)
			}
			header.fields[i].count = count
		}
	case "WIDTH":
		var err error
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		var err error
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for _, token := range tokens {
			if _, err := strconv.ParseFloat(token, 64); err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
	case "POINTS":
		points, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if points > math.MaxInt {
			return errors.Errorf("POINTS field %d is too large", points)
		}
		if header.height != 0 && header.width > math.MaxUint64/header.height || points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads a PCD v0.7 ascii, binary or binary_compressed stream. Fields x, y and z are required; normal_x,
// normal_y, normal_z and rgb/rgba are read when present and any other field is skipped.
func ReadPCD(inRaw io.Reader) (*PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		if strings.HasPrefix(line, "WIDTH") && pcdHeaderFields[headerLineCount] == "COUNT" {
			headerLineCount++
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	case PCDCompressed:
		return readPCDCompressed(in, header)
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
}

// pcdLayout maps header fields onto the values a PointCloud can carry.
type pcdLayout struct {
	x, y, z    int
	nx, ny, nz int
	rgb        int
	rgbIsFloat bool
	width      int // values per record
	offsets    []int
}

func newPCDLayout(header pcdHeader) pcdLayout {
	l := pcdLayout{offsets: make([]int, len(header.fields))}
	for i, f := range header.fields {
		l.offsets[i] = l.width
		l.width += f.count
	}
	at := func(name string) int {
		i := header.fieldIndex(name)
		if i < 0 {
			return -1
		}
		return l.offsets[i]
	}
	l.x, l.y, l.z = at("x"), at("y"), at("z")
	l.nx, l.ny, l.nz = at("normal_x"), at("normal_y"), at("normal_z")
	if l.nx < 0 || l.ny < 0 || l.nz < 0 {
		l.nx = -1
	}
	rgbField := header.fieldIndex("rgb")
	if rgbField < 0 {
		rgbField = header.fieldIndex("rgba")
	}
	l.rgb = -1
	if rgbField >= 0 {
		l.rgb = l.offsets[rgbField]
		l.rgbIsFloat = header.fields[rgbField].typ == pcdValFloat
	}
	return l
}

func (l pcdLayout) newCloud(n int) *PointCloud {
	pc := NewWithPrealloc(n)
	if l.nx >= 0 {
		pc.Normals = make([]r3.Vector, 0, n)
	}
	if l.rgb >= 0 {
		pc.Colors = make([]color.NRGBA, 0, n)
	}
	return pc
}

// add appends one record. rgbBits carries the packed color when the layout has one.
func (l pcdLayout) add(pc *PointCloud, vals []float64, rgbBits uint32) {
	pc.Points = append(pc.Points, r3.Vector{X: vals[l.x], Y: vals[l.y], Z: vals[l.z]})
	if l.nx >= 0 {
		n := r3.Vector{X: vals[l.nx], Y: vals[l.ny], Z: vals[l.nz]}
		if !isFinite(n) {
			n = r3.Vector{}
		}
		pc.Normals = append(pc.Normals, n)
	}
	if l.rgb >= 0 {
		pc.Colors = append(pc.Colors, pcdIntToColor(rgbBits))
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	layout := newPCDLayout(header)
	pc := layout.newCloud(pcdPrealloc(header.points))
	vals := make([]float64, layout.width)
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != layout.width {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		var rgbBits uint32
		for j, token := range tokens {
			if j == layout.rgb {
				if layout.rgbIsFloat {
					f, err := strconv.ParseFloat(token, 32)
					if err != nil {
						return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
					}
					rgbBits = math.Float32bits(float32(f))
				} else {
					u, err := strconv.ParseUint(token, 10, 32)
					if err != nil {
						return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
					}
					rgbBits = uint32(u)
				}
				continue
			}
			vals[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		layout.add(pc, vals, rgbBits)
	}
	if err := pc.Validate(0); err != nil {
		return nil, err
	}
	return pc, nil
}

// pcdMaxPrealloc bounds the capacity reserved from a header's point count, which is not trusted
// until the records are actually read.
const pcdMaxPrealloc = 1 << 20

func pcdPrealloc(points uint64) int {
	if points > pcdMaxPrealloc {
		return pcdMaxPrealloc
	}
	return int(points)
}

// lzfMaxRatio bounds how far an lzf stream can expand.
const lzfMaxRatio = 128

func pcdRecordSize(header pcdHeader) int {
	size := 0
	for _, f := range header.fields {
		size += f.size * f.count
	}
	return size
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	layout := newPCDLayout(header)
	pc := layout.newCloud(pcdPrealloc(header.points))
	buf := make([]byte, pcdRecordSize(header))
	vals := make([]float64, layout.width)
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		layout.add(pc, vals, layout.decodeRecord(buf, header, vals))
	}
	if err := pc.Validate(0); err != nil {
		return nil, err
	}
	return pc, nil
}

// readPCDCompressed reads the compressed and uncompressed sizes, inflates the data and
// reassembles each point's record from the per field blocks.
func readPCDCompressed(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	sizes := make([]byte, 8)
	if _, err := io.ReadFull(in, sizes); err != nil {
		return nil, errors.Wrap(err, "reading compressed data sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[:4])
	rawSize := binary.LittleEndian.Uint32(sizes[4:])
	recordSize := pcdRecordSize(header)
	if header.points > uint64(rawSize) || uint64(rawSize) != uint64(recordSize)*header.points {
		return nil, errors.Errorf("compressed pcd holds %d bytes, expected %d records of %d bytes", rawSize, header.points, recordSize)
	}
	points := int(header.points)
	var raw []byte
	if rawSize > 0 {
		compressed, err := io.ReadAll(io.LimitReader(in, int64(compressedSize)))
		if err != nil {
			return nil, errors.Wrap(err, "reading compressed data")
		}
		if len(compressed) != int(compressedSize) {
			return nil, errors.Errorf("read %d compressed bytes, expected %d", len(compressed), compressedSize)
		}
		if uint64(rawSize) > lzfMaxRatio*uint64(compressedSize) {
			return nil, errors.Errorf("%d compressed bytes cannot hold %d bytes", compressedSize, rawSize)
		}
		raw = make([]byte, rawSize)
		n, err := lzf.Decompress(compressed, raw)
		if err != nil {
			return nil, errors.Wrap(err, "decompressing pcd data")
		}
		if n != int(rawSize) {
			return nil, errors.Errorf("decompressed %d bytes, expected %d", n, rawSize)
		}
	}

	layout := newPCDLayout(header)
	pc := layout.newCloud(points)
	record := make([]byte, recordSize)
	vals := make([]float64, layout.width)
	for i := 0; i < points; i++ {
		blockStart, off := 0, 0
		for _, f := range header.fields {
			width := f.size * f.count
			copy(record[off:off+width], raw[blockStart+i*width:blockStart+(i+1)*width])
			blockStart += width * points
			off += width
		}
		layout.add(pc, vals, layout.decodeRecord(record, header, vals))
	}
	if err := pc.Validate(0); err != nil {
		return nil, err
	}
	return pc, nil
}

// decodeRecord fills vals from one binary record and returns the packed color bits.
func (l pcdLayout) decodeRecord(buf []byte, header pcdHeader, vals []float64) uint32 {
	var rgbBits uint32
	off, v := 0, 0
	for _, f := range header.fields {
		for c := 0; c < f.count; c++ {
			raw := buf[off : off+f.size]
			if v == l.rgb {
				rgbBits = uint32(decodePCDUint(raw))
			} else {
				vals[v] = decodePCDValue(raw, f)
			}
			off += f.size
			v++
		}
	}
	return rgbBits
}

func decodePCDUint(raw []byte) uint64 {
	switch len(raw) {
	case 1:
		return uint64(raw[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(raw))
	case 4:
		return uint64(binary.LittleEndian.Uint32(raw))
	default:
		return binary.LittleEndian.Uint64(raw)
	}
}

func decodePCDValue(raw []byte, f pcdField) float64 {
	u := decodePCDUint(raw)
	switch f.typ {
	case pcdValFloat:
		if f.size == 4 {
			return float64(math.Float32frombits(uint32(u)))
		}
		return math.Float64frombits(u)
	case pcdValInt:
		switch f.size {
		case 1:
			return float64(int8(u))
		case 2:
			return float64(int16(u))
		case 4:
			return float64(int32(u))
		default:
			return float64(int64(u))
		}
	case pcdValUInt:
		return float64(u)
	}
	return math.NaN()
}
