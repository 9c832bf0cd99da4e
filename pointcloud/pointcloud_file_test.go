package pointcloud

import (
	"bytes"
	"image/color"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/multialign/logging"
)

func makeRichCloud() *PointCloud {
	return &PointCloud{
		Points:  []r3.Vector{{X: 0.1, Y: -2.25, Z: 1e-3}, {X: 1.0 / 3, Y: 7, Z: -0.5}, {X: 100.125, Y: 0, Z: 0}},
		Normals: []r3.Vector{{Z: 1}, {}, {X: 0.6, Y: 0.8}},
		Colors:  []color.NRGBA{{R: 255, A: 255}, {G: 128, B: 7, A: 255}, {R: 1, G: 2, B: 3, A: 255}},
	}
}

func TestPCDRoundTrip(t *testing.T) {
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary, PCDCompressed} {
		cloud := makeRichCloud()
		var buf bytes.Buffer
		test.That(t, ToPCD(cloud, &buf, pcdType), test.ShouldBeNil)

		got, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, cloud)
	}
}

func TestPCDPointsOnly(t *testing.T) {
	cloud := New([]r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -1}})
	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDAscii), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "FIELDS x y z\n")
	test.That(t, buf.String(), test.ShouldContainSubstring, "DATA ascii\n1 2 3\n-1 0 0\n")

	got, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Points, test.ShouldResemble, cloud.Points)
	test.That(t, got.Normals, test.ShouldBeNil)
	test.That(t, got.Colors, test.ShouldBeNil)

	test.That(t, ToPCD(cloud, &buf, PCDType(7)), test.ShouldNotBeNil)
}

func TestCompressedPCD(t *testing.T) {
	cloud := MakeTestPointCloud()
	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDCompressed), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "DATA binary_compressed\n")
	test.That(t, buf.Len(), test.ShouldBeLessThan, 24*cloud.Size())

	got, err := ReadPCD(bytes.NewReader(buf.Bytes()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, cloud)

	var empty bytes.Buffer
	test.That(t, ToPCD(NewWithPrealloc(0), &empty, PCDCompressed), test.ShouldBeNil)
	got, err = ReadPCD(&empty)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Size(), test.ShouldEqual, 0)

	// the uncompressed size must match the header
	raw := buf.Bytes()
	at := bytes.Index(raw, []byte("DATA binary_compressed\n")) + len("DATA binary_compressed\n")
	corrupt := append([]byte{}, raw...)
	corrupt[at+4]++
	_, err = ReadPCD(bytes.NewReader(corrupt))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadForeignPCD(t *testing.T) {
	// float packed rgb, an ignored curvature field, comments and no trailing newline
	packed := math.Float32frombits(0x00102030)
	in := "# .PCD v0.7 - Point Cloud Data file format\n" +
		"VERSION 0.7\n" +
		"FIELDS x y z rgb curvature\n" +
		"SIZE 4 4 4 4 4\n" +
		"TYPE F F F F F\n" +
		"COUNT 1 1 1 1 1\n" +
		"WIDTH 2\n" +
		"HEIGHT 1\n" +
		"VIEWPOINT 0 0 0 1 0 0 0\n" +
		"POINTS 2\n" +
		"DATA ascii\n" +
		"0.5 0.25 -1 " + formatFloat32(packed) + " 0.01\n" +
		"1 2 3 " + formatFloat32(packed) + " 0.02"
	got, err := ReadPCD(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Points, test.ShouldResemble, []r3.Vector{{X: 0.5, Y: 0.25, Z: -1}, {X: 1, Y: 2, Z: 3}})
	test.That(t, got.Colors[0], test.ShouldResemble, color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 255})
}

func TestReadPCDWithoutCount(t *testing.T) {
	in := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nWIDTH 1\nHEIGHT 1\n" +
		"VIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA ascii\n1 2 3\n"
	got, err := ReadPCD(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Points, test.ShouldResemble, []r3.Vector{{X: 1, Y: 2, Z: 3}})
}

func TestReadPCDErrors(t *testing.T) {
	header := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\n" +
		"VIEWPOINT 0 0 0 1 0 0 0\n"
	for _, in := range []string{
		"VERSION .5\n",
		"VERSION .7\nFIELDS a b c\n",
		header + "POINTS 3\nDATA ascii\n",
		header + "POINTS 2\nDATA binary_compressed\n",
		header + "POINTS 2\nDATA ascii\n1 2 3\n",
		header + "POINTS 2\nDATA ascii\n1 2 3\n1 2\n",
		header + "POINTS 2\nDATA binary\n\x00\x00",
	} {
		_, err := ReadPCD(strings.NewReader(in))
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestReadPCDHugePointCount(t *testing.T) {
	header := func(points string) string {
		return "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH " + points +
			"\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS " + points + "\n"
	}
	compressedSizes := string([]byte{4, 0, 0, 0, 0, 0, 0, 0x0c})
	for _, in := range []string{
		header("4000000000000000") + "DATA ascii\n1 2 3\n",
		header("4000000000000000") + "DATA binary\n\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00",
		header("16777216") + "DATA binary_compressed\n" + compressedSizes + "\x00\x00\x00\x00",
		header("18446744073709551615") + "DATA ascii\n1 2 3\n",
		"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 4294967296\nHEIGHT 4294967296\n" +
			"VIEWPOINT 0 0 0 1 0 0 0\nPOINTS 0\nDATA ascii\n",
	} {
		_, err := ReadPCD(strings.NewReader(in))
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestFileRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	cloud := makeRichCloud()
	pcdPath := filepath.Join(dir, "cloud.pcd")
	test.That(t, WriteToFile(cloud, pcdPath), test.ShouldBeNil)
	got, err := NewFromFile(pcdPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, cloud)

	lasPath := filepath.Join(dir, "cloud.las")
	test.That(t, WriteToFile(cloud, lasPath), test.ShouldBeNil)
	got, err = NewFromFile(lasPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Size(), test.ShouldEqual, cloud.Size())
	test.That(t, got.HasNormals(), test.ShouldBeFalse)
	test.That(t, got.Colors, test.ShouldResemble, cloud.Colors)
	for i, p := range got.Points {
		// LAS stores scaled integers
		test.That(t, p.Sub(cloud.Points[i]).Norm(), test.ShouldBeLessThan, 0.01)
	}

	_, err = NewFromFile(filepath.Join(dir, "cloud.ply"), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, WriteToFile(cloud, filepath.Join(dir, "cloud.xyz")), test.ShouldNotBeNil)
	_, err = NewFromFile(filepath.Join(dir, "missing.pcd"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func formatFloat32(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}
