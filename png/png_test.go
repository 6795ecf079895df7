package png

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math/rand"
	"testing"

	"github.com/jrm-1535/imaging"
)

func TestMatchSignature(t *testing.T) {
	if !Match(signature[:]) {
		t.Fatal("expected PNG signature to match")
	}
	if Match([]byte("GIF89a")) {
		t.Fatal("did not expect GIF signature to match")
	}
}

func checker2x2RGB() *imaging.Image {
	img := imaging.NewImage(imaging.RGB24, 2, 2)
	set := func(x, y int, r, g, b byte) {
		row := img.Row(y)
		row[x*3], row[x*3+1], row[x*3+2] = r, g, b
	}
	set(0, 0, 255, 0, 0)
	set(1, 0, 0, 255, 0)
	set(0, 1, 0, 0, 255)
	set(1, 1, 255, 255, 0)
	return img
}

func TestRoundTripRGB24(t *testing.T) {
	src := checker2x2RGB()
	var buf bytes.Buffer
	if err := Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Width != src.Width || got.Height != src.Height {
		t.Fatalf("dimension mismatch")
	}
	if !bytes.Equal(got.Pix, src.Pix) {
		t.Fatalf("pixel mismatch: got %v want %v", got.Pix, src.Pix)
	}
}

func TestRoundTripGray8(t *testing.T) {
	img := imaging.NewImage(imaging.Gray8, 4, 1)
	for x := 0; x < 4; x++ {
		img.Pix[x] = byte(x * 64)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Pix, img.Pix) {
		t.Fatalf("pixel mismatch: got %v want %v", got.Pix, img.Pix)
	}
}

func TestRoundTripRGBA32(t *testing.T) {
	img := imaging.NewImage(imaging.RGBA32, 2, 1)
	img.Pix = []byte{255, 0, 0, 128, 0, 255, 0, 255}
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Pix, img.Pix) {
		t.Fatalf("pixel mismatch: got %v want %v", got.Pix, img.Pix)
	}
}

// PNG encode with sRGB metadata kind round-trips to metadata.ICC == ICCSRGB
// and carries no embedded ICC profile.
func TestEncodeSRGBMetadata(t *testing.T) {
	img := checker2x2RGB()
	img.Meta.ICC = imaging.ICCSRGB
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Meta.ICC != imaging.ICCSRGB {
		t.Fatalf("expected ICCSRGB, got %v", got.Meta.ICC)
	}
	if len(got.Meta.ICCProfile) != 0 {
		t.Fatalf("expected no embedded ICC profile, got %d bytes", len(got.Meta.ICCProfile))
	}
}

// PNG encode with an embedded ICC profile round-trips the profile bytes
// through a compressed iCCP chunk.
func TestEncodeEmbeddedICCProfile(t *testing.T) {
	img := checker2x2RGB()
	img.Meta.ICC = imaging.ICCEmbedded
	img.Meta.ICCProfile = []byte("fake icc profile payload, repeated for compression: fake icc profile payload")
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Meta.ICC != imaging.ICCEmbedded {
		t.Fatalf("expected ICCEmbedded, got %v", got.Meta.ICC)
	}
	if !bytes.Equal(got.Meta.ICCProfile, img.Meta.ICCProfile) {
		t.Fatalf("ICC profile mismatch: got %v want %v", got.Meta.ICCProfile, img.Meta.ICCProfile)
	}
}

// Decoding from a reader that returns at most K bytes per Read must match
// decoding the full byte array.
type chunkedReader struct {
	data []byte
	pos  int
	k    int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := c.k
	if n > len(p) {
		n = len(p)
	}
	if c.pos+n > len(c.data) {
		n = len(c.data) - c.pos
	}
	copy(p, c.data[c.pos:c.pos+n])
	c.pos += n
	return n, nil
}

func TestChunkedSourceEquivalence(t *testing.T) {
	src := checker2x2RGB()
	var buf bytes.Buffer
	if err := Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	whole := buf.Bytes()
	want, err := Decode(bytes.NewReader(whole))
	if err != nil {
		t.Fatalf("decode whole: %v", err)
	}
	for _, k := range []int{1, 3, 5, 7, 11} {
		got, err := Decode(&chunkedReader{data: whole, k: k})
		if err != nil {
			t.Fatalf("decode chunked k=%d: %v", k, err)
		}
		if !bytes.Equal(got.Pix, want.Pix) {
			t.Fatalf("chunked decode k=%d mismatch", k)
		}
	}
}

// Randomly flipping single bits in an otherwise-valid PNG must never panic:
// Decode should return either a decoded image or an imaging.Error.
func TestDecodeAdversarialBitFlips(t *testing.T) {
	src := checker2x2RGB()
	var buf bytes.Buffer
	if err := Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	good := buf.Bytes()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 40; i++ {
		corrupt := append([]byte(nil), good...)
		bitPos := rng.Intn(len(corrupt) * 8)
		corrupt[bitPos/8] ^= 1 << uint(bitPos%8)
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("flip %d: decode panicked: %v", i, r)
				}
			}()
			Decode(bytes.NewReader(corrupt))
		}()
	}
}

// pngBuilder hand-assembles chunked PNG fixtures to exercise palette, tRNS
// and CRC behavior the round-trip encoder never produces on its own.
type pngBuilder struct {
	buf bytes.Buffer
}

func (p *pngBuilder) chunk(typ string, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	p.buf.Write(lenBuf[:])
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	p.buf.WriteString(typ)
	p.buf.Write(data)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc.Sum32())
	p.buf.Write(crcBuf[:])
}

func (p *pngBuilder) ihdr(w, h, bitDepth, colorType, interlace int) {
	data := make([]byte, 13)
	binary.BigEndian.PutUint32(data[0:4], uint32(w))
	binary.BigEndian.PutUint32(data[4:8], uint32(h))
	data[8] = byte(bitDepth)
	data[9] = byte(colorType)
	data[12] = byte(interlace)
	p.chunk("IHDR", data)
}

func (p *pngBuilder) idatRaw(rawScanlines []byte) {
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write(rawScanlines)
	zw.Close()
	p.chunk("IDAT", zbuf.Bytes())
}

// Hand-built indexed-color PNG: a 2x1 image, 2-entry palette, tRNS makes
// index 0 fully transparent.
func TestDecodeIndexedWithTRNS(t *testing.T) {
	var p pngBuilder
	p.buf.Write(signature[:])
	p.ihdr(2, 1, 8, ctIndexed, 0)
	p.chunk("PLTE", []byte{10, 20, 30, 200, 210, 220})
	p.chunk("tRNS", []byte{0, 255})
	// one scanline: filter byte (None) + 2 index bytes.
	p.idatRaw([]byte{fNone, 0, 1})
	p.chunk("IEND", nil)

	got, err := Decode(bytes.NewReader(p.buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != imaging.RGBA32 {
		t.Fatalf("expected RGBA32 for indexed+tRNS, got %v", got.Kind)
	}
	row := got.Row(0)
	if row[3] != 0 {
		t.Fatalf("expected pixel 0 transparent, got alpha=%d", row[3])
	}
	if row[4+3] != 255 {
		t.Fatalf("expected pixel 1 alpha 255, got %d", row[4+3])
	}
	if row[4] != 200 || row[5] != 210 || row[6] != 220 {
		t.Fatalf("expected pixel 1 palette color, got %v", row[4:7])
	}
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	var p pngBuilder
	p.buf.Write(signature[:])
	p.ihdr(1, 1, 8, ctGrayscale, 0)
	p.idatRaw([]byte{fNone, 0})
	p.chunk("IEND", nil)
	corrupt := p.buf.Bytes()
	corrupt[len(corrupt)-5] ^= 0xFF // flip the last byte of the IEND type tag, which the CRC covers

	_, err := Decode(bytes.NewReader(corrupt))
	if err == nil {
		t.Fatal("expected CRC mismatch error")
	}
	e, ok := imaging.AsError(err)
	if !ok || e.Kind != imaging.IntegrityFailure {
		t.Fatalf("expected IntegrityFailure, got %v", err)
	}
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0, 1, 2, 3, 4, 5, 6, 7}))
	if err == nil {
		t.Fatal("expected error for bad signature")
	}
	e, ok := imaging.AsError(err)
	if !ok || e.Kind != imaging.InvalidFormat {
		t.Fatalf("expected InvalidFormat, got %v", err)
	}
}

// Interlaced (Adam7) 2x2 grayscale image, each pass's single pixel hand-
// filtered, to check the 7-pass recombination lands every sample in the
// right place.
func TestDecodeAdam7(t *testing.T) {
	var p pngBuilder
	p.buf.Write(signature[:])
	p.ihdr(2, 2, 8, ctGrayscale, 1)
	// Pass 1 covers (0,0); pass 6 covers (1,0); pass 7 covers (0,1) and (1,1).
	var raw bytes.Buffer
	raw.Write([]byte{fNone, 10})        // pass1: 1x1
	raw.Write([]byte{fNone, 20})        // pass6: 1x1 at (1,0)
	raw.Write([]byte{fNone, 30, 40})    // pass7: 2x1 row at y=1
	p.idatRaw(raw.Bytes())
	p.chunk("IEND", nil)

	got, err := Decode(bytes.NewReader(p.buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []byte{10, 20, 30, 40}
	if !bytes.Equal(got.Pix, want) {
		t.Fatalf("adam7 recombine mismatch: got %v want %v", got.Pix, want)
	}
}
