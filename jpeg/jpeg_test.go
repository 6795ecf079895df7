package jpeg

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"

	"github.com/jrm-1535/imaging"
	"github.com/jrm-1535/imaging/internal/bitio"
)

func TestMatchSignature(t *testing.T) {
	if !Match([]byte{0xFF, 0xD8, 0xFF, 0xE0}) {
		t.Fatal("expected SOI to match")
	}
	if Match([]byte{'B', 'M'}) {
		t.Fatal("did not expect BMP signature to match")
	}
}

func solidRGB(w, h int, r, g, b byte) *imaging.Image {
	img := imaging.NewImage(imaging.RGB24, w, h)
	for i := 0; i < len(img.Pix); i += 3 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = r, g, b
	}
	return img
}

func mse(a, b []byte) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum / float64(len(a))
}

// A flat-color block has only a DC coefficient, so baseline encode/decode
// at a reasonable quality should reproduce it almost exactly.
func TestEncodeDecodeRoundTripFlatColor(t *testing.T) {
	src := solidRGB(16, 16, 200, 80, 40)
	var buf bytes.Buffer
	if err := Encode(&buf, src, &Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Width != src.Width || got.Height != src.Height {
		t.Fatalf("dimension mismatch: got %dx%d want %dx%d", got.Width, got.Height, src.Width, src.Height)
	}
	if m := mse(got.Pix, src.Pix); m > 16 {
		t.Fatalf("mse too high for flat color round trip: %f", m)
	}
}

func TestEncodeDecodeRoundTripGray(t *testing.T) {
	img := imaging.NewImage(imaging.Gray8, 16, 16)
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, &Options{Quality: 85}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != imaging.Gray8 {
		t.Fatalf("expected Gray8, got %v", got.Kind)
	}
	if m := mse(got.Pix, img.Pix); m > 16 {
		t.Fatalf("mse too high: %f", m)
	}
}

func TestEncodeNonMultipleOf8Dimensions(t *testing.T) {
	src := solidRGB(10, 6, 10, 200, 230)
	var buf bytes.Buffer
	if err := Encode(&buf, src, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Width != 10 || got.Height != 6 {
		t.Fatalf("expected 10x6, got %dx%d", got.Width, got.Height)
	}
}

func TestEncodeRejectsUnsupportedKind(t *testing.T) {
	bad := &imaging.Image{Width: 1, Height: 1, Kind: imaging.ColorKind(99), Pix: []byte{0}}
	var buf bytes.Buffer
	err := Encode(&buf, bad, nil)
	if err == nil {
		t.Fatal("expected error for unsupported kind")
	}
	e, ok := imaging.AsError(err)
	if !ok || e.Kind != imaging.Argument {
		t.Fatalf("expected Argument error, got %v", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0xFF, 0xD8}))
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
}

func TestQuantTableScalingBounds(t *testing.T) {
	low := scaleQuantTable(stdLumaQuant, 1)
	high := scaleQuantTable(stdLumaQuant, 100)
	for _, v := range low {
		if v < 1 || v > 255 {
			t.Fatalf("quant value out of range at quality 1: %d", v)
		}
	}
	for _, v := range high {
		if v < 1 || v > 255 {
			t.Fatalf("quant value out of range at quality 100: %d", v)
		}
	}
}

func TestBuildEncodeHuffTableCanonical(t *testing.T) {
	tbl := buildEncodeHuffTable(stdLumaDCCounts, stdLumaDCValues)
	for _, v := range stdLumaDCValues {
		if tbl.length[v] == 0 {
			t.Fatalf("symbol %d has no assigned code length", v)
		}
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
	src := solidRGB(16, 16, 200, 80, 40)
	var buf bytes.Buffer
	if err := Encode(&buf, src, &Options{Quality: 90}); err != nil {
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

func TestDecodeRGBAWidensToOpaqueAlpha(t *testing.T) {
	src := solidRGB(8, 8, 30, 90, 180)
	var buf bytes.Buffer
	if err := Encode(&buf, src, &Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRGBA(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeRGBA: %v", err)
	}
	if got.Kind != imaging.RGBA32 {
		t.Fatalf("expected RGBA32, got %v", got.Kind)
	}
	for i := 0; i < len(got.Pix); i += 4 {
		if got.Pix[i+3] != 255 {
			t.Fatalf("expected opaque alpha at pixel %d, got %d", i/4, got.Pix[i+3])
		}
	}
}

// huffValuesByLength regroups a flat canonical-order symbol list (as used by
// buildEncodeHuffTable) into the per-bit-length buckets newHuffTable expects.
func huffValuesByLength(counts [16]byte, values []byte) [16][]byte {
	var out [16][]byte
	vi := 0
	for i := 0; i < 16; i++ {
		out[i] = values[vi : vi+int(counts[i])]
		vi += int(counts[i])
	}
	return out
}

// testBitWriter packs bits MSB-first into bytes, applying JPEG's 0xFF 0x00
// byte-stuffing, so test fixtures can be read back by bitio.MSBReader.
type testBitWriter struct {
	out   []byte
	cur   byte
	nbits uint
}

func (w *testBitWriter) writeBits(v uint32, n uint) {
	for i := int(n) - 1; i >= 0; i-- {
		w.cur = w.cur<<1 | byte((v>>uint(i))&1)
		w.nbits++
		if w.nbits == 8 {
			w.out = append(w.out, w.cur)
			if w.cur == 0xFF {
				w.out = append(w.out, 0x00)
			}
			w.cur, w.nbits = 0, 0
		}
	}
}

func (w *testBitWriter) bytes() []byte {
	if w.nbits > 0 {
		w.cur <<= 8 - w.nbits
		w.out = append(w.out, w.cur)
		if w.cur == 0xFF {
			w.out = append(w.out, 0x00)
		}
	}
	return w.out
}

// Huffman-path equivalence: the 9-bit fast table and the bit-by-bit fallback
// must decode an identical symbol sequence from the same bitstream, across
// a table with code lengths both well under and well over fastBits.
func TestHuffmanFastSlowEquivalence(t *testing.T) {
	enc := buildEncodeHuffTable(stdLumaACCounts, stdLumaACValues)
	table := newHuffTable(huffValuesByLength(stdLumaACCounts, stdLumaACValues))

	var w testBitWriter
	for _, sym := range stdLumaACValues {
		w.writeBits(uint32(enc.codes[sym]), uint(enc.length[sym]))
	}
	data := w.bytes()

	fastReader := bitio.NewMSBReader(data)
	var gotFast []byte
	for range stdLumaACValues {
		s, ok := decodeHuffSymbol(fastReader, table)
		if !ok {
			t.Fatalf("fast path ran out of bits early")
		}
		gotFast = append(gotFast, s)
	}

	slowReader := bitio.NewMSBReader(data)
	var gotSlow []byte
	for range stdLumaACValues {
		s, ok := decodeHuffSymbolSlow(slowReader, table.root)
		if !ok {
			t.Fatalf("slow path ran out of bits early")
		}
		gotSlow = append(gotSlow, s)
	}

	if !bytes.Equal(gotFast, stdLumaACValues) {
		t.Fatalf("fast path mismatch: got %v want %v", gotFast, stdLumaACValues)
	}
	if !bytes.Equal(gotSlow, stdLumaACValues) {
		t.Fatalf("slow path mismatch: got %v want %v", gotSlow, stdLumaACValues)
	}
}

// A progressive AC-refinement scan must: leave an already-nonzero
// coefficient's value unchanged when its refinement bit is 0, insert a new
// nonzero coefficient at the run-coded position with magnitude 1<<al, and
// leave every coefficient past an EOB-run code untouched.
func TestProgressiveACRefinement(t *testing.T) {
	acEnc := buildEncodeHuffTable(stdLumaACCounts, stdLumaACValues)
	acTable := newHuffTable(huffValuesByLength(stdLumaACCounts, stdLumaACValues))

	var w testBitWriter
	writeSym := func(rs byte) {
		w.writeBits(uint32(acEnc.codes[rs]), uint(acEnc.length[rs]))
	}
	writeSym(0x01)    // run 0, category 1: a newly nonzero coefficient
	w.writeBits(1, 1) // sign bit: positive
	w.writeBits(0, 1) // refinement bit for the coefficient already at k=1
	writeSym(0x00)    // EOB run of 1: nothing more to add this scan
	data := w.bytes()

	comp := &component{coeffs: make([]block, 1)}
	comp.coeffs[0][zigZagOrder[1]] = 3 // set by an earlier AC-first scan

	br := bitio.NewMSBReader(data)
	if err := decodeACRefine(br, comp, 0, 1, 3, 0, acTable); err != nil {
		t.Fatalf("decodeACRefine: %v", err)
	}

	blk := comp.coeffs[0]
	if blk[zigZagOrder[1]] != 3 {
		t.Fatalf("expected coefficient at k=1 unchanged at 3, got %d", blk[zigZagOrder[1]])
	}
	if blk[zigZagOrder[2]] != 1 {
		t.Fatalf("expected newly nonzero coefficient 1 at k=2, got %d", blk[zigZagOrder[2]])
	}
	if blk[zigZagOrder[3]] != 0 {
		t.Fatalf("expected k=3 to remain zero under the EOB run, got %d", blk[zigZagOrder[3]])
	}
	if comp.eobrun != 0 {
		t.Fatalf("expected eobrun consumed down to 0, got %d", comp.eobrun)
	}
}

// The progressive DC-first, DC-refine and AC-first scans, run in sequence
// on one block the way a real SOF2 image interleaves them across scans.
func TestProgressiveDCAndACFirstScans(t *testing.T) {
	dcEnc := buildEncodeHuffTable(stdLumaDCCounts, stdLumaDCValues)
	dcTable := newHuffTable(huffValuesByLength(stdLumaDCCounts, stdLumaDCValues))
	acEnc := buildEncodeHuffTable(stdLumaACCounts, stdLumaACValues)
	acTable := newHuffTable(huffValuesByLength(stdLumaACCounts, stdLumaACValues))

	comp := &component{coeffs: make([]block, 1)}

	// DC-first: category 0, no extra bits, diff 0, al=2.
	var w1 testBitWriter
	w1.writeBits(uint32(dcEnc.codes[0x00]), uint(dcEnc.length[0x00]))
	if err := decodeDCFirst(bitio.NewMSBReader(w1.bytes()), comp, 0, dcTable, 2); err != nil {
		t.Fatalf("decodeDCFirst: %v", err)
	}
	if comp.coeffs[0][0] != 0 {
		t.Fatalf("expected DC coefficient 0 after first scan, got %d", comp.coeffs[0][0])
	}

	// DC-refine: one bit set at al=2.
	var w2 testBitWriter
	w2.writeBits(1, 1)
	if err := decodeDCRefine(bitio.NewMSBReader(w2.bytes()), comp, 0, 2); err != nil {
		t.Fatalf("decodeDCRefine: %v", err)
	}
	if comp.coeffs[0][0] != 4 {
		t.Fatalf("expected DC coefficient 4 after refine, got %d", comp.coeffs[0][0])
	}

	// AC-first over [1,3]: one newly nonzero coefficient at k=1, then an
	// EOB run of 1 covering the rest of the band.
	var w3 testBitWriter
	w3.writeBits(uint32(acEnc.codes[0x01]), uint(acEnc.length[0x01]))
	w3.writeBits(1, 1) // category-1 extend bit: positive 1
	w3.writeBits(uint32(acEnc.codes[0x00]), uint(acEnc.length[0x00]))
	if err := decodeACFirst(bitio.NewMSBReader(w3.bytes()), comp, 0, 1, 3, 0, acTable); err != nil {
		t.Fatalf("decodeACFirst: %v", err)
	}
	if comp.coeffs[0][zigZagOrder[1]] != 1 {
		t.Fatalf("expected AC coefficient 1 at k=1, got %d", comp.coeffs[0][zigZagOrder[1]])
	}
	if comp.eobrun != 0 {
		t.Fatalf("expected eobrun 0 (run of 1, already consumed), got %d", comp.eobrun)
	}
}

// A 4-component frame with no Adobe APP14 marker must still be treated as
// inverted CMYK, per the component-count heuristic.
func TestCMYKWithoutAPP14Inverted(t *testing.T) {
	d := &decoderState{adobeTransform: -1}
	d.frame = &frameHeader{
		width: 1, height: 1, maxH: 1, maxV: 1,
		components: []component{
			{hSamp: 1, vSamp: 1, blocksPerLine: 1, blocksPerCol: 1},
			{hSamp: 1, vSamp: 1, blocksPerLine: 1, blocksPerCol: 1},
			{hSamp: 1, vSamp: 1, blocksPerLine: 1, blocksPerCol: 1},
			{hSamp: 1, vSamp: 1, blocksPerLine: 1, blocksPerCol: 1},
		},
	}
	planes := [][]byte{
		{50, 0, 0, 0, 0, 0, 0, 0},
		{100, 0, 0, 0, 0, 0, 0, 0},
		{150, 0, 0, 0, 0, 0, 0, 0},
		{200, 0, 0, 0, 0, 0, 0, 0},
	}
	img, err := d.assembleImage(planes)
	if err != nil {
		t.Fatalf("assembleImage: %v", err)
	}
	want := []byte{39, 78, 117}
	if !bytes.Equal(img.Pix, want) {
		t.Fatalf("expected inverted CMYK-without-APP14 conversion %v, got %v", want, img.Pix)
	}
}

// buildExifOrientationSegment hand-assembles an APP1 payload (the "Exif\0\0"
// prefix plus a minimal little-endian TIFF IFD0 holding one Orientation
// entry) as a length-prefixed segment ready to decode via parseAPP1Exif.
func buildExifOrientationSegment(orientation int) []byte {
	tiff := []byte{
		'I', 'I', 0x2A, 0x00, // byte order, TIFF magic
		0x08, 0x00, 0x00, 0x00, // IFD0 offset = 8
		0x01, 0x00, // one entry
		0x12, 0x01, // tag 0x0112 (Orientation)
		0x03, 0x00, // type 3 (SHORT)
		0x01, 0x00, 0x00, 0x00, // count 1
		byte(orientation), 0x00, 0x00, 0x00, // value, left-justified
		0x00, 0x00, 0x00, 0x00, // next IFD offset
	}
	app1 := append([]byte("Exif\x00\x00"), tiff...)
	seg := make([]byte, 2, 2+len(app1))
	binary.BigEndian.PutUint16(seg, uint16(len(app1)+2))
	return append(seg, app1...)
}

// Every EXIF orientation value 1..8 must be read back from IFD0.
func TestEXIFOrientationCoverage(t *testing.T) {
	for ori := 1; ori <= 8; ori++ {
		d := &decoderState{op: "test", raw: buildExifOrientationSegment(ori)}
		if err := d.parseAPP1Exif(); err != nil {
			t.Fatalf("orientation %d: parseAPP1Exif: %v", ori, err)
		}
		if d.orientation != ori {
			t.Fatalf("orientation %d: got %d", ori, d.orientation)
		}
	}
}

// Randomly flipping single bits in an otherwise-valid JPEG must never panic:
// Decode should return either a decoded image or an imaging.Error.
func TestDecodeAdversarialBitFlips(t *testing.T) {
	src := solidRGB(16, 16, 10, 200, 40)
	var buf bytes.Buffer
	if err := Encode(&buf, src, &Options{Quality: 80}); err != nil {
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
