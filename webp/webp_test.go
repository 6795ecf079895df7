package webp

import (
	"bytes"
	"testing"

	"github.com/jrm-1535/imaging"
)

func TestMatchSignature(t *testing.T) {
	if !Match([]byte("RIFF\x00\x00\x00\x00WEBP")) {
		t.Fatal("expected RIFF/WEBP to match")
	}
	if Match([]byte{0xFF, 0xD8, 0xFF, 0xE0}) {
		t.Fatal("did not expect JPEG signature to match")
	}
	if Match([]byte("RIFF")) {
		t.Fatal("did not expect a truncated header to match")
	}
}

func TestOptionsDefaults(t *testing.T) {
	var opt *Options
	if q := opt.quality(); q != 75 {
		t.Fatalf("expected default quality 75, got %v", q)
	}
	if c := opt.concurrency(); c != Auto {
		t.Fatalf("expected default concurrency Auto, got %v", c)
	}
	opt = &Options{Quality: 200}
	if q := opt.quality(); q != 100 {
		t.Fatalf("expected quality clamped to 100, got %v", q)
	}
	opt = &Options{Quality: -5}
	if q := opt.quality(); q != 0 {
		t.Fatalf("expected quality clamped to 0, got %v", q)
	}
}

// fakeVP8L builds a minimal VP8L-shaped header (signature byte + packed
// width/height/alpha/version) so container tests can exercise the muxer
// without a real libwebp bitstream.
func fakeVP8L(width, height int, alpha bool) []byte {
	bits := uint32(width-1) | uint32(height-1)<<14
	if alpha {
		bits |= 1 << 28
	}
	return []byte{0x2f, byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}

func TestAssembleSimpleRoundTrip(t *testing.T) {
	bitstream := append(fakeVP8L(4, 4, false), 1, 2, 3) // pad with fake payload bytes
	simple := assembleSimple(bitstream)

	if !Match(simple) {
		t.Fatal("assembleSimple output does not carry a RIFF/WEBP signature")
	}
	got, err := extractSimpleBitstream(simple)
	if err != nil {
		t.Fatalf("extractSimpleBitstream: %v", err)
	}
	if !bytes.Equal(got, bitstream) {
		t.Fatalf("round trip mismatch: got %v want %v", got, bitstream)
	}
}

func TestAssembleAnimatedHasANIMAndANMF(t *testing.T) {
	frames := []muxFrame{
		{bitstream: fakeVP8L(2, 2, false), durationMS: 100},
		{bitstream: fakeVP8L(2, 2, false), durationMS: 200},
	}
	out := assembleAnimated(2, 2, 0, frames)

	if !Match(out) {
		t.Fatal("animated output does not carry a RIFF/WEBP signature")
	}
	if !bytes.Contains(out, []byte("ANIM")) {
		t.Fatal("expected an ANIM chunk in the animated container")
	}
	if c := bytes.Count(out, []byte("ANMF")); c != len(frames) {
		t.Fatalf("expected %d ANMF chunks, found %d", len(frames), c)
	}
}

func TestEncodeAnimatedRejectsMismatchedFrameCounts(t *testing.T) {
	img := imaging.NewImage(imaging.RGB24, 2, 2)
	_, err := EncodeAnimated([]*imaging.Image{img}, []int{1, 2}, 0, nil)
	if err == nil {
		t.Fatal("expected an error for mismatched delaysMS length")
	}
	e, ok := imaging.AsError(err)
	if !ok || e.Kind != imaging.Argument {
		t.Fatalf("expected Argument error, got %v", err)
	}
}

func TestEncodeRejectsUnsupportedKind(t *testing.T) {
	bad := &imaging.Image{Width: 1, Height: 1, Kind: imaging.ColorKind(99), Pix: []byte{0}}
	_, err := Encode(bad, nil)
	if err == nil {
		t.Fatal("expected an error for unsupported kind")
	}
	e, ok := imaging.AsError(err)
	if !ok || e.Kind != imaging.Argument {
		t.Fatalf("expected Argument error, got %v", err)
	}
}

// skipIfNoLibWebP lets the FFI-backed round-trip test run wherever libwebp
// is installed and skip cleanly in environments (CI containers, sandboxes)
// that don't carry the shared library.
func skipIfNoLibWebP(t *testing.T) {
	t.Helper()
	if err := loadLibWebP(); err != nil {
		t.Skipf("libwebp not available: %v", err)
	}
}

func TestEncodeDecodeRoundTripRGB(t *testing.T) {
	skipIfNoLibWebP(t)

	img := imaging.NewImage(imaging.RGB24, 8, 8)
	for i := 0; i < len(img.Pix); i += 3 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 180, 90, 30
	}
	data, err := Encode(img, &Options{Quality: 90})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Width != img.Width || got.Height != img.Height {
		t.Fatalf("dimension mismatch: got %dx%d want %dx%d", got.Width, got.Height, img.Width, img.Height)
	}
}
