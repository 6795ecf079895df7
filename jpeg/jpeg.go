// Package jpeg decodes and encodes the JPEG/JFIF container (ITU-T T.81):
// baseline and progressive Huffman-coded frames, quantisation and Huffman
// tables, MCU-based scan decoding, IDCT, chroma upsampling, YCbCr/CMYK/YCCK
// to RGB conversion, EXIF APP1 orientation and Adobe APP14 transform
// recognition.
package jpeg

import (
	"io"

	"github.com/jrm-1535/imaging"
	"github.com/jrm-1535/imaging/internal/bitio"
)

// Match reports whether data begins with the SOI marker. The segment that
// follows SOI (JFIF, Exif or none at all) is not inspected.
func Match(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8
}

const (
	mSOI   = 0xD8
	mEOI   = 0xD9
	mSOS   = 0xDA
	mDQT   = 0xDB
	mDHT   = 0xC4
	mDRI   = 0xDD
	mDNL   = 0xDC
	mCOM   = 0xFE
	mAPP0  = 0xE0
	mAPP1  = 0xE1
	mAPP2  = 0xE2
	mAPP14 = 0xEE

	// SOFn frame markers. SOF0 is baseline; SOF1 is extended sequential;
	// SOF2 is progressive. SOF4, SOF8, SOF12 are reserved and never appear.
	mSOF0 = 0xC0
	mSOF1 = 0xC1
	mSOF2 = 0xC2
)

// component describes one SOF component: its sampling factors relative to
// the frame's maximum, and which quantisation table it dequantises with.
type component struct {
	id       byte
	hSamp    int
	vSamp    int
	quantSel int

	dcPred int32 // running DC predictor for baseline / first progressive DC scan

	// blocksPerLine/blocksPerCol are the padded, MCU-aligned block grid
	// dimensions for this component's own sampling factor.
	blocksPerLine int
	blocksPerCol  int
	coeffs        []block // blocksPerCol*blocksPerLine blocks, row-major

	eobrun int // progressive AC end-of-band run, carried across MCUs/blocks
}

// block is one 8x8 DCT coefficient array, natural (not zig-zag) order.
type block [64]int32

type quantTable struct {
	values [64]uint16 // natural order (already un-zig-zagged)
}

type huffTable struct {
	root *hcnode
	fast [1 << fastBits]fastEntry
}

type frameHeader struct {
	precision   int
	height      int
	width       int
	progressive bool
	components  []component
	maxH, maxV  int
	mcusPerLine int
	mcusPerCol  int
}

type scanComponent struct {
	comp    *component
	dcTable *huffTable
	acTable *huffTable
}

type decoderState struct {
	op  string
	raw []byte
	pos int

	qtables  [4]*quantTable
	dcTables [4]*huffTable
	acTables [4]*huffTable

	restartInterval int
	adobeTransform  int // -1: no Adobe marker seen
	orientation     int

	frame *frameHeader
}

func (d *decoderState) u8() (byte, error) {
	if d.pos >= len(d.raw) {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.raw[d.pos]
	d.pos++
	return b, nil
}

func (d *decoderState) u16() (int, error) {
	if d.pos+2 > len(d.raw) {
		return 0, io.ErrUnexpectedEOF
	}
	v := int(d.raw[d.pos])<<8 | int(d.raw[d.pos+1])
	d.pos += 2
	return v, nil
}

func (d *decoderState) bytes(n int) ([]byte, error) {
	if d.pos+n > len(d.raw) {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.raw[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// Decode reads a single-frame JPEG image (baseline or progressive) and
// returns it as RGB24 (or Gray8 for single-component frames), with EXIF
// orientation applied to Meta.Orientation rather than to the pixels
// themselves.
func Decode(r io.Reader) (*imaging.Image, error) {
	const op = "jpeg.Decode"

	raw, err := bitio.SlurpAll(r)
	if err != nil {
		return nil, imaging.WrapError(op, imaging.Truncated, err)
	}
	defer bitio.PutBuffer(raw)
	if !Match(raw) {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "missing SOI marker")
	}

	d := &decoderState{op: op, raw: raw, pos: 2, adobeTransform: -1, orientation: 1}

	var samples [][]byte // one dequantised+IDCT'd 8-bit plane per component, full-res (pre-upsample)
	var sawEOI bool

	for !sawEOI {
		marker, err := d.nextMarker()
		if err != nil {
			return nil, imaging.WrapError(op, imaging.Truncated, err)
		}
		switch marker {
		case mEOI:
			sawEOI = true

		case mDQT:
			if err := d.parseDQT(); err != nil {
				return nil, err
			}
		case mDHT:
			if err := d.parseDHT(); err != nil {
				return nil, err
			}
		case mDRI:
			if err := d.parseDRI(); err != nil {
				return nil, err
			}
		case mSOF0, mSOF1:
			if err := d.parseSOF(false); err != nil {
				return nil, err
			}
		case mSOF2:
			if err := d.parseSOF(true); err != nil {
				return nil, err
			}
		case mAPP1:
			if err := d.parseAPP1Exif(); err != nil {
				return nil, err
			}
		case mAPP14:
			if err := d.parseAdobeAPP14(); err != nil {
				return nil, err
			}
		case mAPP0, mAPP2, mCOM:
			if err := d.skipSegment(); err != nil {
				return nil, err
			}
		case mSOS:
			if d.frame == nil {
				return nil, imaging.NewError(op, imaging.InvalidFormat, "SOS before SOF")
			}
			if err := d.decodeScan(); err != nil {
				return nil, err
			}
		default:
			if marker >= 0xE0 && marker <= 0xEF {
				if err := d.skipSegment(); err != nil {
					return nil, err
				}
				break
			}
			if marker == mDNL {
				if err := d.skipSegment(); err != nil {
					return nil, err
				}
				break
			}
			return nil, imaging.NewError(op, imaging.Unsupported, "unsupported marker 0xFF%02X", marker)
		}
	}

	if d.frame == nil {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "no frame header found")
	}

	samples, err = d.reconstructComponents()
	if err != nil {
		return nil, err
	}

	img, err := d.assembleImage(samples)
	if err != nil {
		return nil, err
	}
	img.Meta.Orientation = d.orientation
	return img, nil
}

// DecodeRGBA reads a JPEG image like Decode, then widens the result to
// RGBA32 with a fully opaque alpha channel. JPEG carries no native alpha
// channel; this exists for callers that standardise on a 4-channel buffer
// regardless of source component count.
func DecodeRGBA(r io.Reader) (*imaging.Image, error) {
	img, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return toRGBA32(img), nil
}

// toRGBA32 widens a Gray8 or RGB24 image to RGBA32, alpha 255 throughout.
func toRGBA32(img *imaging.Image) *imaging.Image {
	out := imaging.NewImage(imaging.RGBA32, img.Width, img.Height)
	out.Meta = img.Meta
	switch img.Kind {
	case imaging.Gray8:
		for i, v := range img.Pix {
			o := i * 4
			out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = v, v, v, 255
		}
	case imaging.RGB24:
		for i := 0; i < len(img.Pix)/3; i++ {
			s, o := i*3, i*4
			out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = img.Pix[s], img.Pix[s+1], img.Pix[s+2], 255
		}
	}
	return out
}

// nextMarker scans forward past fill bytes (0xFF 0xFF) to the next marker
// and returns its second byte (the marker code, e.g. 0xD8 for SOI).
func (d *decoderState) nextMarker() (byte, error) {
	for {
		b, err := d.u8()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			continue
		}
		for {
			m, err := d.u8()
			if err != nil {
				return 0, err
			}
			if m == 0xFF {
				continue // fill byte
			}
			if m == 0x00 {
				continue // stuffed byte outside entropy data, ignore
			}
			return m, nil
		}
	}
}

// skipSegment skips a length-prefixed segment whose 2-byte length (including
// itself) follows the marker, without interpreting its payload.
func (d *decoderState) skipSegment() error {
	length, err := d.u16()
	if err != nil {
		return imaging.WrapError(d.op, imaging.Truncated, err)
	}
	if length < 2 {
		return imaging.NewError(d.op, imaging.InvalidFormat, "segment length too small")
	}
	if _, err := d.bytes(length - 2); err != nil {
		return imaging.WrapError(d.op, imaging.Truncated, err)
	}
	return nil
}
