// Package bmp decodes and encodes the Windows BMP container: a 14-byte file
// header, a 40-byte BITMAPINFOHEADER, an optional palette, and a row-padded
// pixel grid. Only uncompressed BI_RGB (and BI_BITFIELDS without channel
// remapping) at 8, 24 or 32 bits per pixel are supported on decode, per
//.
package bmp

import (
	"encoding/binary"
	"io"

	"github.com/jrm-1535/imaging"
	"github.com/jrm-1535/imaging/internal/bitio"
)

const (
	biRGB       = 0
	biRLE8      = 1
	biRLE4      = 2
	biBITFIELDS = 3
)

const (
	fileHeaderSize = 14
	infoHeaderSize = 40
)

// Match reports whether data begins with the 'BM' BMP signature.
func Match(data []byte) bool {
	return len(data) >= 2 && data[0] == 'B' && data[1] == 'M'
}

func getWORD(b []byte) uint32  { return uint32(binary.LittleEndian.Uint16(b)) }
func getDWORD(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// Decode reads a BMP image from r and returns it always as top-down RGB24,
//.
func Decode(r io.Reader) (*imaging.Image, error) {
	const op = "bmp.Decode"

	raw, err := bitio.SlurpAll(r)
	if err != nil {
		return nil, imaging.WrapError(op, imaging.Truncated, err)
	}
	defer bitio.PutBuffer(raw)
	if !Match(raw) {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "missing 'BM' signature")
	}
	if len(raw) < fileHeaderSize+infoHeaderSize {
		return nil, imaging.NewError(op, imaging.Truncated, "file shorter than header")
	}

	pixOffset := getDWORD(raw[10:14])
	headerSize := getDWORD(raw[14:18])
	if headerSize < infoHeaderSize {
		return nil, imaging.NewError(op, imaging.Unsupported, "unsupported DIB header size %d", headerSize)
	}

	width := int(int32(getDWORD(raw[18:22])))
	heightRaw := int32(getDWORD(raw[22:26]))
	bpp := int(getWORD(raw[28:30]))
	compression := getDWORD(raw[30:34])

	if width <= 0 {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "non-positive width %d", width)
	}
	topDown := heightRaw < 0
	height := int(heightRaw)
	if topDown {
		height = -height
	}
	if height <= 0 {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "non-positive height")
	}

	switch compression {
	case biRGB:
	case biBITFIELDS:
		// Accepted only when the bitfields describe the natural channel
		// order; we do not remap channels.
	default:
		return nil, imaging.NewError(op, imaging.Unsupported, "compressed BMP (compression=%d) not supported", compression)
	}

	var paletteStart int
	switch bpp {
	case 8, 24, 32:
	default:
		return nil, imaging.NewError(op, imaging.Unsupported, "unsupported bit depth %d", bpp)
	}

	paletteStart = fileHeaderSize + int(headerSize)
	var palette [][3]byte
	if bpp == 8 {
		nEntries := 256
		paletteBytes := nEntries * 4
		if len(raw) < paletteStart+paletteBytes {
			return nil, imaging.NewError(op, imaging.Truncated, "palette truncated")
		}
		palette = make([][3]byte, nEntries)
		for i := 0; i < nEntries; i++ {
			e := raw[paletteStart+i*4:]
			// BMP palette order is B, G, R, reserved.
			palette[i] = [3]byte{e[2], e[1], e[0]}
		}
	}

	stride := ((width*bpp + 31) / 32) * 4
	need := int(pixOffset) + stride*height
	if len(raw) < need {
		return nil, imaging.WrapError(op, imaging.Truncated, io.ErrUnexpectedEOF)
	}

	img := imaging.NewImage(imaging.RGB24, width, height)
	for row := 0; row < height; row++ {
		srcRow := row
		if !topDown {
			srcRow = height - 1 - row
		}
		src := raw[int(pixOffset)+srcRow*stride:]
		dst := img.Row(row)
		switch bpp {
		case 8:
			for x := 0; x < width; x++ {
				idx := src[x]
				if int(idx) >= len(palette) {
					return nil, imaging.NewError(op, imaging.InvalidFormat, "palette index %d out of range", idx)
				}
				c := palette[idx]
				dst[x*3], dst[x*3+1], dst[x*3+2] = c[0], c[1], c[2]
			}
		case 24:
			for x := 0; x < width; x++ {
				b, g, r := src[x*3], src[x*3+1], src[x*3+2]
				dst[x*3], dst[x*3+1], dst[x*3+2] = r, g, b
			}
		case 32:
			for x := 0; x < width; x++ {
				b, g, r := src[x*4], src[x*4+1], src[x*4+2]
				dst[x*3], dst[x*3+1], dst[x*3+2] = r, g, b
			}
		}
	}
	return img, nil
}

// Encode writes img as a BMP file. bpp selects the pixel depth: 24 writes a
// direct BGR row; 8 writes an identity greyscale palette plus indices built
// from the image's red channel (the image is expected to already be
// achromatic in that case, as produced by a grey-ramp source). Rows are
// written bottom-up with zero padding to a 4-byte stride.
func Encode(w io.Writer, img *imaging.Image, bpp int) error {
	const op = "bmp.Encode"
	if bpp != 8 && bpp != 24 {
		return imaging.NewError(op, imaging.Argument, "unsupported encode bit depth %d", bpp)
	}
	if img.Kind != imaging.RGB24 {
		return imaging.NewError(op, imaging.Argument, "bmp encoder requires an RGB24 image")
	}

	width, height := img.Width, img.Height
	stride := ((width*bpp + 31) / 32) * 4
	var paletteSize int
	if bpp == 8 {
		paletteSize = 256 * 4
	}
	pixOffset := fileHeaderSize + infoHeaderSize + paletteSize
	fileSize := pixOffset + stride*height

	buf := make([]byte, fileHeaderSize+infoHeaderSize+paletteSize)
	buf[0], buf[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(buf[2:6], uint32(fileSize))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(pixOffset))

	binary.LittleEndian.PutUint32(buf[14:18], infoHeaderSize)
	binary.LittleEndian.PutUint32(buf[18:22], uint32(width))
	binary.LittleEndian.PutUint32(buf[22:26], uint32(height)) // positive: bottom-up
	binary.LittleEndian.PutUint16(buf[26:28], 1)              // planes
	binary.LittleEndian.PutUint16(buf[28:30], uint16(bpp))
	binary.LittleEndian.PutUint32(buf[30:34], biRGB)
	binary.LittleEndian.PutUint32(buf[34:38], uint32(stride*height))

	if bpp == 8 {
		palStart := fileHeaderSize + infoHeaderSize
		for i := 0; i < 256; i++ {
			e := buf[palStart+i*4:]
			e[0], e[1], e[2], e[3] = byte(i), byte(i), byte(i), 0
		}
	}
	if _, err := w.Write(buf); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}

	row := make([]byte, stride)
	for y := height - 1; y >= 0; y-- {
		src := img.Row(y)
		switch bpp {
		case 8:
			for x := 0; x < width; x++ {
				row[x] = src[x*3] // grey ramp: r==g==b, use r
			}
		case 24:
			for x := 0; x < width; x++ {
				r, g, b := src[x*3], src[x*3+1], src[x*3+2]
				row[x*3], row[x*3+1], row[x*3+2] = b, g, r
			}
		}
		for i := width * (bpp / 8); i < stride; i++ {
			row[i] = 0
		}
		if _, err := w.Write(row); err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
	}
	return nil
}
