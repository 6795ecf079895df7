package gif

import (
	"compress/lzw"
	"encoding/binary"
	"io"

	"github.com/jrm-1535/imaging"
)

const maxPaletteColors = 256

// Encode writes img as a single-frame GIF89a: an octree-quantised palette
// (at most 256 colours), a logical screen the size of img, one image
// descriptor, and LZW-compressed indices. Transparency and
// animation metadata are not emitted by this encoder.
func Encode(w io.Writer, img *imaging.Image) error {
	const op = "gif.Encode"
	if img.Kind != imaging.RGB24 {
		return imaging.NewError(op, imaging.Argument, "gif encoder requires an RGB24 image")
	}
	if img.Width <= 0 || img.Width > 0xFFFF || img.Height <= 0 || img.Height > 0xFFFF {
		return imaging.NewError(op, imaging.Argument, "image dimensions out of GIF range")
	}

	palette, indices := quantize(img, maxPaletteColors)
	colorBits := paletteBitDepth(len(palette))

	if _, err := w.Write([]byte("GIF89a")); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}

	lsd := make([]byte, 7)
	binary.LittleEndian.PutUint16(lsd[0:2], uint16(img.Width))
	binary.LittleEndian.PutUint16(lsd[2:4], uint16(img.Height))
	lsd[4] = fColorTable | byte(colorBits-1)
	lsd[5] = 0 // background color index
	lsd[6] = 0 // no pixel aspect ratio
	if _, err := w.Write(lsd); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}

	if err := writePalette(w, palette, 1<<uint(colorBits)); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}

	desc := make([]byte, 10)
	desc[0] = sImageDescriptor
	// left, top already zero
	binary.LittleEndian.PutUint16(desc[5:7], uint16(img.Width))
	binary.LittleEndian.PutUint16(desc[7:9], uint16(img.Height))
	desc[9] = 0 // no local color table, no interlace
	if _, err := w.Write(desc); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}

	minCodeSize := lzwMinCodeSize(len(palette))
	if _, err := w.Write([]byte{byte(minCodeSize)}); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	if err := writeLZWBlocks(w, indices, minCodeSize); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}

	if _, err := w.Write([]byte{sTrailer}); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	return nil
}

// paletteBitDepth returns the number of bits needed so that 1<<bits is at
// least n, clamped to GIF's [1..8] color table size field.
func paletteBitDepth(n int) int {
	if n <= 1 {
		return 1
	}
	bits := 1
	for 1<<uint(bits) < n {
		bits++
	}
	return bits
}

func writePalette(w io.Writer, palette [][3]byte, size int) error {
	buf := make([]byte, size*3)
	for i := 0; i < size; i++ {
		if i < len(palette) {
			c := palette[i]
			buf[i*3], buf[i*3+1], buf[i*3+2] = c[0], c[1], c[2]
		}
	}
	_, err := w.Write(buf)
	return err
}

// lzwMinCodeSize picks the smallest code size in [2..8] whose alphabet
// (1<<size) covers colorCount colors "LZW min code size ∈
// [2..8]".
func lzwMinCodeSize(colorCount int) int {
	size := 2
	for 1<<uint(size) < colorCount && size < 8 {
		size++
	}
	return size
}

// writeLZWBlocks LZW-compresses indices and emits it as a GIF sub-block
// sequence: each chunk prefixed by its length, terminated by a zero-length
// block.
func writeLZWBlocks(w io.Writer, indices []byte, minCodeSize int) error {
	var packed []byte
	buf := &sliceWriter{}
	lw := lzw.NewWriter(buf, lzw.LSB, minCodeSize)
	if _, err := lw.Write(indices); err != nil {
		return err
	}
	if err := lw.Close(); err != nil {
		return err
	}
	packed = buf.data

	for len(packed) > 0 {
		n := 255
		if n > len(packed) {
			n = len(packed)
		}
		if _, err := w.Write([]byte{byte(n)}); err != nil {
			return err
		}
		if _, err := w.Write(packed[:n]); err != nil {
			return err
		}
		packed = packed[n:]
	}
	_, err := w.Write([]byte{0})
	return err
}

// sliceWriter is an in-memory io.Writer used to buffer LZW output before it
// is split into GIF's 255-byte sub-blocks.
type sliceWriter struct {
	data []byte
}

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.data = append(s.data, p...)
	return len(p), nil
}
