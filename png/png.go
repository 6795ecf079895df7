// Package png decodes and encodes the PNG container per ISO/IEC 15948:
// signature, length-prefixed CRC32-checked chunks, a zlib-compressed IDAT
// stream, per-scanline filtering, optional Adam7 interlacing, and palette,
// grayscale or truecolor samples at 1/2/4/8/16 bits.
package png

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/jrm-1535/imaging"
	"github.com/jrm-1535/imaging/internal/bitio"
)

var signature = [8]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const (
	ctGrayscale      = 0
	ctTrueColor      = 2
	ctIndexed        = 3
	ctGrayscaleAlpha = 4
	ctTrueColorAlpha = 6
)

const (
	fNone = iota
	fSub
	fUp
	fAverage
	fPaeth
)

// Match reports whether data begins with the 8-byte PNG signature.
func Match(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:8], signature[:])
}

type chunk struct {
	typ  string
	data []byte
}

// readChunks splits the post-signature bytes of a PNG stream into its
// length-prefixed, CRC32-checked chunks.
func readChunks(raw []byte) ([]chunk, error) {
	const op = "png.readChunks"
	var chunks []chunk
	pos := 0
	for {
		if pos == len(raw) {
			return chunks, nil
		}
		if pos+8 > len(raw) {
			return nil, imaging.NewError(op, imaging.Truncated, "chunk header truncated")
		}
		length := binary.BigEndian.Uint32(raw[pos : pos+4])
		typ := string(raw[pos+4 : pos+8])
		dataStart := pos + 8
		dataEnd := dataStart + int(length)
		if length > 0x7fffffff || dataEnd+4 > len(raw) {
			return nil, imaging.NewError(op, imaging.Truncated, "chunk %q data truncated", typ)
		}
		data := raw[dataStart:dataEnd]
		wantCRC := binary.BigEndian.Uint32(raw[dataEnd : dataEnd+4])
		crc := crc32.NewIEEE()
		crc.Write(raw[pos+4 : dataEnd])
		if crc.Sum32() != wantCRC {
			return nil, imaging.NewError(op, imaging.IntegrityFailure, "chunk %q CRC mismatch", typ)
		}
		chunks = append(chunks, chunk{typ: typ, data: data})
		pos = dataEnd + 4
		if typ == "IEND" {
			return chunks, nil
		}
	}
}

type header struct {
	width, height int
	bitDepth      int
	colorType     int
	interlace     int
}

func parseIHDR(data []byte) (header, error) {
	const op = "png.parseIHDR"
	if len(data) != 13 {
		return header{}, imaging.NewError(op, imaging.InvalidFormat, "bad IHDR length %d", len(data))
	}
	w := int32(binary.BigEndian.Uint32(data[0:4]))
	h := int32(binary.BigEndian.Uint32(data[4:8]))
	if w <= 0 || h <= 0 {
		return header{}, imaging.NewError(op, imaging.InvalidFormat, "non-positive dimension")
	}
	if data[10] != 0 {
		return header{}, imaging.NewError(op, imaging.Unsupported, "unsupported compression method %d", data[10])
	}
	if data[11] != 0 {
		return header{}, imaging.NewError(op, imaging.Unsupported, "unsupported filter method %d", data[11])
	}
	interlace := int(data[12])
	if interlace != 0 && interlace != 1 {
		return header{}, imaging.NewError(op, imaging.Unsupported, "unsupported interlace method %d", interlace)
	}
	h2 := header{
		width:     int(w),
		height:    int(h),
		bitDepth:  int(data[8]),
		colorType: int(data[9]),
		interlace: interlace,
	}
	if !validDepthForColorType(h2.bitDepth, h2.colorType) {
		return header{}, imaging.NewError(op, imaging.Unsupported, "bit depth %d invalid for color type %d", h2.bitDepth, h2.colorType)
	}
	return h2, nil
}

func validDepthForColorType(depth, colorType int) bool {
	switch colorType {
	case ctGrayscale:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8 || depth == 16
	case ctTrueColor, ctGrayscaleAlpha, ctTrueColorAlpha:
		return depth == 8 || depth == 16
	case ctIndexed:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8
	}
	return false
}

// samplesPerPixel is the number of channel samples the format stores per
// pixel (not necessarily the output Image's channel count).
func samplesPerPixel(colorType int) int {
	switch colorType {
	case ctGrayscale:
		return 1
	case ctTrueColor:
		return 3
	case ctIndexed:
		return 1
	case ctGrayscaleAlpha:
		return 2
	case ctTrueColorAlpha:
		return 4
	}
	return 0
}

// Decode reads a PNG image and returns it as Gray8 (plain grayscale, no
// transparency), RGB24 (truecolor or palette, no transparency) or RGBA32
// (any color type carrying an alpha channel via the alpha samples or a
// tRNS chunk).
func Decode(r io.Reader) (*imaging.Image, error) {
	const op = "png.Decode"

	raw, err := bitio.SlurpAll(r)
	if err != nil {
		return nil, imaging.WrapError(op, imaging.Truncated, err)
	}
	defer bitio.PutBuffer(raw)
	if !Match(raw) {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "missing PNG signature")
	}
	chunks, err := readChunks(raw[8:])
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 || chunks[0].typ != "IHDR" {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "missing IHDR")
	}
	hdr, err := parseIHDR(chunks[0].data)
	if err != nil {
		return nil, err
	}

	var (
		palette     [][3]byte
		trns        []byte    // per-palette-index alpha (ctIndexed)
		trnsKey     [3]uint16 // single-color transparency key, raw sample values
		haveTrnsKey bool
		idat        []byte
		meta        imaging.Metadata
	)
	for _, c := range chunks[1:] {
		switch c.typ {
		case "PLTE":
			if len(c.data)%3 != 0 {
				return nil, imaging.NewError(op, imaging.InvalidFormat, "bad PLTE length")
			}
			n := len(c.data) / 3
			palette = make([][3]byte, n)
			for i := 0; i < n; i++ {
				palette[i] = [3]byte{c.data[i*3], c.data[i*3+1], c.data[i*3+2]}
			}
		case "tRNS":
			switch hdr.colorType {
			case ctIndexed:
				trns = append([]byte(nil), c.data...)
			case ctGrayscale:
				if len(c.data) >= 2 {
					trnsKey[0] = binary.BigEndian.Uint16(c.data[0:2])
					haveTrnsKey = true
				}
			case ctTrueColor:
				if len(c.data) >= 6 {
					trnsKey[0] = binary.BigEndian.Uint16(c.data[0:2])
					trnsKey[1] = binary.BigEndian.Uint16(c.data[2:4])
					trnsKey[2] = binary.BigEndian.Uint16(c.data[4:6])
					haveTrnsKey = true
				}
			}
		case "sRGB":
			meta.ICC = imaging.ICCSRGB
		case "iCCP":
			profile, ok := decodeICCP(c.data)
			if ok {
				meta.ICC = imaging.ICCEmbedded
				meta.ICCProfile = profile
			}
		case "IDAT":
			idat = append(idat, c.data...)
		}
	}
	if hdr.colorType == ctIndexed && len(palette) == 0 {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "indexed color requires a PLTE chunk")
	}
	if len(idat) == 0 {
		return nil, imaging.NewError(op, imaging.Truncated, "no IDAT data")
	}

	zr, err := zlib.NewReader(bytes.NewReader(idat))
	if err != nil {
		return nil, imaging.WrapError(op, imaging.InvalidFormat, err)
	}
	defer zr.Close()
	decompressed, err := io.ReadAll(zr)
	if err != nil {
		return nil, imaging.WrapError(op, imaging.InvalidFormat, err)
	}

	spp := samplesPerPixel(hdr.colorType)
	var planes [][]byte // one per Adam7 pass (or a single full-image plane)
	var passDims [][2]int
	if hdr.interlace == 1 {
		passDims = adam7PassDims(hdr.width, hdr.height)
	} else {
		passDims = [][2]int{{hdr.width, hdr.height}}
	}

	offset := 0
	for _, dim := range passDims {
		w, h := dim[0], dim[1]
		if w == 0 || h == 0 {
			planes = append(planes, nil)
			continue
		}
		bitsPerPixel := hdr.bitDepth * spp
		rowBytes := (w*bitsPerPixel + 7) / 8
		bpp := (bitsPerPixel + 7) / 8
		if bpp < 1 {
			bpp = 1
		}
		plane, n, err := unfilter(decompressed[offset:], w, h, rowBytes, bpp)
		if err != nil {
			return nil, imaging.WrapError(op, imaging.InvalidFormat, err)
		}
		offset += n
		planes = append(planes, plane)
	}

	var indices []byte // unpacked, one byte per sample per pixel, un-deinterlaced
	if hdr.interlace == 1 {
		indices = adam7Recombine(planes, hdr.width, hdr.height, hdr.bitDepth, spp)
	} else {
		indices = unpackSamples(planes[0], hdr.width, hdr.height, hdr.bitDepth, spp)
	}

	img, err := buildImage(hdr, palette, trns, trnsKey, haveTrnsKey, indices)
	if err != nil {
		return nil, err
	}
	img.Meta = meta
	return img, nil
}

// unfilter removes the per-scanline PNG filter (None/Sub/Up/Average/Paeth)
// from h rows of rowBytes raw bytes each (plus one filter-type byte per
// row), returning the reconstructed plane and the number of bytes consumed
// from src.
func unfilter(src []byte, w, h, rowBytes, bpp int) ([]byte, int, error) {
	out := make([]byte, h*rowBytes)
	prev := make([]byte, rowBytes)
	pos := 0
	for y := 0; y < h; y++ {
		if pos >= len(src) {
			return nil, 0, io.ErrUnexpectedEOF
		}
		ft := src[pos]
		pos++
		if pos+rowBytes > len(src) {
			return nil, 0, io.ErrUnexpectedEOF
		}
		cur := out[y*rowBytes : (y+1)*rowBytes]
		copy(cur, src[pos:pos+rowBytes])
		pos += rowBytes
		switch ft {
		case fNone:
		case fSub:
			for i := bpp; i < rowBytes; i++ {
				cur[i] += cur[i-bpp]
			}
		case fUp:
			for i := 0; i < rowBytes; i++ {
				cur[i] += prev[i]
			}
		case fAverage:
			for i := 0; i < rowBytes; i++ {
				var left byte
				if i >= bpp {
					left = cur[i-bpp]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case fPaeth:
			for i := 0; i < rowBytes; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, 0, imaging.NewError("png.unfilter", imaging.InvalidFormat, "bad filter type %d", ft)
		}
		copy(prev, cur)
	}
	return out, pos, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// unpackSamples expands a filtered plane's packed bit-depth samples into
// one byte per sample per pixel, row-major, channel-interleaved.
func unpackSamples(plane []byte, w, h, bitDepth, spp int) []byte {
	out := make([]byte, w*h*spp)
	rowBytes := (w*bitDepth*spp + 7) / 8
	scale := func(v uint32) byte {
		switch bitDepth {
		case 1:
			return byte(v * 255)
		case 2:
			return byte(v * 85)
		case 4:
			return byte(v * 17)
		case 8:
			return byte(v)
		case 16:
			return byte(v >> 8)
		}
		return byte(v)
	}
	for y := 0; y < h; y++ {
		row := plane[y*rowBytes : (y+1)*rowBytes]
		bitPos := 0
		for x := 0; x < w*spp; x++ {
			var v uint32
			switch bitDepth {
			case 16:
				byteIdx := (x * 2)
				v = uint32(row[byteIdx])<<8 | uint32(row[byteIdx+1])
			case 8:
				v = uint32(row[x])
			default:
				v = readBits(row, bitPos, bitDepth)
				bitPos += bitDepth
			}
			out[y*w*spp+x] = scale(v)
		}
	}
	return out
}

func readBits(row []byte, bitPos, n int) uint32 {
	byteIdx := bitPos / 8
	shift := 8 - n - (bitPos % 8)
	mask := byte(1<<uint(n) - 1)
	return uint32((row[byteIdx] >> uint(shift)) & mask)
}

// buildImage maps unpacked, 8-bit-normalized samples (or raw palette
// indices for ctIndexed, still one byte per pixel) to an Image, applying
// the color-type and tRNS transparency rules.
func buildImage(hdr header, palette [][3]byte, trns []byte, trnsKey [3]uint16, haveTrnsKey bool, samples []byte) (*imaging.Image, error) {
	const op = "png.buildImage"
	w, h := hdr.width, hdr.height

	switch hdr.colorType {
	case ctGrayscale:
		if !haveTrnsKey {
			img := imaging.NewImage(imaging.Gray8, w, h)
			copy(img.Pix, samples)
			return img, nil
		}
		key := scaleKeyToOutputByte(trnsKey[0], hdr.bitDepth)
		img := imaging.NewImage(imaging.RGBA32, w, h)
		for i := 0; i < w*h; i++ {
			g := samples[i]
			a := byte(255)
			if g == key {
				a = 0
			}
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = g, g, g, a
		}
		return img, nil

	case ctTrueColor:
		if !haveTrnsKey {
			img := imaging.NewImage(imaging.RGB24, w, h)
			copy(img.Pix, samples)
			return img, nil
		}
		kr := scaleKeyToOutputByte(trnsKey[0], hdr.bitDepth)
		kg := scaleKeyToOutputByte(trnsKey[1], hdr.bitDepth)
		kb := scaleKeyToOutputByte(trnsKey[2], hdr.bitDepth)
		img := imaging.NewImage(imaging.RGBA32, w, h)
		for i := 0; i < w*h; i++ {
			r, g, b := samples[i*3], samples[i*3+1], samples[i*3+2]
			a := byte(255)
			if r == kr && g == kg && b == kb {
				a = 0
			}
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = r, g, b, a
		}
		return img, nil

	case ctIndexed:
		hasAlpha := len(trns) > 0
		if hasAlpha {
			img := imaging.NewImage(imaging.RGBA32, w, h)
			for i := 0; i < w*h; i++ {
				idx := samples[i]
				if int(idx) >= len(palette) {
					return nil, imaging.NewError(op, imaging.InvalidFormat, "palette index %d out of range", idx)
				}
				c := palette[idx]
				a := byte(255)
				if int(idx) < len(trns) {
					a = trns[idx]
				}
				img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = c[0], c[1], c[2], a
			}
			return img, nil
		}
		img := imaging.NewImage(imaging.RGB24, w, h)
		for i := 0; i < w*h; i++ {
			idx := samples[i]
			if int(idx) >= len(palette) {
				return nil, imaging.NewError(op, imaging.InvalidFormat, "palette index %d out of range", idx)
			}
			c := palette[idx]
			img.Pix[i*3], img.Pix[i*3+1], img.Pix[i*3+2] = c[0], c[1], c[2]
		}
		return img, nil

	case ctGrayscaleAlpha:
		img := imaging.NewImage(imaging.RGBA32, w, h)
		for i := 0; i < w*h; i++ {
			g, a := samples[i*2], samples[i*2+1]
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = g, g, g, a
		}
		return img, nil

	case ctTrueColorAlpha:
		img := imaging.NewImage(imaging.RGBA32, w, h)
		copy(img.Pix, samples)
		return img, nil
	}
	return nil, imaging.NewError(op, imaging.Unsupported, "unsupported color type %d", hdr.colorType)
}

// scaleKeyToOutputByte maps a tRNS key sample (expressed at the image's
// native bit depth) down to the same 8-bit scale unpackSamples produced.
func scaleKeyToOutputByte(v uint16, bitDepth int) byte {
	switch bitDepth {
	case 1:
		return byte(v * 255)
	case 2:
		return byte(v * 85)
	case 4:
		return byte(v * 17)
	case 8:
		return byte(v)
	case 16:
		return byte(v >> 8)
	}
	return byte(v)
}

// decodeICCP decompresses an iCCP chunk's embedded profile: a null-terminated
// profile name, a one-byte compression method (always 0), then a zlib stream.
func decodeICCP(data []byte) ([]byte, bool) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 || nul+2 > len(data) {
		return nil, false
	}
	if data[nul+1] != 0 {
		return nil, false
	}
	zr, err := zlib.NewReader(bytes.NewReader(data[nul+2:]))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	profile, err := io.ReadAll(zr)
	if err != nil {
		return nil, false
	}
	return profile, true
}

// encodeICCP builds an iCCP chunk payload: a profile name, its null
// terminator, a one-byte compression method (0, deflate), then the
// zlib-compressed profile, mirroring decodeICCP's layout.
func encodeICCP(profile []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("icc")
	buf.WriteByte(0)
	buf.WriteByte(0)
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(profile); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes img as a PNG file: IHDR, an sRGB or iCCP chunk if img.Meta
// carries color metadata, a single zlib-compressed IDAT built from an
// Up-filtered scanline stream, and IEND.
func Encode(w io.Writer, img *imaging.Image) error {
	const op = "png.Encode"

	var colorType int
	var channels int
	switch img.Kind {
	case imaging.Gray8:
		colorType, channels = ctGrayscale, 1
	case imaging.RGB24:
		colorType, channels = ctTrueColor, 3
	case imaging.RGBA32:
		colorType, channels = ctTrueColorAlpha, 4
	default:
		return imaging.NewError(op, imaging.Argument, "unsupported image kind for PNG encode")
	}

	if _, err := w.Write(signature[:]); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(img.Width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(img.Height))
	ihdr[8] = 8 // bit depth
	ihdr[9] = byte(colorType)
	ihdr[10] = 0 // compression
	ihdr[11] = 0 // filter
	ihdr[12] = 0 // no interlace
	if err := writeChunk(w, "IHDR", ihdr); err != nil {
		return err
	}

	// Color metadata: an sRGB chunk (rendering intent 0, perceptual) takes
	// priority over an embedded ICC profile; the two never coexist in one
	// file. Metadata.ICC defaults to ICCNone, which writes neither chunk.
	switch img.Meta.ICC {
	case imaging.ICCSRGB:
		if err := writeChunk(w, "sRGB", []byte{0}); err != nil {
			return err
		}
	case imaging.ICCEmbedded:
		if len(img.Meta.ICCProfile) > 0 {
			iccp, err := encodeICCP(img.Meta.ICCProfile)
			if err != nil {
				return imaging.WrapError(op, imaging.Truncated, err)
			}
			if err := writeChunk(w, "iCCP", iccp); err != nil {
				return err
			}
		}
	}

	rowBytes := img.Width * channels
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	prev := make([]byte, rowBytes)
	filtered := make([]byte, rowBytes)
	for y := 0; y < img.Height; y++ {
		row := img.Row(y)
		for i := 0; i < rowBytes; i++ {
			filtered[i] = row[i] - prev[i]
		}
		if _, err := zw.Write([]byte{fUp}); err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
		if _, err := zw.Write(filtered); err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
		copy(prev, row)
	}
	if err := zw.Close(); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	if err := writeChunk(w, "IDAT", zbuf.Bytes()); err != nil {
		return err
	}
	return writeChunk(w, "IEND", nil)
}

func writeChunk(w io.Writer, typ string, data []byte) error {
	const op = "png.writeChunk"
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	if _, err := w.Write([]byte(typ)); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc.Sum32())
	if _, err := w.Write(crcBuf[:]); err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	return nil
}
