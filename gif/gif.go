// Package gif decodes the GIF87a/89a container — logical screen, global and
// local color tables, LZW-compressed frames, disposal-aware animation
// composition — and encodes a single still frame with an octree-quantised
// palette.
package gif

import (
	"compress/lzw"
	"io"

	"github.com/jrm-1535/imaging"
	"github.com/jrm-1535/imaging/internal/bitio"
)

// Disposal is the per-frame directive telling the decoder what to do with
// the frame's rectangle before composing the next one.
type Disposal int

const (
	DisposalNone       Disposal = iota // leave the frame in place
	DisposalBackground                 // clear the rect to the background color
	DisposalPrevious                   // restore the previously saved snapshot
)

// Frame is one decoded animation frame, always expanded to RGB24 over the
// full logical screen, together with its display delay.
type Frame struct {
	Image   *imaging.Image
	DelayCS int // delay in centiseconds
}

// Animation is the result of DecodeAll: every frame plus the NETSCAPE2.0
// loop count (0 means loop forever).
type Animation struct {
	Frames    []Frame
	LoopCount int
}

const (
	sExtension       = 0x21
	sImageDescriptor = 0x2C
	sTrailer         = 0x3B

	eGraphicControl = 0xF9
	eApplication    = 0xFF

	fColorTable         = 1 << 7
	fInterlace          = 1 << 6
	fColorTableBitsMask = 7
)

// Match reports whether data begins with a GIF87a or GIF89a signature.
func Match(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	s := string(data[:6])
	return s == "GIF87a" || s == "GIF89a"
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte() (byte, bool) {
	if r.pos >= len(r.data) {
		return 0, false
	}
	b := r.data[r.pos]
	r.pos++
	return b, true
}

func (r *reader) bytes(n int) ([]byte, bool) {
	if r.pos+n > len(r.data) {
		return nil, false
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

// skipBlocks consumes a sub-block sequence (length byte + data, terminated
// by a zero-length block) without interpreting it: used for comment and
// plain-text extensions, which are skipped outright.
func (r *reader) skipBlocks() bool {
	for {
		n, ok := r.byte()
		if !ok {
			return false
		}
		if n == 0 {
			return true
		}
		if _, ok := r.bytes(int(n)); !ok {
			return false
		}
	}
}

// readBlocks concatenates a sub-block sequence into one buffer (used for
// LZW frame data and application extension payloads).
func (r *reader) readBlocks() ([]byte, bool) {
	var out []byte
	for {
		n, ok := r.byte()
		if !ok {
			return nil, false
		}
		if n == 0 {
			return out, true
		}
		b, ok := r.bytes(int(n))
		if !ok {
			return nil, false
		}
		out = append(out, b...)
	}
}

func readPalette(r *reader, n int) ([][3]byte, bool) {
	b, ok := r.bytes(n * 3)
	if !ok {
		return nil, false
	}
	pal := make([][3]byte, n)
	for i := 0; i < n; i++ {
		pal[i] = [3]byte{b[i*3], b[i*3+1], b[i*3+2]}
	}
	return pal, true
}

type imageDescriptor struct {
	left, top, width, height int
	localPalette             [][3]byte
	interlaced               bool
}

// deinterlace reorders an Adam7-free GIF interlaced index buffer (4 passes,
// row groups 0,8,16,...; 4,12,...; 2,6,...; 1,3,5,...) into top-down order.
func deinterlace(src []byte, width, height int) []byte {
	out := make([]byte, len(src))
	starts := []int{0, 4, 2, 1}
	steps := []int{8, 8, 4, 2}
	row := 0
	for pass := 0; pass < 4; pass++ {
		for y := starts[pass]; y < height; y += steps[pass] {
			copy(out[y*width:(y+1)*width], src[row*width:(row+1)*width])
			row++
		}
	}
	return out
}

// DecodeAll parses the full GIF stream and composes every frame onto the
// logical screen, applying disposal between frames.
func DecodeAll(rd io.Reader) (*Animation, error) {
	const op = "gif.DecodeAll"

	raw, err := bitio.SlurpAll(rd)
	if err != nil {
		return nil, imaging.WrapError(op, imaging.Truncated, err)
	}
	defer bitio.PutBuffer(raw)
	if !Match(raw) {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "missing GIF signature")
	}

	r := &reader{data: raw, pos: 6}
	lsd, ok := r.bytes(7)
	if !ok {
		return nil, imaging.NewError(op, imaging.Truncated, "logical screen descriptor truncated")
	}
	screenW := int(lsd[0]) | int(lsd[1])<<8
	screenH := int(lsd[2]) | int(lsd[3])<<8
	if screenW <= 0 || screenH <= 0 {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "non-positive logical screen size")
	}
	fields := lsd[4]
	bgIndex := int(lsd[5])

	var globalPalette [][3]byte
	if fields&fColorTable != 0 {
		n := 1 << (uint(fields&fColorTableBitsMask) + 1)
		globalPalette, ok = readPalette(r, n)
		if !ok {
			return nil, imaging.NewError(op, imaging.Truncated, "global color table truncated")
		}
	}

	bg := [3]byte{}
	if bgIndex < len(globalPalette) {
		bg = globalPalette[bgIndex]
	}

	canvas := imaging.NewImage(imaging.RGB24, screenW, screenH)
	fillCanvas(canvas, bg)

	var (
		anim           Animation
		loopCount      = -1 // -1: no NETSCAPE block seen; reported as 0 once decoding ends
		curDelay       int
		curTransparent = -1
		curDisposal    Disposal // disposal requested by the GCE for the frame about to be drawn
		prevDisposal   Disposal // disposal requested by the previously drawn frame, applied now
		savedSnapshot  *imaging.Image
		savedRect      [4]int
	)

loop:
	for {
		c, ok := r.byte()
		if !ok {
			return nil, imaging.WrapError(op, imaging.Truncated, io.ErrUnexpectedEOF)
		}
		switch c {
		case sTrailer:
			break loop

		case sExtension:
			label, ok := r.byte()
			if !ok {
				return nil, imaging.NewError(op, imaging.Truncated, "extension truncated")
			}
			switch label {
			case eGraphicControl:
				blk, ok := r.bytes(1)
				if !ok || blk[0] != 4 {
					return nil, imaging.NewError(op, imaging.InvalidFormat, "bad graphic control block size")
				}
				data, ok := r.bytes(4)
				if !ok {
					return nil, imaging.NewError(op, imaging.Truncated, "graphic control data truncated")
				}
				term, ok := r.byte()
				if !ok || term != 0 {
					return nil, imaging.NewError(op, imaging.InvalidFormat, "graphic control not block-terminated")
				}
				curDisposal = Disposal((data[0] >> 2) & 0x07)
				transparentFlag := data[0]&0x01 != 0
				curDelay = int(data[1]) | int(data[2])<<8
				if transparentFlag {
					curTransparent = int(data[3])
				} else {
					curTransparent = -1
				}

			case eApplication:
				blk, ok := r.bytes(1)
				if !ok || blk[0] != 11 {
					if !ok {
						return nil, imaging.NewError(op, imaging.Truncated, "application extension truncated")
					}
					if _, ok := r.bytes(int(blk[0])); !ok {
						return nil, imaging.NewError(op, imaging.Truncated, "application extension truncated")
					}
					if !r.skipBlocks() {
						return nil, imaging.NewError(op, imaging.Truncated, "application extension truncated")
					}
					continue loop
				}
				appID, ok := r.bytes(11)
				if !ok {
					return nil, imaging.NewError(op, imaging.Truncated, "application id truncated")
				}
				payload, ok := r.readBlocks()
				if !ok {
					return nil, imaging.NewError(op, imaging.Truncated, "application data truncated")
				}
				if string(appID) == "NETSCAPE2.0" && len(payload) >= 3 && payload[0] == 1 {
					loopCount = int(payload[1]) | int(payload[2])<<8
				}

			default: // comment, plain text: skipped
				if !r.skipBlocks() {
					return nil, imaging.NewError(op, imaging.Truncated, "extension sub-blocks truncated")
				}
			}

		case sImageDescriptor:
			hdr, ok := r.bytes(9)
			if !ok {
				return nil, imaging.NewError(op, imaging.Truncated, "image descriptor truncated")
			}
			desc := imageDescriptor{
				left:   int(hdr[0]) | int(hdr[1])<<8,
				top:    int(hdr[2]) | int(hdr[3])<<8,
				width:  int(hdr[4]) | int(hdr[5])<<8,
				height: int(hdr[6]) | int(hdr[7])<<8,
			}
			imgFields := hdr[8]
			desc.interlaced = imgFields&fInterlace != 0
			if imgFields&fColorTable != 0 {
				n := 1 << (uint(imgFields&fColorTableBitsMask) + 1)
				desc.localPalette, ok = readPalette(r, n)
				if !ok {
					return nil, imaging.NewError(op, imaging.Truncated, "local color table truncated")
				}
			}
			minCodeSize, ok := r.byte()
			if !ok {
				return nil, imaging.NewError(op, imaging.Truncated, "missing LZW min code size")
			}
			blockData, ok := r.readBlocks()
			if !ok {
				return nil, imaging.NewError(op, imaging.Truncated, "image data truncated")
			}

			// Step (1): apply the previously drawn frame's disposal before
			// drawing this one.
			switch prevDisposal {
			case DisposalBackground:
				clearRect(canvas, savedRect, bg)
			case DisposalPrevious:
				if savedSnapshot != nil {
					restoreSnapshot(canvas, savedSnapshot, savedRect)
				}
			}

			palette := desc.localPalette
			if palette == nil {
				palette = globalPalette
			}
			if len(palette) == 0 {
				return nil, imaging.NewError(op, imaging.InvalidFormat, "no color table available for frame")
			}

			indices, err := lzwDecodeIndices(blockData, int(minCodeSize), desc.width*desc.height)
			if err != nil {
				return nil, imaging.WrapError(op, imaging.InvalidFormat, err)
			}
			if desc.interlaced {
				indices = deinterlace(indices, desc.width, desc.height)
			}

			// Step (4): snapshot this frame's rect before compositing, in
			// case its own disposal (read above into curDisposal) turns out
			// to be restore-to-previous for the frame that follows it.
			savedSnapshot = imaging.NewImage(imaging.RGB24, desc.width, desc.height)
			copyRect(savedSnapshot, canvas, desc.left, desc.top)
			savedRect = [4]int{desc.left, desc.top, desc.width, desc.height}

			compositeFrame(canvas, indices, palette, desc, curTransparent)

			frameImg := canvas.Clone()
			anim.Frames = append(anim.Frames, Frame{Image: frameImg, DelayCS: curDelay})

			prevDisposal = curDisposal
			// reset per-frame graphic control state (GIF default if absent)
			curDisposal = DisposalNone
			curTransparent = -1
			curDelay = 0

		default:
			return nil, imaging.NewError(op, imaging.InvalidFormat, "unexpected block introducer 0x%02x", c)
		}
	}

	if len(anim.Frames) == 0 {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "no frames decoded")
	}
	if loopCount < 0 {
		loopCount = 0
	}
	anim.LoopCount = loopCount
	return &anim, nil
}

// Decode returns just the first frame, for callers that only want a still
// image (the common `decode(bytes) -> image` surface from).
func Decode(r io.Reader) (*imaging.Image, error) {
	anim, err := DecodeAll(r)
	if err != nil {
		return nil, err
	}
	return anim.Frames[0].Image, nil
}

func fillCanvas(img *imaging.Image, c [3]byte) {
	for y := 0; y < img.Height; y++ {
		row := img.Row(y)
		for x := 0; x < img.Width; x++ {
			row[x*3], row[x*3+1], row[x*3+2] = c[0], c[1], c[2]
		}
	}
}

func clearRect(img *imaging.Image, rect [4]int, c [3]byte) {
	left, top, w, h := rect[0], rect[1], rect[2], rect[3]
	for y := top; y < top+h && y < img.Height; y++ {
		row := img.Row(y)
		for x := left; x < left+w && x < img.Width; x++ {
			row[x*3], row[x*3+1], row[x*3+2] = c[0], c[1], c[2]
		}
	}
}

func copyRect(dst, src *imaging.Image, left, top int) {
	for y := 0; y < dst.Height; y++ {
		sy := top + y
		if sy >= src.Height {
			break
		}
		copy(dst.Row(y), src.Row(sy)[left*3:])
	}
}

func restoreSnapshot(canvas, snap *imaging.Image, rect [4]int) {
	left, top := rect[0], rect[1]
	for y := 0; y < snap.Height; y++ {
		dy := top + y
		if dy >= canvas.Height {
			break
		}
		copy(canvas.Row(dy)[left*3:], snap.Row(y))
	}
}

func compositeFrame(canvas *imaging.Image, indices []byte, palette [][3]byte, desc imageDescriptor, transparent int) {
	for y := 0; y < desc.height; y++ {
		dy := desc.top + y
		if dy < 0 || dy >= canvas.Height {
			continue
		}
		row := canvas.Row(dy)
		for x := 0; x < desc.width; x++ {
			dx := desc.left + x
			if dx < 0 || dx >= canvas.Width {
				continue
			}
			idx := indices[y*desc.width+x]
			if int(idx) == transparent {
				continue
			}
			if int(idx) >= len(palette) {
				continue
			}
			c := palette[idx]
			row[dx*3], row[dx*3+1], row[dx*3+2] = c[0], c[1], c[2]
		}
	}
}

// lzwDecodeIndices decodes a GIF sub-block payload using the LSB-first,
// variable-width LZW scheme with the exact root/clear/EOI seeding
// describes; compress/lzw already implements this fully for the GIF byte
// order (the same constructor Go's own image/gif package uses).
func lzwDecodeIndices(data []byte, minCodeSize, want int) ([]byte, error) {
	rc := lzw.NewReader(&byteCursor{data: data}, lzw.LSB, minCodeSize)
	defer rc.Close()
	out := make([]byte, 0, want)
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// byteCursor is a []byte io.Reader used to feed compress/lzw.
type byteCursor struct {
	data []byte
	pos  int
}

func (b *byteCursor) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
