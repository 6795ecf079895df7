// Package webp adapts the module's pixel model to an external native WebP
// codec over a narrow FFI boundary (no cgo, via github.com/ebitengine/purego).
// The package owns no WebP bitstream logic itself: still-image decode and
// encode are delegated to libwebp's simple decode.h/encode.h entry points;
// only the RIFF/ANIM/ANMF animation container is assembled in this package,
// from per-frame still encodes libwebp already produced.
//
// This is the one package in the module carrying process-wide state: a
// single lock serialises encode calls unless Options.Concurrency requests
// Parallel, matching libwebp builds that are not safe for concurrent calls
// into the same encoder entry point.
package webp

import (
	"encoding/binary"
	"runtime"
	"sync"
	"unsafe"

	"github.com/jrm-1535/imaging"
)

// Concurrency selects how Encode/EncodeAnimated calls interact with other
// concurrent calls into this package.
type Concurrency int

const (
	// Auto serialises encode calls through a single lock. This is the
	// default: most libwebp builds are not proven reentrant.
	Auto Concurrency = iota
	// Serial is Auto spelled explicitly; both collapse to the same
	// serialised behaviour.
	Serial
	// Parallel skips the lock, for callers who know their libwebp build
	// (or their own usage pattern, e.g. one goroutine at a time) is safe.
	Parallel
)

// Options configures WebP encoding.
type Options struct {
	Quality     int // 1..100; 0 selects the default 75, negatives clamp to 0
	Concurrency Concurrency
}

func (o *Options) quality() float32 {
	q := 75
	if o != nil && o.Quality != 0 {
		q = o.Quality
	}
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	return float32(q)
}

func (o *Options) concurrency() Concurrency {
	if o == nil {
		return Auto
	}
	return o.Concurrency
}

var encodeMu sync.Mutex

// withEncodeLock runs fn under the package's single encode lock unless opt
// requests Parallel.
func withEncodeLock(opt *Options, fn func() error) error {
	if opt.concurrency() == Parallel {
		return fn()
	}
	encodeMu.Lock()
	defer encodeMu.Unlock()
	return fn()
}

// Match reports whether data begins with a RIFF/WEBP container signature.
func Match(data []byte) bool {
	return len(data) >= 12 &&
		data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P'
}

// Decode reads a still or animated WebP image and returns its first frame
// as an RGBA32 image. libwebp's WebPDecodeRGBA handles VP8/VP8L/VP8X
// demuxing internally; this package does not re-parse the container on
// the decode path.
func Decode(data []byte) (*imaging.Image, error) {
	const op = "webp.Decode"
	if err := loadLibWebP(); err != nil {
		return nil, err
	}
	if !Match(data) {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "missing RIFF/WEBP signature")
	}

	var w, h int32
	ptr := webpDecodeRGBA(unsafe.Pointer(&data[0]), uintptr(len(data)), &w, &h)
	runtime.KeepAlive(data)
	if ptr == 0 {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "libwebp failed to decode")
	}
	defer webpFree(ptr)

	n := int(w) * int(h) * 4
	buf := make([]byte, n)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))

	return imaging.FromBuffer(imaging.RGBA32, int(w), int(h), buf, imaging.Metadata{})
}

// Encode writes img as a still WebP file via libwebp's simple encoder.
// RGB24 and RGBA32 images are accepted directly; the returned bytes are a
// complete, self-contained WebP file (RIFF header + VP8/VP8L chunk).
func Encode(img *imaging.Image, opt *Options) ([]byte, error) {
	const op = "webp.Encode"
	if img.Kind != imaging.RGB24 && img.Kind != imaging.RGBA32 {
		return nil, imaging.NewError(op, imaging.Argument, "unsupported image kind for webp encode")
	}
	if err := loadLibWebP(); err != nil {
		return nil, err
	}

	var out []byte
	err := withEncodeLock(opt, func() error {
		var encErr error
		out, encErr = encodeStill(img, opt.quality())
		return encErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// encodeStill calls libwebp's WebPEncodeRGBA/WebPEncodeRGB and copies the
// malloc'd output into a Go-owned buffer before freeing it.
func encodeStill(img *imaging.Image, quality float32) ([]byte, error) {
	const op = "webp.Encode"
	if len(img.Pix) == 0 {
		return nil, imaging.NewError(op, imaging.Argument, "image has no pixels")
	}
	width := int32(img.Width)
	height := int32(img.Height)
	stride := int32(img.Stride())

	var outPtr uintptr
	var size uintptr
	if img.Kind == imaging.RGBA32 {
		size = webpEncodeRGBA(unsafe.Pointer(&img.Pix[0]), width, height, stride, quality, &outPtr)
	} else {
		size = webpEncodeRGB(unsafe.Pointer(&img.Pix[0]), width, height, stride, quality, &outPtr)
	}
	runtime.KeepAlive(img.Pix)
	if outPtr == 0 || size == 0 {
		return nil, imaging.NewError(op, imaging.ExternalFailure, "libwebp encode returned no output")
	}
	defer webpFree(outPtr)

	buf := make([]byte, size)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(outPtr)), size))
	return buf, nil
}

// EncodeAnimated composes frames into an animated WebP: each frame is
// still-encoded via Encode, its VP8/VP8L bitstream is pulled out of the
// simple-format wrapper libwebp produced, and the bitstreams are re-muxed
// into one VP8X/ANIM/ANMF container (assembled in container.go/mux.go).
// Per-frame duration is clamped to a minimum of 10ms; a negative loop
// count maps to 0 (loop forever).
func EncodeAnimated(frames []*imaging.Image, delaysMS []int, loopCount int, opt *Options) ([]byte, error) {
	const op = "webp.EncodeAnimated"
	if len(frames) == 0 {
		return nil, imaging.NewError(op, imaging.Argument, "no frames to encode")
	}
	if len(delaysMS) != len(frames) {
		return nil, imaging.NewError(op, imaging.Argument, "delaysMS length %d does not match frame count %d", len(delaysMS), len(frames))
	}
	if loopCount < 0 {
		loopCount = 0
	}

	width, height := frames[0].Width, frames[0].Height
	muxFrames := make([]muxFrame, len(frames))
	for i, f := range frames {
		if f.Width != width || f.Height != height {
			return nil, imaging.NewError(op, imaging.Argument, "frame %d is %dx%d, canvas is %dx%d", i, f.Width, f.Height, width, height)
		}
		full, err := Encode(f, opt)
		if err != nil {
			return nil, err
		}
		bitstream, err := extractSimpleBitstream(full)
		if err != nil {
			return nil, err
		}
		d := delaysMS[i]
		if d < 10 {
			d = 10
		}
		muxFrames[i] = muxFrame{bitstream: bitstream, durationMS: d}
	}

	return assembleAnimated(width, height, loopCount, muxFrames), nil
}

// extractSimpleBitstream pulls the raw VP8/VP8L payload out of a
// single-chunk simple-format WebP file, the inverse of assembleSimple.
func extractSimpleBitstream(simple []byte) ([]byte, error) {
	const op = "webp.EncodeAnimated"
	if len(simple) < riffHeaderSize+chunkHeaderSize {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "encoded frame shorter than a RIFF/chunk header")
	}
	size := binary.LittleEndian.Uint32(simple[16:20])
	start := riffHeaderSize + chunkHeaderSize
	end := start + int(size)
	if end > len(simple) {
		return nil, imaging.NewError(op, imaging.InvalidFormat, "encoded frame chunk payload truncated")
	}
	return simple[start:end], nil
}
