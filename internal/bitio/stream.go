// Package bitio holds the byte- and bit-level stream primitives shared by
// the format codecs: a pooled growable buffer for non-seekable sources, a
// ReadExactly helper that never accepts a short read silently, and the
// JPEG MSB-first bit reader with byte-stuffing.
package bitio

import "io"

// ReadExactly fills buf completely from r, looping over short reads the way
// a single r.Read call is not guaranteed to. It returns io.ErrUnexpectedEOF
// if the source runs out before buf is full, and the plain error from r
// otherwise (never io.EOF masked as success).
func ReadExactly(r io.Reader, buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if err == io.EOF {
				if n == len(buf) {
					return nil
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// bufPool recycles the growable byte buffers used to slurp a non-seekable
// source whole before format sniffing. Scratch buffers are pooled per
// and returned exactly once on every exit path.
var bufPool = make(chan []byte, 16)

// GetBuffer returns a pooled []byte with at least the requested capacity
// and zero length, or a freshly allocated one if the pool is empty.
func GetBuffer(capHint int) []byte {
	select {
	case b := <-bufPool:
		if cap(b) >= capHint {
			return b[:0]
		}
		// too small for this caller: let it be GC'd, allocate fresh.
		return make([]byte, 0, capHint)
	default:
		return make([]byte, 0, capHint)
	}
}

// PutBuffer returns a buffer to the pool. Callers must not use buf after
// calling PutBuffer, and must call it exactly once per GetBuffer — on every
// exit path (success, error, or unwind) — never twice.
func PutBuffer(buf []byte) {
	select {
	case bufPool <- buf[:0]:
	default: // pool full, drop it
	}
}

// SlurpAll drains r entirely into a pooled buffer, growing it as needed.
// This is how a non-seekable source is buffered before format sniffing and
// then re-presented to a byte-array decode path.
func SlurpAll(r io.Reader) ([]byte, error) {
	buf := GetBuffer(32 * 1024)
	for {
		if len(buf) == cap(buf) {
			grown := make([]byte, len(buf), 2*cap(buf)+4096)
			copy(grown, buf)
			PutBuffer(buf)
			buf = grown
		}
		n, err := r.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return buf, err
		}
	}
}
