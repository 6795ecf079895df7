package bitio

import "io"

// MarkerEvent is returned by Refill when a 0xFF byte in the source is
// followed by a non-zero byte instead of the expected stuffed 0x00: that
// non-zero byte is a marker (RSTn, DNL, EOI, ...) and the caller must stop
// consuming entropy-coded data and handle it.
type MarkerEvent struct {
	Marker byte // the byte that followed 0xFF
}

func (e *MarkerEvent) Error() string { return "bitio: marker encountered in entropy stream" }

// MSBReader reads MSB-first from a byte slice, transparently dropping the
// 0x00 byte that follows any 0xFF (JPEG byte-stuffing). It buffers bits in
// a uint32 accumulator and refills from the source on demand, the same
// byte-at-a-time walk the JPEG decoder has always used to pull Huffman
// codes out of an entropy-coded segment.
type MSBReader struct {
	data   []byte
	pos    int    // next unread byte in data
	acc    uint32 // bit accumulator, MSB-justified
	nbits  uint   // number of valid bits in acc
	marker byte   // set when a real marker was seen; 0 means none pending
	atEnd  bool
}

// NewMSBReader wraps data (already positioned at the first entropy-coded
// byte) for bit-at-a-time reading.
func NewMSBReader(data []byte) *MSBReader {
	return &MSBReader{data: data}
}

// Offset returns the index of the next unread byte in the original slice.
// When a marker stopped consumption, its 0xFF byte has already been read,
// so the marker begins at Offset()-1.
func (r *MSBReader) Offset() int { return r.pos }

// PendingMarker returns the marker byte that ended the stream, or 0 if
// none has been seen yet.
func (r *MSBReader) PendingMarker() byte { return r.marker }

// refill tops the accumulator up to at least 24 buffered bits when the
// source still has data. It stops early (without error) at
// a real marker or end of data — callers must check nbits before reading.
func (r *MSBReader) refill() {
	for r.nbits <= 24 {
		if r.marker != 0 || r.pos >= len(r.data) {
			r.atEnd = true
			return
		}
		b := r.data[r.pos]
		r.pos++
		if b == 0xFF {
			if r.pos >= len(r.data) {
				r.atEnd = true
				return
			}
			next := r.data[r.pos]
			if next == 0x00 {
				r.pos++ // stuffed byte, drop it
			} else if next >= 0xD0 && next <= 0xD7 {
				// restart marker: caller consumes it explicitly via Reset,
				// stop feeding bits now.
				r.marker = next
				return
			} else {
				r.marker = next
				return
			}
		}
		r.acc |= uint32(b) << (24 - r.nbits)
		r.nbits += 8
	}
}

// PeekBits returns the next n (<=24) bits without consuming them. The
// second result is false if fewer than n bits remain (end of data or a
// marker was hit); the returned value is still the best-effort bits
// available, zero-padded.
func (r *MSBReader) PeekBits(n uint) (uint32, bool) {
	if r.nbits < n {
		r.refill()
	}
	if r.nbits < n {
		return r.acc >> (32 - n), false
	}
	return r.acc >> (32 - n), true
}

// ConsumeBits discards n (<=24) already-peeked bits.
func (r *MSBReader) ConsumeBits(n uint) {
	r.acc <<= n
	if n > r.nbits {
		r.nbits = 0
	} else {
		r.nbits -= n
	}
}

// ReadBits peeks and consumes n bits in one call, returning ok=false if
// the stream ran out first (Huffman over-consumption).
func (r *MSBReader) ReadBits(n uint) (uint32, bool) {
	v, ok := r.PeekBits(n)
	if !ok {
		return v, false
	}
	r.ConsumeBits(n)
	return v, true
}

// ByteAlign discards any partially consumed bits so the next ReadBits
// starts at a byte boundary, as required after each RSTn.
func (r *MSBReader) ByteAlign() {
	r.acc = 0
	r.nbits = 0
}

// Reset reinitialises the reader to continue past a restart marker: it
// clears the pending marker, skips the two marker bytes (0xFF RSTn) and
// byte-aligns.
func (r *MSBReader) Reset() {
	if r.marker >= 0xD0 && r.marker <= 0xD7 {
		r.pos++ // skip the marker byte itself (0xFF already consumed)
	}
	r.marker = 0
	r.atEnd = false
	r.ByteAlign()
}

// Err returns io.ErrUnexpectedEOF if the reader ran dry without ever
// hitting a marker (malformed/truncated entropy-coded segment).
func (r *MSBReader) Err() error {
	if r.atEnd && r.marker == 0 && r.pos >= len(r.data) {
		return io.ErrUnexpectedEOF
	}
	return nil
}
