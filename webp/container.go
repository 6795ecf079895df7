package webp

import "encoding/binary"

// FourCC identifiers for the RIFF/WebP chunk types this adapter writes.
// Values match the container's ASCII tags read little-endian as a uint32,
// the same encoding deepteams-webp/mux uses for its chunk IDs.
const (
	fourCCRIFF = 0x46464952 // "RIFF"
	fourCCWEBP = 0x50424557 // "WEBP"
	fourCCVP8  = 0x20385056 // "VP8 "
	fourCCVP8L = 0x4C385056 // "VP8L"
	fourCCVP8X = 0x58385056 // "VP8X"
	fourCCANIM = 0x4D494E41 // "ANIM"
	fourCCANMF = 0x464D4E41 // "ANMF"
)

const (
	riffHeaderSize  = 12 // "RIFF" + size + "WEBP"
	chunkHeaderSize = 8  // FourCC + size
	vp8xChunkSize   = 10
	animChunkSize   = 6
	anmfChunkSize   = 16
)

// VP8X flag bits (bit 0 reserved, animation lives at bit 1 of byte 0 per
// the container's extended-format header).
const (
	flagAnimation = 1 << 1
	flagAlpha     = 1 << 4
)

// blendMode and disposeMode mirror the two ANMF frame-header flag bits the
// container format defines. This adapter always writes both bits as 0
// (alpha-blend, dispose none / leave-as-is): still images composed into an
// animation do not need per-frame blend/dispose control.
const (
	disposeNone = 0
	blendAlpha  = 0
)

func appendU16(out []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(out, b[:]...)
}

func appendU32(out []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(out, b[:]...)
}

func appendLE24(out []byte, v int) []byte {
	return append(out, byte(v), byte(v>>8), byte(v>>16))
}

// isVP8L reports whether a bitstream is VP8L (lossless), identified by its
// one-byte 0x2f signature.
func isVP8L(data []byte) bool {
	return len(data) > 0 && data[0] == 0x2f
}

// bitstreamChunkID returns the FourCC a raw VP8/VP8L bitstream should be
// wrapped in.
func bitstreamChunkID(data []byte) uint32 {
	if isVP8L(data) {
		return fourCCVP8L
	}
	return fourCCVP8
}

// appendChunk appends a chunk header (FourCC + little-endian size) plus
// payload plus the single padding byte RIFF requires for odd-length
// payloads, the same layout deepteams-webp/mux's writeDataChunk produces.
func appendChunk(out []byte, id uint32, payload []byte) []byte {
	out = appendU32(out, id)
	out = appendU32(out, uint32(len(payload)))
	out = append(out, payload...)
	if len(payload)%2 != 0 {
		out = append(out, 0)
	}
	return out
}

// chunkTotalSize is the header+payload+padding size appendChunk would add.
func chunkTotalSize(payloadLen int) int {
	total := chunkHeaderSize + payloadLen
	if payloadLen%2 != 0 {
		total++
	}
	return total
}
