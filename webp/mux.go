package webp

// muxFrame is one still-image bitstream plus its animation timing, the
// in-tree equivalent of deepteams-webp/mux's muxFrame — vendored as a
// pattern, not imported, since that module isn't part of this project's
// dependency tree.
type muxFrame struct {
	bitstream  []byte
	durationMS int
}

// assembleSimple writes a single-image WebP file: "RIFF" + size + "WEBP"
// followed by one VP8/VP8L chunk, no VP8X header.
func assembleSimple(bitstream []byte) []byte {
	id := bitstreamChunkID(bitstream)
	payload := chunkTotalSize(len(bitstream))
	riffPayload := 4 + payload // "WEBP" + chunk

	out := make([]byte, 0, riffHeaderSize+payload)
	out = appendU32(out, fourCCRIFF)
	out = appendU32(out, uint32(riffPayload))
	out = appendU32(out, fourCCWEBP)
	out = appendChunk(out, id, bitstream)
	return out
}

// assembleAnimated writes an extended-format (VP8X) WebP file carrying an
// ANIM chunk and one ANMF chunk per frame, every frame occupying the full
// canvas at offset (0,0) with alpha-blend/dispose-none flags — this
// adapter composes whole-canvas stills, never partial-frame deltas.
func assembleAnimated(width, height, loopCount int, frames []muxFrame) []byte {
	var flags byte = flagAnimation
	for _, f := range frames {
		if isVP8L(f.bitstream) && vp8lHasAlpha(f.bitstream) {
			flags |= flagAlpha
			break
		}
	}

	riffPayload := 4 // "WEBP"
	riffPayload += chunkHeaderSize + vp8xChunkSize
	riffPayload += chunkHeaderSize + animChunkSize
	for _, f := range frames {
		anmfPayload := anmfChunkSize + chunkTotalSize(len(f.bitstream))
		riffPayload += chunkHeaderSize + anmfPayload
		if anmfPayload%2 != 0 {
			riffPayload++
		}
	}

	out := make([]byte, 0, riffHeaderSize+riffPayload)
	out = appendU32(out, fourCCRIFF)
	out = appendU32(out, uint32(riffPayload))
	out = appendU32(out, fourCCWEBP)

	vp8x := make([]byte, 0, vp8xChunkSize)
	vp8x = append(vp8x, flags, 0, 0, 0)
	vp8x = appendLE24(vp8x, width-1)
	vp8x = appendLE24(vp8x, height-1)
	out = appendChunk(out, fourCCVP8X, vp8x)

	anim := make([]byte, 0, animChunkSize)
	anim = appendU32(anim, 0) // background color: opaque black/transparent, unused by this adapter
	anim = appendU16(anim, uint16(loopCount))
	out = appendChunk(out, fourCCANIM, anim)

	for _, f := range frames {
		out = appendANMF(out, width, height, f)
	}
	return out
}

// appendANMF appends one ANMF chunk wrapping a whole-canvas frame.
func appendANMF(out []byte, canvasW, canvasH int, f muxFrame) []byte {
	id := bitstreamChunkID(f.bitstream)
	subPayload := chunkTotalSize(len(f.bitstream))
	anmfPayload := anmfChunkSize + subPayload

	hdr := make([]byte, 0, anmfChunkSize)
	hdr = appendLE24(hdr, 0) // offset X, in canvas units / 2
	hdr = appendLE24(hdr, 0) // offset Y
	hdr = appendLE24(hdr, canvasW-1)
	hdr = appendLE24(hdr, canvasH-1)
	hdr = appendLE24(hdr, f.durationMS)
	hdr = append(hdr, disposeNone|blendAlpha<<1)

	out = appendU32(out, fourCCANMF)
	out = appendU32(out, uint32(anmfPayload))
	out = append(out, hdr...)
	out = appendChunk(out, id, f.bitstream)
	if anmfPayload%2 != 0 {
		out = append(out, 0)
	}
	return out
}

// vp8lHasAlpha reads the alpha bit out of a VP8L bitstream's packed header.
func vp8lHasAlpha(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	bits := uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16 | uint32(data[4])<<24
	return (bits>>28)&1 != 0
}
