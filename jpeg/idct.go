package jpeg

import "math"

// AAN-style separable inverse DCT constants, one scale factor per
// frequency plus the three multiplier constants the butterfly needs.
const (
	is0 = 2.828427124746190097603377448419
	is1 = 3.923141121612921796504728944537
	is2 = 3.695518130045147024512732757587
	is3 = 3.325878449210180948315153510472
	is4 = 2.828427124746190097603377448419
	is5 = 2.222280932078408898971323255794
	is6 = 1.530733729460359086913839936122
	is7 = 0.780361288064513071393139473908

	ia1 = 1.414213562373095048801688724209
	ia2 = 0.541196100146196984399723205367
	ia3 = 1.414213562373095048801688724209
	ia4 = 1.306562964876376527856643173427
	ia5 = 0.382683432365089771728459984030
)

// idctButterfly runs one 1-D 8-point inverse DCT butterfly over 8 values
// spaced stride apart starting at in[off], writing results the same way
// into out.
func idctButterfly(in []float64, off, stride int, out []float64, outOff, outStride int) {
	v15 := in[off] * is0
	v26 := in[off+stride] * is1
	v21 := in[off+2*stride] * is2
	v28 := in[off+3*stride] * is3
	v16 := in[off+4*stride] * is4
	v25 := in[off+5*stride] * is5
	v22 := in[off+6*stride] * is6
	v27 := in[off+7*stride] * is7

	v19 := (v25 - v28) * 0.5
	v20 := (v26 - v27) * 0.5
	v23 := (v26 + v27) * 0.5
	v24 := (v25 + v28) * 0.5

	v7 := (v23 + v24) * 0.5
	v11 := (v21 + v22) * 0.5
	v13 := (v23 - v24) * 0.5
	v17 := (v21 - v22) * 0.5

	v8 := (v15 + v16) * 0.5
	v9 := (v15 - v16) * 0.5

	term := (v19 - v20) * ia5
	v12 := term - v19*ia4
	v14 := v20*ia2 - term

	v6 := v14 - v7
	v5 := v13*ia3 - v6
	v4 := -v5 - v12
	v10 := v17*ia1 - v11

	v0 := (v8 + v11) * 0.5
	v1 := (v9 + v10) * 0.5
	v2 := (v9 - v10) * 0.5
	v3 := (v8 - v11) * 0.5

	out[outOff] = (v0 + v7) * 0.5
	out[outOff+outStride] = (v1 + v6) * 0.5
	out[outOff+2*outStride] = (v2 + v5) * 0.5
	out[outOff+3*outStride] = (v3 + v4) * 0.5
	out[outOff+4*outStride] = (v3 - v4) * 0.5
	out[outOff+5*outStride] = (v2 - v5) * 0.5
	out[outOff+6*outStride] = (v1 - v6) * 0.5
	out[outOff+7*outStride] = (v0 - v7) * 0.5
}

// idct8x8 applies a separable inverse DCT to a dequantised coefficient
// block (natural order), writing level-shifted, clamped 8-bit samples into
// out[0], out[1], ..., one row at a time, stride bytes apart.
func idct8x8(coeffs *block, out []byte, stride int) {
	var in, mid [64]float64
	for i, c := range coeffs {
		in[i] = float64(c)
	}
	for col := 0; col < 8; col++ {
		idctButterfly(in[:], col, 8, mid[:], col, 8)
	}
	for row := 0; row < 8; row++ {
		var rowOut [8]float64
		idctButterfly(mid[:], row*8, 1, rowOut[:], 0, 1)
		base := row * stride
		for c := 0; c < 8; c++ {
			v := int(math.Round(rowOut[c])) + 128
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out[base+c] = byte(v)
		}
	}
}
