package jpeg

import "github.com/jrm-1535/imaging"

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// ycbcrToRGB converts one YCbCr triple to RGB, per ITU-T T.871.
func ycbcrToRGB(y, cb, cr byte) (byte, byte, byte) {
	Ys := float64(y)
	Cbs := float64(cb) - 128.0
	Crs := float64(cr) - 128.0
	r := clampByte(int(0.5 + Ys + 1.402*Crs))
	g := clampByte(int(0.5 + Ys - 0.34414*Cbs - 0.71414*Crs))
	b := clampByte(int(0.5 + Ys + 1.772*Cbs))
	return r, g, b
}

// sampleAt looks up component sample (r, c) in a frame-relative pixel
// coordinate, scaling down by the component's sampling ratio against the
// frame's max sampling factor: nearest-neighbor chroma upsampling, the
// same ratio-based lookup used by YCbCr and CMYK conversion alike.
func sampleAt(plane []byte, stride, hSamp, vSamp, maxH, maxV int, r, c int) byte {
	sr := (r * vSamp) / maxV
	sc := (c * hSamp) / maxH
	return plane[sr*stride+sc]
}

// assembleImage combines the reconstructed, dequantised sample planes into
// the final image: single-component frames decode to Gray8, three
// components to RGB24 via YCbCr (or directly if Adobe APP14 declares no
// transform), four components to RGB24 via CMYK or YCCK.
func (d *decoderState) assembleImage(planes [][]byte) (*imaging.Image, error) {
	const op = "jpeg.assembleImage"
	w, h := d.frame.width, d.frame.height
	comps := d.frame.components
	maxH, maxV := d.frame.maxH, d.frame.maxV

	strideOf := func(i int) int { return comps[i].blocksPerLine * 8 }

	switch len(comps) {
	case 1:
		img := imaging.NewImage(imaging.Gray8, w, h)
		stride := strideOf(0)
		for y := 0; y < h; y++ {
			row := img.Row(y)
			copy(row, planes[0][y*stride:y*stride+w])
		}
		return img, nil

	case 3:
		img := imaging.NewImage(imaging.RGB24, w, h)
		yStride, cbStride, crStride := strideOf(0), strideOf(1), strideOf(2)
		directRGB := d.adobeTransform == 0
		for y := 0; y < h; y++ {
			row := img.Row(y)
			for x := 0; x < w; x++ {
				c0 := sampleAt(planes[0], yStride, comps[0].hSamp, comps[0].vSamp, maxH, maxV, y, x)
				c1 := sampleAt(planes[1], cbStride, comps[1].hSamp, comps[1].vSamp, maxH, maxV, y, x)
				c2 := sampleAt(planes[2], crStride, comps[2].hSamp, comps[2].vSamp, maxH, maxV, y, x)
				var r, g, b byte
				if directRGB {
					r, g, b = c0, c1, c2
				} else {
					r, g, b = ycbcrToRGB(c0, c1, c2)
				}
				row[x*3], row[x*3+1], row[x*3+2] = r, g, b
			}
		}
		return img, nil

	case 4:
		img := imaging.NewImage(imaging.RGB24, w, h)
		strides := [4]int{strideOf(0), strideOf(1), strideOf(2), strideOf(3)}
		// Adobe CMYK/YCCK JPEGs store channels inverted (255 - ink%); with no
		// Adobe marker at all, a 4-component frame is still CMYK and still
		// inverted, per the component-count heuristic. A transform flag of 2
		// means the first three channels are YCbCr-encoded CMY rather than
		// CMY directly.
		isYCCK := d.adobeTransform == 2
		for y := 0; y < h; y++ {
			row := img.Row(y)
			for x := 0; x < w; x++ {
				var c, m, ye, k byte
				s0 := sampleAt(planes[0], strides[0], comps[0].hSamp, comps[0].vSamp, maxH, maxV, y, x)
				s1 := sampleAt(planes[1], strides[1], comps[1].hSamp, comps[1].vSamp, maxH, maxV, y, x)
				s2 := sampleAt(planes[2], strides[2], comps[2].hSamp, comps[2].vSamp, maxH, maxV, y, x)
				k = sampleAt(planes[3], strides[3], comps[3].hSamp, comps[3].vSamp, maxH, maxV, y, x)
				if isYCCK {
					r, g, b := ycbcrToRGB(s0, s1, s2)
					c, m, ye = 255-r, 255-g, 255-b
				} else {
					c, m, ye = s0, s1, s2
				}
				r := byte((int(c) * int(k)) / 255)
				g := byte((int(m) * int(k)) / 255)
				b := byte((int(ye) * int(k)) / 255)
				row[x*3], row[x*3+1], row[x*3+2] = r, g, b
			}
		}
		return img, nil
	}

	return nil, imaging.NewError(op, imaging.Unsupported, "%d components not supported", len(comps))
}
