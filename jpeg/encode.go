package jpeg

import (
	"io"

	"github.com/jrm-1535/imaging"
)

// Options configures baseline JPEG encoding.
type Options struct {
	Quality     int                  // 1..100, default 75
	Subsampling imaging.Subsampling  // default Subsample420 for color images
	Trace       func(format string, args ...interface{})
}

func (o *Options) quality() int {
	if o == nil || o.Quality == 0 {
		return 75
	}
	return o.Quality
}

func (o *Options) subsampling() imaging.Subsampling {
	if o == nil || o.Subsampling == 0 {
		return imaging.Subsample420
	}
	return o.Subsampling
}

func (o *Options) trace(format string, args ...interface{}) {
	if o != nil && o.Trace != nil {
		o.Trace(format, args...)
	}
}

type encComponent struct {
	id               byte
	hSamp, vSamp     int
	quantSel         int
	dcTable, acTable *encHuffTable
	plane            []byte
	stride           int
	dcPred           int32
}

// Encode writes img as a baseline (non-progressive) JPEG. RGB24 and RGBA32
// images (alpha dropped) encode as YCbCr with the requested subsampling;
// Gray8 images encode as a single-component grayscale JPEG.
func Encode(w io.Writer, img *imaging.Image, opt *Options) error {
	const op = "jpeg.Encode"
	if img.Kind != imaging.Gray8 && img.Kind != imaging.RGB24 && img.Kind != imaging.RGBA32 {
		return imaging.NewError(op, imaging.Argument, "unsupported image kind for jpeg encode")
	}

	lumaQuant := scaleQuantTable(stdLumaQuant, opt.quality())
	chromaQuant := scaleQuantTable(stdChromaQuant, opt.quality())
	lumaDC := buildEncodeHuffTable(stdLumaDCCounts, stdLumaDCValues)
	lumaAC := buildEncodeHuffTable(stdLumaACCounts, stdLumaACValues)
	chromaDC := buildEncodeHuffTable(stdChromaDCCounts, stdChromaDCValues)
	chromaAC := buildEncodeHuffTable(stdChromaACCounts, stdChromaACValues)

	var comps []encComponent
	var maxH, maxV int

	if img.Kind == imaging.Gray8 {
		maxH, maxV = 1, 1
		plane, stride := padPlaneGray(img)
		comps = []encComponent{
			{id: 1, hSamp: 1, vSamp: 1, quantSel: 0, dcTable: lumaDC, acTable: lumaAC, plane: plane, stride: stride},
		}
	} else {
		hY, vY := subsamplingFactors(opt.subsampling())
		maxH, maxV = hY, vY
		yPlane, cbPlane, crPlane, stride := planesFromRGB(img, hY, vY)
		comps = []encComponent{
			{id: 1, hSamp: hY, vSamp: vY, quantSel: 0, dcTable: lumaDC, acTable: lumaAC, plane: yPlane, stride: stride},
			{id: 2, hSamp: 1, vSamp: 1, quantSel: 1, dcTable: chromaDC, acTable: chromaAC, plane: cbPlane, stride: stride / hY},
			{id: 3, hSamp: 1, vSamp: 1, quantSel: 1, dcTable: chromaDC, acTable: chromaAC, plane: crPlane, stride: stride / hY},
		}
	}

	opt.trace("jpeg.Encode: %dx%d quality=%d subsampling=%v", img.Width, img.Height, opt.quality(), opt.subsampling())

	var out []byte
	out = appendU16(out, 0xFFD8) // SOI
	out = appendAPP0(out)
	out = appendDQT(out, 0, lumaQuant)
	if len(comps) > 1 {
		out = appendDQT(out, 1, chromaQuant)
	}
	out = appendSOF0(out, img.Width, img.Height, comps)
	out = appendDHT(out, 0, 0, stdLumaDCCounts, stdLumaDCValues)
	out = appendDHT(out, 1, 0, stdLumaACCounts, stdLumaACValues)
	if len(comps) > 1 {
		out = appendDHT(out, 0, 1, stdChromaDCCounts, stdChromaDCValues)
		out = appendDHT(out, 1, 1, stdChromaACCounts, stdChromaACValues)
	}
	out = appendSOS(out, comps)

	quantTables := [2][64]uint16{lumaQuant, chromaQuant}
	entropy := encodeMCUs(comps, maxH, maxV, img.Width, img.Height, quantTables)
	out = append(out, entropy...)
	out = appendU16(out, 0xFFD9) // EOI

	_, err := w.Write(out)
	if err != nil {
		return imaging.WrapError(op, imaging.ExternalFailure, err)
	}
	return nil
}

func subsamplingFactors(s imaging.Subsampling) (int, int) {
	switch s {
	case imaging.Subsample444:
		return 1, 1
	case imaging.Subsample422:
		return 2, 1
	default:
		return 2, 2
	}
}

func appendU16(out []byte, v uint16) []byte {
	return append(out, byte(v>>8), byte(v))
}

func appendAPP0(out []byte) []byte {
	out = appendU16(out, 0xFFE0)
	out = appendU16(out, 16) // length
	out = append(out, 'J', 'F', 'I', 'F', 0, 1, 1, 0, 0, 1, 0, 1, 0, 0)
	return out
}

func appendDQT(out []byte, id int, table [64]uint16) []byte {
	out = appendU16(out, 0xFFDB)
	out = appendU16(out, uint16(2+1+64))
	out = append(out, byte(id))
	for i := 0; i < 64; i++ {
		out = append(out, byte(table[zigZagOrder[i]]))
	}
	return out
}

func appendSOF0(out []byte, w, h int, comps []encComponent) []byte {
	out = appendU16(out, 0xFFC0)
	out = appendU16(out, uint16(2+6+3*len(comps)))
	out = append(out, 8) // precision
	out = appendU16(out, uint16(h))
	out = appendU16(out, uint16(w))
	out = append(out, byte(len(comps)))
	for _, c := range comps {
		out = append(out, c.id, byte(c.hSamp<<4|c.vSamp), byte(c.quantSel))
	}
	return out
}

func appendDHT(out []byte, class, id int, counts [16]byte, values []byte) []byte {
	out = appendU16(out, 0xFFC4)
	out = appendU16(out, uint16(2+1+16+len(values)))
	out = append(out, byte(class<<4|id))
	out = append(out, counts[:]...)
	out = append(out, values...)
	return out
}

func appendSOS(out []byte, comps []encComponent) []byte {
	out = appendU16(out, 0xFFDA)
	out = appendU16(out, uint16(2+1+2*len(comps)+3))
	out = append(out, byte(len(comps)))
	for _, c := range comps {
		dcID, acID := 0, 0
		if c.quantSel == 1 {
			dcID, acID = 1, 1
		}
		out = append(out, c.id, byte(dcID<<4|acID))
	}
	out = append(out, 0, 63, 0) // Ss, Se, AhAl: full spectrum, no successive approx
	return out
}

// padPlaneGray returns a block-aligned (multiple of 8 in each dimension)
// copy of a Gray8 image, edge-replicated past its real bounds.
func padPlaneGray(img *imaging.Image) ([]byte, int) {
	stride := ((img.Width + 7) / 8) * 8
	rows := ((img.Height + 7) / 8) * 8
	plane := make([]byte, stride*rows)
	for y := 0; y < rows; y++ {
		sy := y
		if sy >= img.Height {
			sy = img.Height - 1
		}
		srcRow := img.Row(sy)
		for x := 0; x < stride; x++ {
			sx := x
			if sx >= img.Width {
				sx = img.Width - 1
			}
			plane[y*stride+x] = srcRow[sx]
		}
	}
	return plane, stride
}

// planesFromRGB converts an RGB24/RGBA32 image to block-aligned Y, Cb, Cr
// planes, Cb/Cr box-downsampled by (hRatio, vRatio) relative to Y.
func planesFromRGB(img *imaging.Image, hRatio, vRatio int) (y, cb, cr []byte, yStride int) {
	channels := 3
	if img.Kind == imaging.RGBA32 {
		channels = 4
	}
	yStride = ((img.Width + 8*hRatio - 1) / (8 * hRatio)) * 8 * hRatio
	yRows := ((img.Height + 8*vRatio - 1) / (8 * vRatio)) * 8 * vRatio

	fullY := make([]byte, yStride*yRows)
	fullCb := make([]byte, yStride*yRows)
	fullCr := make([]byte, yStride*yRows)

	for py := 0; py < yRows; py++ {
		sy := py
		if sy >= img.Height {
			sy = img.Height - 1
		}
		row := img.Row(sy)
		for px := 0; px < yStride; px++ {
			sx := px
			if sx >= img.Width {
				sx = img.Width - 1
			}
			off := sx * channels
			r, g, b := row[off], row[off+1], row[off+2]
			Y, Cb, Cr := rgbToYCbCr(r, g, b)
			idx := py*yStride + px
			fullY[idx], fullCb[idx], fullCr[idx] = Y, Cb, Cr
		}
	}

	if hRatio == 1 && vRatio == 1 {
		return fullY, fullCb, fullCr, yStride
	}

	cStride := yStride / hRatio
	cRows := yRows / vRatio
	cbOut := make([]byte, cStride*cRows)
	crOut := make([]byte, cStride*cRows)
	for cy := 0; cy < cRows; cy++ {
		for cx := 0; cx < cStride; cx++ {
			var sumCb, sumCr, n int
			for dy := 0; dy < vRatio; dy++ {
				for dx := 0; dx < hRatio; dx++ {
					idx := (cy*vRatio+dy)*yStride + cx*hRatio + dx
					sumCb += int(fullCb[idx])
					sumCr += int(fullCr[idx])
					n++
				}
			}
			cbOut[cy*cStride+cx] = byte(sumCb / n)
			crOut[cy*cStride+cx] = byte(sumCr / n)
		}
	}
	return fullY, cbOut, crOut, yStride
}

func rgbToYCbCr(r, g, b byte) (byte, byte, byte) {
	R, G, B := float64(r), float64(g), float64(b)
	y := 0.299*R + 0.587*G + 0.114*B
	cb := -0.168736*R - 0.331264*G + 0.5*B + 128
	cr := 0.5*R - 0.418688*G - 0.081312*B + 128
	return clampByte(int(y + 0.5)), clampByte(int(cb + 0.5)), clampByte(int(cr + 0.5))
}
