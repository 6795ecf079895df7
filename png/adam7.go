package png

// Adam7 interlacing splits the image into 7 passes, each a regular subgrid
// of the full image.
var adam7 = [7]struct{ xOff, yOff, xStep, yStep int }{
	{0, 0, 8, 8},
	{4, 0, 8, 8},
	{0, 4, 4, 8},
	{2, 0, 4, 4},
	{0, 2, 2, 4},
	{1, 0, 2, 2},
	{0, 1, 1, 2},
}

// adam7PassDims returns the pixel width/height of each of the 7 passes for
// a full image of size w x h. A pass with zero width or height contributes
// no data to the interlaced stream.
func adam7PassDims(w, h int) [][2]int {
	dims := make([][2]int, 7)
	for i, p := range adam7 {
		pw, ph := 0, 0
		if w > p.xOff {
			pw = (w - p.xOff + p.xStep - 1) / p.xStep
		}
		if h > p.yOff {
			ph = (h - p.yOff + p.yStep - 1) / p.yStep
		}
		dims[i] = [2]int{pw, ph}
	}
	return dims
}

// adam7Recombine unpacks each pass's filtered plane into samples and
// scatters them into the full-resolution, row-major sample buffer.
func adam7Recombine(planes [][]byte, w, h, bitDepth, spp int) []byte {
	out := make([]byte, w*h*spp)
	dims := adam7PassDims(w, h)
	for i, p := range adam7 {
		pw, ph := dims[i][0], dims[i][1]
		if pw == 0 || ph == 0 {
			continue
		}
		passSamples := unpackSamples(planes[i], pw, ph, bitDepth, spp)
		for y := 0; y < ph; y++ {
			dy := p.yOff + y*p.yStep
			for x := 0; x < pw; x++ {
				dx := p.xOff + x*p.xStep
				srcOff := (y*pw + x) * spp
				dstOff := (dy*w + dx) * spp
				copy(out[dstOff:dstOff+spp], passSamples[srcOff:srcOff+spp])
			}
		}
	}
	return out
}
