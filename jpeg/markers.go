package jpeg

import "github.com/jrm-1535/imaging"

// zigZagOrder maps a zig-zag coefficient index to its natural position
// within an 8x8 block.
var zigZagOrder = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

// parseDQT reads one or more quantisation tables from a DQT segment.
func (d *decoderState) parseDQT() error {
	length, err := d.u16()
	if err != nil {
		return imaging.WrapError(d.op, imaging.Truncated, err)
	}
	end := d.pos + length - 2
	for d.pos < end {
		pq, err := d.u8()
		if err != nil {
			return imaging.WrapError(d.op, imaging.Truncated, err)
		}
		precision := pq >> 4
		id := pq & 0x0F
		if id > 3 {
			return imaging.NewError(d.op, imaging.Unsupported, "quant table id %d out of range", id)
		}
		qt := &quantTable{}
		for i := 0; i < 64; i++ {
			var v int
			if precision == 0 {
				b, err := d.u8()
				if err != nil {
					return imaging.WrapError(d.op, imaging.Truncated, err)
				}
				v = int(b)
			} else {
				v, err = d.u16()
				if err != nil {
					return imaging.WrapError(d.op, imaging.Truncated, err)
				}
			}
			qt.values[zigZagOrder[i]] = uint16(v)
		}
		d.qtables[id] = qt
	}
	return nil
}

// parseDHT reads one or more Huffman tables from a DHT segment.
func (d *decoderState) parseDHT() error {
	length, err := d.u16()
	if err != nil {
		return imaging.WrapError(d.op, imaging.Truncated, err)
	}
	end := d.pos + length - 2
	for d.pos < end {
		tc, err := d.u8()
		if err != nil {
			return imaging.WrapError(d.op, imaging.Truncated, err)
		}
		class := tc >> 4 // 0: DC, 1: AC
		id := tc & 0x0F
		if id > 3 {
			return imaging.NewError(d.op, imaging.Unsupported, "huffman table id %d out of range", id)
		}
		counts, err := d.bytes(16)
		if err != nil {
			return imaging.WrapError(d.op, imaging.Truncated, err)
		}
		// Reject counts that claim more codes of some length than the code
		// space has left; buildHuffTree assumes a table that fits.
		space := 1
		for _, c := range counts {
			space = space*2 - int(c)
			if space < 0 {
				return imaging.NewError(d.op, imaging.InvalidFormat, "huffman table has too many codes")
			}
		}
		var values [16][]byte
		total := 0
		for i, c := range counts {
			vs, err := d.bytes(int(c))
			if err != nil {
				return imaging.WrapError(d.op, imaging.Truncated, err)
			}
			values[i] = vs
			total += int(c)
		}
		table := newHuffTable(values)
		if class == 0 {
			d.dcTables[id] = table
		} else {
			d.acTables[id] = table
		}
	}
	return nil
}

func (d *decoderState) parseDRI() error {
	length, err := d.u16()
	if err != nil {
		return imaging.WrapError(d.op, imaging.Truncated, err)
	}
	if length != 4 {
		return imaging.NewError(d.op, imaging.InvalidFormat, "bad DRI length")
	}
	n, err := d.u16()
	if err != nil {
		return imaging.WrapError(d.op, imaging.Truncated, err)
	}
	d.restartInterval = n
	return nil
}

// parseSOF reads a frame header (SOF0/SOF1 baseline/extended-sequential, or
// SOF2 progressive) and computes each component's MCU-aligned block grid.
func (d *decoderState) parseSOF(progressive bool) error {
	const op = "jpeg.parseSOF"
	length, err := d.u16()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	_ = length
	precision, err := d.u8()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	if precision != 8 {
		return imaging.NewError(op, imaging.Unsupported, "sample precision %d not supported", precision)
	}
	height, err := d.u16()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	width, err := d.u16()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	if width <= 0 || height <= 0 {
		return imaging.NewError(op, imaging.InvalidFormat, "non-positive frame dimension")
	}
	nComp, err := d.u8()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	if nComp != 1 && nComp != 3 && nComp != 4 {
		return imaging.NewError(op, imaging.Unsupported, "%d components not supported", nComp)
	}

	comps := make([]component, nComp)
	maxH, maxV := 0, 0
	for i := 0; i < int(nComp); i++ {
		id, err := d.u8()
		if err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
		hv, err := d.u8()
		if err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
		qsel, err := d.u8()
		if err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
		h, v := int(hv>>4), int(hv&0x0F)
		if h < 1 || h > 4 || v < 1 || v > 4 {
			return imaging.NewError(op, imaging.InvalidFormat, "bad sampling factor for component %d", id)
		}
		comps[i] = component{id: id, hSamp: h, vSamp: v, quantSel: int(qsel)}
		if h > maxH {
			maxH = h
		}
		if v > maxV {
			maxV = v
		}
	}

	mcuWidth := 8 * maxH
	mcuHeight := 8 * maxV
	mcusPerLine := (width + mcuWidth - 1) / mcuWidth
	mcusPerCol := (height + mcuHeight - 1) / mcuHeight

	for i := range comps {
		comps[i].blocksPerLine = mcusPerLine * comps[i].hSamp
		comps[i].blocksPerCol = mcusPerCol * comps[i].vSamp
		n := comps[i].blocksPerLine * comps[i].blocksPerCol
		comps[i].coeffs = make([]block, n)
	}

	d.frame = &frameHeader{
		precision:   8,
		width:       width,
		height:      height,
		progressive: progressive,
		components:  comps,
		maxH:        maxH,
		maxV:        maxV,
		mcusPerLine: mcusPerLine,
		mcusPerCol:  mcusPerCol,
	}
	return nil
}

// componentBlockExtent returns the non-interleaved scan's actual block grid
// for a component: the MCU-aligned blocksPerLine/blocksPerCol pad out to
// whole MCUs, but a non-interleaved (single-component) scan carries entropy
// data only for the blocks that cover real image samples.
func componentBlockExtent(frame *frameHeader, c *component) (int, int) {
	sampWidth := (frame.width*c.hSamp + frame.maxH - 1) / frame.maxH
	sampHeight := (frame.height*c.vSamp + frame.maxV - 1) / frame.maxV
	linesPerLine := (sampWidth + 7) / 8
	linesPerCol := (sampHeight + 7) / 8
	return linesPerLine, linesPerCol
}

func (d *decoderState) parseAdobeAPP14() error {
	length, err := d.u16()
	if err != nil {
		return imaging.WrapError(d.op, imaging.Truncated, err)
	}
	data, err := d.bytes(length - 2)
	if err != nil {
		return imaging.WrapError(d.op, imaging.Truncated, err)
	}
	if len(data) >= 12 && string(data[0:5]) == "Adobe" {
		d.adobeTransform = int(data[11])
	}
	return nil
}
