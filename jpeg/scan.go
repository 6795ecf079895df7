package jpeg

import (
	"github.com/jrm-1535/imaging"
	"github.com/jrm-1535/imaging/internal/bitio"
)

// decodeScan parses one SOS header and decodes its entropy-coded segment,
// baseline or progressive, writing coefficients into each referenced
// component's coeffs array. d.pos is left pointing at the 0xFF byte that
// introduces the marker following the scan, so the caller's marker loop
// picks it up unchanged.
func (d *decoderState) decodeScan() error {
	const op = "jpeg.decodeScan"

	if _, err := d.u16(); err != nil { // segment length, unused: derived from nComp below
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	nComp, err := d.u8()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}

	scanComps := make([]scanComponent, nComp)
	for i := 0; i < int(nComp); i++ {
		selector, err := d.u8()
		if err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
		tables, err := d.u8()
		if err != nil {
			return imaging.WrapError(op, imaging.Truncated, err)
		}
		comp := d.componentByID(selector)
		if comp == nil {
			return imaging.NewError(op, imaging.InvalidFormat, "scan references unknown component %d", selector)
		}
		dcID, acID := int(tables>>4), int(tables&0x0F)
		if d.dcTables[dcID] == nil || d.acTables[acID] == nil {
			return imaging.NewError(op, imaging.InvalidFormat, "scan references undefined huffman table")
		}
		scanComps[i] = scanComponent{comp: comp, dcTable: d.dcTables[dcID], acTable: d.acTables[acID]}
	}

	ss, err := d.u8()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	se, err := d.u8()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	ahal, err := d.u8()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	ah, al := int(ahal>>4), int(ahal&0x0F)

	for i := range scanComps {
		scanComps[i].comp.dcPred = 0
	}

	scanStart := d.pos
	br := bitio.NewMSBReader(d.raw[scanStart:])

	var scanErr error
	if len(scanComps) > 1 {
		scanErr = d.decodeInterleavedScan(br, scanComps, int(ss), int(se), ah, al)
	} else {
		scanErr = d.decodeNonInterleavedScan(br, scanComps[0], int(ss), int(se), ah, al)
	}

	// Leave d.pos at the 0xFF that introduces whatever marker ended the
	// scan (restart markers are already consumed internally), so the
	// caller's marker-walk loop in Decode picks it up unchanged.
	d.pos = scanStart + br.Offset() - 1
	if d.pos < scanStart {
		d.pos = scanStart
	}
	return scanErr
}

func (d *decoderState) componentByID(id byte) *component {
	for i := range d.frame.components {
		if d.frame.components[i].id == id {
			return &d.frame.components[i]
		}
	}
	return nil
}

// decodeInterleavedScan walks MCUs across the whole frame grid, visiting
// each scan component's hSamp*vSamp blocks per MCU in turn. Used for
// baseline scans and progressive DC scans with more than one component.
func (d *decoderState) decodeInterleavedScan(br *bitio.MSBReader, scanComps []scanComponent, ss, se, ah, al int) error {
	restart := d.restartInterval
	mcuCount := 0
	total := d.frame.mcusPerLine * d.frame.mcusPerCol

	for my := 0; my < d.frame.mcusPerCol; my++ {
		for mx := 0; mx < d.frame.mcusPerLine; mx++ {
			for i := range scanComps {
				sc := &scanComps[i]
				for v := 0; v < sc.comp.vSamp; v++ {
					for h := 0; h < sc.comp.hSamp; h++ {
						row := my*sc.comp.vSamp + v
						col := mx*sc.comp.hSamp + h
						idx := row*sc.comp.blocksPerLine + col
						if err := decodeOneUnit(br, sc, idx, ss, se, ah, al, d.frame.progressive); err != nil {
							return err
						}
					}
				}
			}
			mcuCount++
			if restart > 0 && mcuCount%restart == 0 && mcuCount < total {
				if !handleRestart(br) {
					return nil
				}
				for i := range scanComps {
					scanComps[i].comp.dcPred = 0
					scanComps[i].comp.eobrun = 0
				}
			}
		}
	}
	return nil
}

// decodeNonInterleavedScan walks a single component's own (non-MCU-padded)
// block grid in raster order. Used whenever a scan names exactly one
// component: baseline/progressive single-component frames, and every
// progressive AC scan.
func (d *decoderState) decodeNonInterleavedScan(br *bitio.MSBReader, sc scanComponent, ss, se, ah, al int) error {
	linesPerLine, linesPerCol := componentBlockExtent(d.frame, sc.comp)
	restart := d.restartInterval
	total := linesPerLine * linesPerCol
	unit := 0

	for row := 0; row < linesPerCol; row++ {
		for col := 0; col < linesPerLine; col++ {
			idx := row*sc.comp.blocksPerLine + col
			if err := decodeOneUnit(br, &sc, idx, ss, se, ah, al, d.frame.progressive); err != nil {
				return err
			}
			unit++
			if restart > 0 && unit%restart == 0 && unit < total {
				if !handleRestart(br) {
					return nil
				}
				sc.comp.dcPred = 0
				sc.comp.eobrun = 0
			}
		}
	}
	return nil
}

// decodeOneUnit decodes a single data unit (one 8x8 block) of a scan,
// dispatching to baseline or the appropriate progressive DC/AC first or
// refinement routine.
func decodeOneUnit(br *bitio.MSBReader, sc *scanComponent, idx, ss, se, ah, al int, progressive bool) error {
	if !progressive {
		return decodeBaselineBlock(br, sc.comp, idx, sc.dcTable, sc.acTable)
	}
	if ss == 0 {
		if ah == 0 {
			return decodeDCFirst(br, sc.comp, idx, sc.dcTable, al)
		}
		return decodeDCRefine(br, sc.comp, idx, al)
	}
	if ah == 0 {
		return decodeACFirst(br, sc.comp, idx, ss, se, al, sc.acTable)
	}
	return decodeACRefine(br, sc.comp, idx, ss, se, al, sc.acTable)
}

// handleRestart expects a restart marker (RST0-RST7) at the current
// position and consumes it, resetting the bit reader for the next MCU
// group. Returns false if the stream ended or a non-restart marker was
// found instead, in which case the caller should stop decoding this scan.
func handleRestart(br *bitio.MSBReader) bool {
	// Force a refill so a marker right at the boundary is detected even if
	// the accumulator still (spuriously) reports bits from before it.
	br.ByteAlign()
	if _, ok := br.PeekBits(1); ok {
		return false // more entropy-coded bits before any marker: desynced
	}
	m := br.PendingMarker()
	if m < 0xD0 || m > 0xD7 {
		return false
	}
	br.Reset()
	return true
}
