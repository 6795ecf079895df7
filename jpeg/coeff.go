package jpeg

import "github.com/jrm-1535/imaging/internal/bitio"

// decodeBaselineBlock decodes one full 8x8 block (DC and all 63 AC
// coefficients) for a baseline or extended-sequential scan, per T.81 F.2.
func decodeBaselineBlock(br *bitio.MSBReader, comp *component, idx int, dcTable, acTable *huffTable) error {
	s, ok := decodeHuffSymbol(br, dcTable)
	if !ok {
		return errTruncatedScan
	}
	var diff int32
	if s != 0 {
		diff, ok = receiveExtend(br, uint(s))
		if !ok {
			return errTruncatedScan
		}
	}
	comp.dcPred += diff
	comp.coeffs[idx][0] = comp.dcPred

	k := 1
	for k < 64 {
		rs, ok := decodeHuffSymbol(br, acTable)
		if !ok {
			return errTruncatedScan
		}
		r := int(rs >> 4)
		s := int(rs & 0x0F)
		if s == 0 {
			if r == 15 {
				k += 16 // ZRL: 16 zero coefficients
				continue
			}
			break // EOB
		}
		k += r
		if k >= 64 {
			break
		}
		val, ok := receiveExtend(br, uint(s))
		if !ok {
			return errTruncatedScan
		}
		comp.coeffs[idx][zigZagOrder[k]] = val
		k++
	}
	return nil
}

// decodeDCFirst decodes the first (non-refinement) progressive DC scan for
// one block: a differential value in the Al-shifted domain, per T.81 G.1.2.1.
func decodeDCFirst(br *bitio.MSBReader, comp *component, idx int, dcTable *huffTable, al int) error {
	s, ok := decodeHuffSymbol(br, dcTable)
	if !ok {
		return errTruncatedScan
	}
	var diff int32
	if s != 0 {
		diff, ok = receiveExtend(br, uint(s))
		if !ok {
			return errTruncatedScan
		}
	}
	comp.dcPred += diff
	comp.coeffs[idx][0] = comp.dcPred << uint(al)
	return nil
}

// decodeDCRefine appends one more bit of precision to an already-decoded DC
// coefficient, per T.81 G.1.2.2.
func decodeDCRefine(br *bitio.MSBReader, comp *component, idx, al int) error {
	bit, ok := br.ReadBits(1)
	if !ok {
		return errTruncatedScan
	}
	comp.coeffs[idx][0] |= int32(bit) << uint(al)
	return nil
}

// decodeACFirst decodes the first progressive AC scan within [ss, se] for
// one block, tracking end-of-band runs across blocks via comp.eobrun, per
// T.81 G.1.2.2.
func decodeACFirst(br *bitio.MSBReader, comp *component, idx, ss, se, al int, acTable *huffTable) error {
	if comp.eobrun > 0 {
		comp.eobrun--
		return nil
	}
	k := ss
	for k <= se {
		rs, ok := decodeHuffSymbol(br, acTable)
		if !ok {
			return errTruncatedScan
		}
		r := int(rs >> 4)
		s := int(rs & 0x0F)
		if s == 0 {
			if r < 15 {
				run := 1 << uint(r)
				if r > 0 {
					extra, ok := br.ReadBits(uint(r))
					if !ok {
						return errTruncatedScan
					}
					run += int(extra)
				}
				comp.eobrun = run - 1
				break
			}
			k += 16 // ZRL
			continue
		}
		k += r
		if k > se {
			break
		}
		val, ok := receiveExtend(br, uint(s))
		if !ok {
			return errTruncatedScan
		}
		comp.coeffs[idx][zigZagOrder[k]] = val << uint(al)
		k++
	}
	return nil
}

// decodeACRefine applies a progressive AC refinement scan within [ss, se]
// for one block, per T.81 G.1.2.3: newly nonzero coefficients get
// magnitude 1<<al with a sign bit, already-nonzero coefficients may gain
// one more bit of precision, and end-of-band runs still only refine
// existing nonzero coefficients.
func decodeACRefine(br *bitio.MSBReader, comp *component, idx, ss, se, al int, acTable *huffTable) error {
	bit := int32(1) << uint(al)
	blk := &comp.coeffs[idx]
	k := ss

	refineNonZero := func(z int) error {
		b, ok := br.ReadBits(1)
		if !ok {
			return errTruncatedScan
		}
		if b != 0 && (blk[z]&bit) == 0 {
			if blk[z] > 0 {
				blk[z] += bit
			} else {
				blk[z] -= bit
			}
		}
		return nil
	}

	if comp.eobrun == 0 {
		for k <= se {
			rs, ok := decodeHuffSymbol(br, acTable)
			if !ok {
				return errTruncatedScan
			}
			r := int(rs >> 4)
			s := int(rs & 0x0F)
			var newVal int32
			if s == 0 {
				if r < 15 {
					run := 1 << uint(r)
					if r > 0 {
						extra, ok := br.ReadBits(uint(r))
						if !ok {
							return errTruncatedScan
						}
						run += int(extra)
					}
					comp.eobrun = run
					break
				}
				// r == 15: ZRL, skip 16 zero-history positions below.
			} else {
				signBit, ok := br.ReadBits(1)
				if !ok {
					return errTruncatedScan
				}
				if signBit != 0 {
					newVal = bit
				} else {
					newVal = -bit
				}
			}

			for k <= se {
				z := zigZagOrder[k]
				if blk[z] != 0 {
					if err := refineNonZero(z); err != nil {
						return err
					}
				} else {
					if r == 0 {
						if newVal != 0 {
							blk[z] = newVal
						}
						k++
						break
					}
					r--
				}
				k++
			}
		}
	}

	if comp.eobrun > 0 {
		for ; k <= se; k++ {
			z := zigZagOrder[k]
			if blk[z] != 0 {
				if err := refineNonZero(z); err != nil {
					return err
				}
			}
		}
		comp.eobrun--
	}
	return nil
}
