package jpeg

import "github.com/jrm-1535/imaging"

// reconstructComponents dequantises every component's coefficient blocks
// and runs the inverse DCT, producing one full-resolution 8-bit sample
// plane per component (blocksPerLine*8 wide, blocksPerCol*8 tall, MCU
// padded, matching the coefficient grid computed in parseSOF).
func (d *decoderState) reconstructComponents() ([][]byte, error) {
	const op = "jpeg.reconstructComponents"
	planes := make([][]byte, len(d.frame.components))

	for ci := range d.frame.components {
		comp := &d.frame.components[ci]
		if comp.quantSel > 3 || d.qtables[comp.quantSel] == nil {
			return nil, imaging.NewError(op, imaging.InvalidFormat, "component %d references undefined quant table", comp.id)
		}
		qt := d.qtables[comp.quantSel]

		stride := comp.blocksPerLine * 8
		plane := make([]byte, stride*comp.blocksPerCol*8)

		for row := 0; row < comp.blocksPerCol; row++ {
			for col := 0; col < comp.blocksPerLine; col++ {
				idx := row*comp.blocksPerLine + col
				var dq block
				for i := 0; i < 64; i++ {
					dq[i] = comp.coeffs[idx][i] * int32(qt.values[i])
				}
				out := plane[row*8*stride+col*8:]
				idct8x8(&dq, out, stride)
			}
		}
		planes[ci] = plane
	}
	return planes, nil
}
