package jpeg

import "github.com/jrm-1535/imaging"

// errTruncatedScan is returned internally when the entropy-coded bitstream
// runs out before a Huffman symbol or its extension bits can be read; it
// reaches the caller of Decode as is, with Op "jpeg.decodeScan".
var errTruncatedScan = imaging.NewError("jpeg.decodeScan", imaging.Truncated, "entropy-coded segment truncated")
