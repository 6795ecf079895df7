package jpeg

import (
	"encoding/binary"

	"github.com/jrm-1535/imaging"
)

// exifOrientationTag is the TIFF tag number carrying the image orientation,
// per the Exif 2.2 primary-IFD tag table.
const exifOrientationTag = 0x0112

// parseAPP1Exif reads an APP1 segment, and if it carries an "Exif\0\0" TIFF
// blob, walks IFD0 far enough to pick up the Orientation tag into
// d.orientation. Every other Exif tag is ignored: this package never
// exposes camera metadata, only the one tag that changes how the decoded
// pixels should be displayed.
func (d *decoderState) parseAPP1Exif() error {
	const op = "jpeg.parseAPP1Exif"
	length, err := d.u16()
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	data, err := d.bytes(length - 2)
	if err != nil {
		return imaging.WrapError(op, imaging.Truncated, err)
	}
	if len(data) < 6 || string(data[0:6]) != "Exif\x00\x00" {
		return nil // APP1 without an Exif blob (e.g. XMP): not our concern
	}
	tiff := data[6:]
	if len(tiff) < 8 {
		return nil
	}

	var order binary.ByteOrder
	switch string(tiff[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil
	}
	if order.Uint16(tiff[2:4]) != 42 {
		return nil
	}
	ifd0Offset := order.Uint32(tiff[4:8])
	if int(ifd0Offset)+2 > len(tiff) {
		return nil
	}

	entryCount := int(order.Uint16(tiff[ifd0Offset:]))
	base := int(ifd0Offset) + 2
	for i := 0; i < entryCount; i++ {
		entryOff := base + i*12
		if entryOff+12 > len(tiff) {
			break
		}
		entry := tiff[entryOff : entryOff+12]
		tag := order.Uint16(entry[0:2])
		fieldType := order.Uint16(entry[2:4])
		if tag == exifOrientationTag && fieldType == 3 { // SHORT
			v := int(order.Uint16(entry[8:10]))
			if v >= 1 && v <= 8 {
				d.orientation = v
			}
			break
		}
	}
	return nil
}
