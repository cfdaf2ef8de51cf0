package engine

import (
	"encoding/binary"
	"image"
)

const exifOrientationTag = 0x0112

// jpegOrientation returns the EXIF orientation (1..8) stored in a JPEG's
// APP1 segment, or 1 when there is none or the segment is malformed.
func jpegOrientation(b []byte) int {
	if len(b) < 4 || b[0] != 0xFF || b[1] != 0xD8 {
		return 1
	}
	i := 2
	for i+4 <= len(b) {
		if b[i] != 0xFF {
			return 1
		}
		marker := b[i+1]
		switch {
		case marker == 0xFF: // fill byte
			i++
			continue
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD8):
			i += 2
			continue
		case marker == 0xDA || marker == 0xD9:
			// Metadata segments all precede the scan.
			return 1
		}
		size := int(binary.BigEndian.Uint16(b[i+2:]))
		if size < 2 || i+2+size > len(b) {
			return 1
		}
		seg := b[i+4 : i+2+size]
		if marker == 0xE1 && len(seg) >= 6 && string(seg[:6]) == "Exif\x00\x00" {
			return exifOrientation(seg[6:])
		}
		i += 2 + size
	}
	return 1
}

// exifOrientation reads tag 0x0112 from IFD0 of a TIFF structure.
func exifOrientation(tiff []byte) int {
	if len(tiff) < 8 {
		return 1
	}
	var bo binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return 1
	}
	if bo.Uint16(tiff[2:]) != 42 {
		return 1
	}
	ifd := int64(bo.Uint32(tiff[4:]))
	if ifd < 8 || ifd+2 > int64(len(tiff)) {
		return 1
	}
	n := int(bo.Uint16(tiff[ifd:]))
	for k := 0; k < n; k++ {
		e := int(ifd) + 2 + 12*k
		if e+12 > len(tiff) {
			return 1
		}
		if bo.Uint16(tiff[e:]) != exifOrientationTag {
			continue
		}
		// A single SHORT is stored inline in the value field.
		if v := int(bo.Uint16(tiff[e+8:])); v >= 1 && v <= 8 {
			return v
		}
		return 1
	}
	return 1
}

// orient returns g transformed from its stored layout to the upright view
// described by EXIF orientation o. Orientations 5..8 swap width and height.
func orient(g *image.Gray, o int) *image.Gray {
	if o < 2 || o > 8 {
		return g
	}
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewGray(image.Rect(0, 0, dw, dh))
	for sy := 0; sy < h; sy++ {
		row := g.Pix[sy*g.Stride:]
		for sx := 0; sx < w; sx++ {
			var dx, dy int
			switch o {
			case 2: // mirror horizontal
				dx, dy = w-1-sx, sy
			case 3: // rotate 180
				dx, dy = w-1-sx, h-1-sy
			case 4: // mirror vertical
				dx, dy = sx, h-1-sy
			case 5: // transpose
				dx, dy = sy, sx
			case 6: // rotate 90 clockwise
				dx, dy = h-1-sy, sx
			case 7: // transverse
				dx, dy = h-1-sy, w-1-sx
			case 8: // rotate 90 counter-clockwise
				dx, dy = sy, w-1-sx
			}
			dst.Pix[dy*dst.Stride+dx] = row[sx]
		}
	}
	return dst
}
