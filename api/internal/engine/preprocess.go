package engine

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"
)

const (
	maxPixels = 18_000_000
	contrast  = 2.0

	// maxDecodePixels bounds what PrepareImage is willing to decode at all.
	// Larger images go to the engine untouched.
	maxDecodePixels = 40_000_000
)

var errTooLarge = errors.New("image too large to preprocess")

// PrepareImage converts a photo to a sharpened, high-contrast grayscale PNG,
// upright per its EXIF orientation and scaled down to at most maxPixels.
// Input that does not decode, or whose header declares more than
// maxDecodePixels, is returned unchanged and left for the engine.
func PrepareImage(b []byte) []byte {
	img, err := decodeImage(b)
	if err != nil {
		return b
	}

	gray := orient(toGray(img), jpegOrientation(b))
	if px := gray.Bounds().Dx() * gray.Bounds().Dy(); px > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(px))
		newW := max(int(float64(gray.Bounds().Dx())*scale+0.5), 1)
		newH := max(int(float64(gray.Bounds().Dy())*scale+0.5), 1)
		gray = scaleDownNN(gray, newW, newH)
	}
	enhanceContrast(gray, contrast)
	out := sharpen(gray)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return b
	}
	return buf.Bytes()
}

// decodeImage reads the header first so a small file declaring huge
// dimensions is refused before any pixel buffer is allocated.
func decodeImage(b []byte) (image.Image, error) {
	isJPEG := len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8

	var cfg image.Config
	var err error
	if isJPEG {
		cfg, err = jpeg.DecodeConfig(bytes.NewReader(b))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(b))
	}
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxDecodePixels {
		return nil, errTooLarge
	}

	if isJPEG {
		return jpeg.Decode(bytes.NewReader(b))
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	return img, err
}

func toGray(src image.Image) *image.Gray {
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))

	switch s := src.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			off := s.PixOffset(sb.Min.X, sb.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], s.Pix[off:off+w])
		}
	case *image.YCbCr:
		// JPEG luma is already the Y plane.
		for y := 0; y < h; y++ {
			off := s.YOffset(sb.Min.X, sb.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], s.Y[off:off+w])
		}
	case *image.RGBA:
		// Same weights and rounding as color.GrayModel on 16-bit channels.
		for y := 0; y < h; y++ {
			row := s.Pix[s.PixOffset(sb.Min.X, sb.Min.Y+y):]
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				r := uint32(row[4*x]) * 0x101
				g := uint32(row[4*x+1]) * 0x101
				b := uint32(row[4*x+2]) * 0x101
				out[x] = uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 24)
			}
		}
	default:
		grayGeneric(dst, src)
	}
	return dst
}

func grayGeneric(dst *image.Gray, src image.Image) {
	sb := src.Bounds()
	for y := 0; y < sb.Dy(); y++ {
		for x := 0; x < sb.Dx(); x++ {
			dst.Set(x, y, color.GrayModel.Convert(src.At(sb.Min.X+x, sb.Min.Y+y)))
		}
	}
}

// enhanceContrast stretches every pixel away from the image mean by factor.
func enhanceContrast(g *image.Gray, factor float64) {
	if len(g.Pix) == 0 {
		return
	}
	var sum int
	for _, p := range g.Pix {
		sum += int(p)
	}
	mean := float64(sum) / float64(len(g.Pix))
	for i, p := range g.Pix {
		g.Pix[i] = clamp(mean + (float64(p)-mean)*factor)
	}
}

// sharpen applies the 3x3 kernel
//
//	-1 -1 -1
//	-1 16 -1   / 8
//	-1 -1 -1
//
// leaving the one-pixel border as is.
func sharpen(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	copy(dst.Pix, src.Pix)
	w, h := b.Dx(), b.Dy()
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			acc := 16 * int(src.Pix[y*src.Stride+x])
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					acc -= int(src.Pix[(y+dy)*src.Stride+x+dx])
				}
			}
			dst.Pix[y*dst.Stride+x] = clamp(float64(acc) / 8)
		}
	}
	return dst
}

func scaleDownNN(src *image.Gray, newW, newH int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, newW, newH))
	sb := src.Bounds()
	srcW := sb.Dx()
	srcH := sb.Dy()
	for y := 0; y < newH; y++ {
		sy := (y * srcH) / newH
		for x := 0; x < newW; x++ {
			sx := (x * srcW) / newW
			dst.Pix[y*dst.Stride+x] = src.Pix[sy*src.Stride+sx]
		}
	}
	return dst
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v + 0.5)
}
