package detector

import (
	"image"
	"image/color"
)

// Enhance applies a linear contrast stretch, remapping the luminance range
// actually present in the frame onto the full 0-255 range. Thermal frames
// are low-contrast and benefit measurably; color frames are left alone by
// the caller.
func Enhance(img image.Image) image.Image {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	lo, hi := uint8(255), uint8(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			gray.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: v})
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}

	if hi <= lo {
		return gray
	}

	span := int(hi) - int(lo)
	gb := gray.Bounds()
	for y := gb.Min.Y; y < gb.Max.Y; y++ {
		for x := gb.Min.X; x < gb.Max.X; x++ {
			v := gray.GrayAt(x, y).Y
			stretched := (int(v) - int(lo)) * 255 / span
			gray.SetGray(x, y, color.Gray{Y: uint8(stretched)})
		}
	}

	return gray
}
