// Package frame holds the decoded-frame type shared by the capture and
// inference paths, plus the small set of image operations the pipeline needs
// (downscale, grayscale, blur, defensive copies).
package frame

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Frame is a decoded image with a monotonic sequence number and capture
// timestamp. Frames are ephemeral: ownership belongs to whichever buffer or
// in-flight inference call currently references one, and anything that keeps
// a frame past the current tick must Clone it first.
type Frame struct {
	Image     image.Image
	Seq       uint64
	Timestamp time.Time
}

// Clone returns a deep copy whose pixel data is independent of the original.
func (f *Frame) Clone() *Frame {
	return &Frame{
		Image:     CloneImage(f.Image),
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// CloneImage copies an image into a fresh RGBA backing array.
func CloneImage(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// Downscale returns img scaled so its long edge is at most maxEdge pixels.
// Images already within the cap are returned unchanged.
func Downscale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if maxEdge <= 0 || long <= maxEdge {
		return img
	}

	scale := float64(maxEdge) / float64(long)
	return resize(img, int(float64(w)*scale), int(float64(h)*scale))
}

// ScaleToWidth returns img scaled to the target width, preserving aspect
// ratio. Images at or below the target width are returned unchanged.
func ScaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if width <= 0 || w <= width {
		return img
	}
	return resize(img, width, h*width/w)
}

func resize(img image.Image, w, h int) image.Image {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

// Grayscale converts an image to 8-bit grayscale.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// BoxBlur applies a simple box blur of the given radius to a grayscale image.
// Used to suppress sensor noise before frame differencing.
func BoxBlur(src *image.Gray, radius int) *image.Gray {
	if radius <= 0 {
		return src
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(b)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, count int
			for dy := -radius; dy <= radius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					sum += int(src.GrayAt(b.Min.X+xx, b.Min.Y+yy).Y)
					count++
				}
			}
			dst.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: uint8(sum / count)})
		}
	}
	return dst
}
