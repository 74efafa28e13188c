package main

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// GrayscaleWidth is the fixed width of every grayscale grid.
const GrayscaleWidth = 600

// Grayscale converts img to a single-channel luminance grid
// (Y = 0.299R + 0.587G + 0.114B) and resizes it to GrayscaleWidth,
// keeping the aspect ratio. Alpha is dropped, not composited.
func Grayscale(img image.Image) *image.Gray {
	gray := imaging.Grayscale(opaqueRGB(img))

	b := gray.Bounds()
	height := grayscaleHeight(b.Dx(), b.Dy())

	filter := imaging.Box
	if GrayscaleWidth > b.Dx() {
		filter = imaging.Linear
	}
	resized := imaging.Resize(gray, GrayscaleWidth, height, filter)

	return toGray(resized)
}

func grayscaleHeight(width, height int) int {
	h := int(math.Round(float64(GrayscaleWidth) * float64(height) / float64(width)))
	if h < 1 {
		return 1
	}
	return h
}

// opaqueRGB returns a copy of img with every alpha value forced to 255,
// keeping the unpremultiplied color channels as they are.
func opaqueRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// toGray keeps the first channel of an NRGBA image whose channels are all equal.
func toGray(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+b.Dx()*4]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := range drow {
			drow[x] = srow[x*4]
		}
	}
	return dst
}
