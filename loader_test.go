package main

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImagingLoaderLoad(t *testing.T) {
	loader := NewImagingLoader()

	translucent := solid(30, 20, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	translucent.SetNRGBA(3, 3, color.NRGBA{R: 10, G: 20, B: 30, A: 100})

	tests := []struct {
		name     string
		filename string
		data     []byte
		shape    Shape
		format   string
	}{
		{
			name:     "rgb png",
			filename: "photo.png",
			data:     pngBytes(t, solid(1200, 800, color.NRGBA{R: 200, A: 255})),
			shape:    Shape{Width: 1200, Height: 800, Channels: 3},
			format:   "png",
		},
		{
			name:     "upper case extension",
			filename: "PHOTO.PNG",
			data:     pngBytes(t, solid(40, 30, color.NRGBA{G: 200, A: 255})),
			shape:    Shape{Width: 40, Height: 30, Channels: 3},
			format:   "png",
		},
		{
			name:     "png with alpha",
			filename: "logo.png",
			data:     pngBytes(t, translucent),
			shape:    Shape{Width: 30, Height: 20, Channels: 4},
			format:   "png",
		},
		{
			name:     "gray png",
			filename: "scan.png",
			data:     pngBytes(t, gradient(50, 25)),
			shape:    Shape{Width: 50, Height: 25, Channels: 1},
			format:   "png",
		},
		{
			name:     "jpeg",
			filename: "photo.jpeg",
			data:     encode(t, solid(64, 48, color.NRGBA{B: 200, A: 255}), imaging.JPEG),
			shape:    Shape{Width: 64, Height: 48, Channels: 3},
			format:   "jpeg",
		},
		{
			name:     "jpeg rotated by exif",
			filename: "phone.JPG",
			data:     withOrientation(t, encode(t, solid(40, 20, color.NRGBA{R: 90, A: 255}), imaging.JPEG), 6),
			shape:    Shape{Width: 20, Height: 40, Channels: 3},
			format:   "jpeg",
		},
		{
			name:     "heic",
			filename: "IMG_0001.HEIC",
			data:     fixture(t, "sample.heic"),
			shape:    Shape{Width: 512, Height: 512, Channels: 3},
			format:   "heic",
		},
		{
			name:     "tall but within the grayscale limit",
			filename: "strip.png",
			data:     pngBytes(t, solid(60, 1600, color.NRGBA{R: 1, A: 255})),
			shape:    Shape{Width: 60, Height: 1600, Channels: 3},
			format:   "png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original, err := loader.Load(tt.filename, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.shape, original.Shape())
			assert.Equal(t, tt.format, original.Format)
			assert.Equal(t, tt.filename, original.Filename)
			assert.Equal(t, image.Point{}, original.Image.Bounds().Min)
		})
	}
}

func TestImagingLoaderErrors(t *testing.T) {
	loader := NewImagingLoader()
	valid := pngBytes(t, solid(8, 8, color.White))

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"unsupported extension", "anim.gif", valid},
		{"no extension", "README", valid},
		{"garbage", "photo.jpg", []byte("definitely not an image")},
		{"empty", "photo.png", nil},
		{"truncated", "photo.png", valid[:len(valid)/2]},
		{"broken heic", "photo.HEIC", []byte("not a heif container")},
		{"one pixel wide", "column.png", pngBytes(t, solid(1, 100000, color.White))},
		{"too many pixels", "huge.png", withPNGSize(t, valid, 20000, 20000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original, err := loader.Load(tt.filename, tt.data)
			assert.Nil(t, original)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "got %v", err)
			assert.Equal(t, tt.filename, decodeErr.Filename)
			assert.Contains(t, err.Error(), "cannot read "+tt.filename)
		})
	}
}

func TestChannelCount(t *testing.T) {
	assert.Equal(t, 1, channelCount(color.GrayModel, image.NewGray(image.Rect(0, 0, 1, 1))))
	assert.Equal(t, 3, channelCount(color.YCbCrModel, image.NewYCbCr(image.Rect(0, 0, 1, 1), image.YCbCrSubsampleRatio420)))
	assert.Equal(t, 4, channelCount(color.NRGBAModel, image.NewNRGBA(image.Rect(0, 0, 1, 1))))
	assert.Equal(t, 3, channelCount(color.NRGBAModel, solid(1, 1, color.White)))
}

func TestImagingLoaderLimits(t *testing.T) {
	loader := NewImagingLoader()

	t.Run("grayscale grid taller than the dimension limit", func(t *testing.T) {
		_, err := loader.Load("column.png", pngBytes(t, solid(1, 100000, color.White)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too narrow")
	})

	t.Run("pixel count checked before decoding", func(t *testing.T) {
		// the pixel data still describes 8x8, so a full decode would fail differently
		_, err := loader.Load("huge.png", withPNGSize(t, pngBytes(t, solid(8, 8, color.White)), 20000, 20000))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})

	t.Run("limit follows the display orientation", func(t *testing.T) {
		// 2000x60 stored, 60x2000 displayed: 600*2000/60 = 20000 rows
		data := withOrientation(t, encode(t, solid(2000, 60, color.White), imaging.JPEG), 6)
		_, err := loader.Load("phone.jpg", data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too narrow")
	})
}
