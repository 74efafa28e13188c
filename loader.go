package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
)

// MaxPixels bounds the decoded size of an upload.
const MaxPixels = 100_000_000

// supportedExtensions lists the upload extensions the loader accepts, lower-cased.
var supportedExtensions = []string{".jpg", ".jpeg", ".png", ".heic"}

// DecodeError reports an upload that could not be turned into an image.
type DecodeError struct {
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.Filename, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Original is a decoded upload, normalized to NRGBA with its display orientation applied.
type Original struct {
	Filename string
	Format   string
	// Channels is the channel count of the decoded source: 1 for gray, 3 for RGB, 4 for RGBA.
	Channels int
	Image    *image.NRGBA
}

func (o *Original) Shape() Shape {
	b := o.Image.Bounds()
	return Shape{Width: b.Dx(), Height: b.Dy(), Channels: o.Channels}
}

// Loader decodes uploaded bytes into an Original.
type Loader interface {
	Load(filename string, data []byte) (*Original, error)
}

// ImagingLoader is an implementation of the Loader interface
// using the disintegration/imaging library, with a separate path for HEIC.
type ImagingLoader struct{}

func NewImagingLoader() *ImagingLoader {
	return &ImagingLoader{}
}

// Load decodes data according to the extension of filename. JPEG and PNG
// go through imaging with EXIF orientation applied; HEIC goes through libheif,
// which applies the container's rotation and mirror properties itself.
func (l *ImagingLoader) Load(filename string, data []byte) (*Original, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !isSupportedExtension(ext) {
		return nil, &DecodeError{Filename: filename, Err: fmt.Errorf("unsupported file type %q", ext)}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Filename: filename, Err: fmt.Errorf("empty file")}
	}

	if ext == ".heic" {
		return l.loadHEIC(filename, data)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Filename: filename, Err: err}
	}
	if err := checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, &DecodeError{Filename: filename, Err: err}
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Filename: filename, Err: err}
	}

	return newOriginal(filename, format, cfg.ColorModel, src)
}

func (l *ImagingLoader) loadHEIC(filename string, data []byte) (*Original, error) {
	cfg, err := heic.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Filename: filename, Err: fmt.Errorf("heic: %w", err)}
	}
	if err := checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, &DecodeError{Filename: filename, Err: err}
	}

	src, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Filename: filename, Err: fmt.Errorf("heic: %w", err)}
	}
	return newOriginal(filename, "heic", src.ColorModel(), src)
}

func newOriginal(filename, format string, model color.Model, src image.Image) (*Original, error) {
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Filename: filename, Err: fmt.Errorf("invalid dimensions %dx%d", b.Dx(), b.Dy())}
	}
	// checked on the oriented bounds, which are the ones the grayscale grid follows
	if h := grayscaleHeight(b.Dx(), b.Dy()); h > MaxDimension {
		return nil, &DecodeError{
			Filename: filename,
			Err:      fmt.Errorf("%dx%d is too narrow: the grayscale grid would be %dx%d", b.Dx(), b.Dy(), GrayscaleWidth, h),
		}
	}

	return &Original{
		Filename: filename,
		Format:   format,
		Channels: channelCount(model, src),
		// Clone re-anchors the pixels at (0,0) and normalizes the pixel layout.
		Image: imaging.Clone(src),
	}, nil
}

func checkPixels(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if int64(width)*int64(height) > MaxPixels {
		return fmt.Errorf("%dx%d exceeds %d pixels", width, height, MaxPixels)
	}
	return nil
}

func channelCount(model color.Model, img image.Image) int {
	if model == color.GrayModel || model == color.Gray16Model {
		return 1
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		return 4
	}
	return 3
}

func isSupportedExtension(ext string) bool {
	for _, e := range supportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
