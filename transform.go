package main

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// MaxDimension bounds the canvas a scaling may produce.
const MaxDimension = 16384

// Kind selects one of the geometric transformations.
type Kind string

const (
	KindRotation    Kind = "rotation"
	KindScaling     Kind = "scaling"
	KindTranslation Kind = "translation"
)

var kinds = []Kind{KindRotation, KindScaling, KindTranslation}

// ParseKind accepts a transformation name in any letter case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transformation %q", s)
}

// Params holds the selected transformation and the values of its controls.
// Only the fields of the selected kind are read.
type Params struct {
	Kind       Kind
	Angle      float64
	ScaleX     float64
	ScaleY     float64
	TranslateX int
	TranslateY int
}

// DefaultParams matches the initial position of every control.
func DefaultParams() Params {
	return Params{
		Kind:   KindRotation,
		ScaleX: 1,
		ScaleY: 1,
	}
}

// Caption describes the transformation the way the result panel labels it.
func (p Params) Caption() string {
	switch p.Kind {
	case KindRotation:
		return fmt.Sprintf("Rotated (%s°)", strconv.FormatFloat(p.Angle, 'f', -1, 64))
	case KindScaling:
		return fmt.Sprintf("Scaled (X=%s, Y=%s)", formatFactor(p.ScaleX), formatFactor(p.ScaleY))
	case KindTranslation:
		return fmt.Sprintf("Translated (X=%d, Y=%d)", p.TranslateX, p.TranslateY)
	}
	return string(p.Kind)
}

// formatFactor always keeps a decimal point, so 2 reads as 2.0.
func formatFactor(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// InvalidParameterError reports transformation parameters that cannot produce a grid.
type InvalidParameterError struct {
	Kind   Kind
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s parameters: %s", e.Kind, e.Reason)
}

// Apply runs the transformation selected by p on grid.
func Apply(grid *image.Gray, p Params) (*image.Gray, error) {
	switch p.Kind {
	case KindRotation:
		return Rotate(grid, p.Angle)
	case KindScaling:
		return Scale(grid, p.ScaleX, p.ScaleY)
	case KindTranslation:
		return Translate(grid, p.TranslateX, p.TranslateY), nil
	}
	return nil, &InvalidParameterError{Kind: p.Kind, Reason: "unknown transformation"}
}

// Rotate turns grid by angle degrees about its center with unit scale. Pixel
// coordinates have y pointing down, so a positive angle moves the top-left
// region toward the top-right. The canvas keeps its size; corners rotated out
// are clipped and exposed areas are black.
func Rotate(grid *image.Gray, angle float64) (*image.Gray, error) {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return nil, &InvalidParameterError{Kind: KindRotation, Reason: "angle must be finite"}
	}

	src := atOrigin(grid)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	cx, cy := float64(w)/2, float64(h)/2
	sin, cos := sinCosDegrees(angle)

	// source to destination
	s2d := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Transform(dst, s2d, src, src.Rect, draw.Src, nil)
	return dst, nil
}

// sinCosDegrees is exact for multiples of 90 degrees.
func sinCosDegrees(deg float64) (sin, cos float64) {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	switch r {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(r * math.Pi / 180)
}

// Scale resizes grid by independent horizontal and vertical factors. The
// canvas becomes round(width*sx) x round(height*sy).
func Scale(grid *image.Gray, sx, sy float64) (*image.Gray, error) {
	for _, f := range []float64{sx, sy} {
		if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			return nil, &InvalidParameterError{
				Kind:   KindScaling,
				Reason: fmt.Sprintf("scale factors must be positive, got x=%v y=%v", sx, sy),
			}
		}
	}

	b := grid.Bounds()
	w := int(math.Round(float64(b.Dx()) * sx))
	h := int(math.Round(float64(b.Dy()) * sy))
	if w < 1 || h < 1 {
		return nil, &InvalidParameterError{
			Kind:   KindScaling,
			Reason: fmt.Sprintf("result would be %dx%d", w, h),
		}
	}
	if w > MaxDimension || h > MaxDimension {
		return nil, &InvalidParameterError{
			Kind:   KindScaling,
			Reason: fmt.Sprintf("result %dx%d exceeds %d pixels per side", w, h, MaxDimension),
		}
	}

	filter := imaging.Box
	if sx > 1 || sy > 1 {
		filter = imaging.Linear
	}
	return toGray(imaging.Resize(grid, w, h, filter)), nil
}

// Translate shifts grid by tx pixels to the right and ty pixels down on a
// black canvas of the same size.
func Translate(grid *image.Gray, tx, ty int) *image.Gray {
	b := grid.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), color.Black)
	return toGray(imaging.Paste(canvas, grid, image.Pt(tx, ty)))
}

// atOrigin returns grid itself when its bounds start at (0,0), a copy otherwise.
func atOrigin(grid *image.Gray) *image.Gray {
	if grid.Rect.Min == (image.Point{}) {
		return grid
	}
	dst := image.NewGray(image.Rect(0, 0, grid.Rect.Dx(), grid.Rect.Dy()))
	draw.Copy(dst, image.Point{}, grid, grid.Rect, draw.Src, nil)
	return dst
}
