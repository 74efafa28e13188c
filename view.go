package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Shape is the (width, height, channels) triple shown next to each panel.
type Shape struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
}

func grayShape(g *image.Gray) Shape {
	b := g.Bounds()
	return Shape{Width: b.Dx(), Height: b.Dy(), Channels: 1}
}

// String follows the row-major array convention: (H, W, C), or (H, W) for a
// single channel.
func (s Shape) String() string {
	if s.Channels == 1 {
		return fmt.Sprintf("(%d, %d)", s.Height, s.Width)
	}
	return fmt.Sprintf("(%d, %d, %d)", s.Height, s.Width, s.Channels)
}

type Panel struct {
	Caption string `json:"caption"`
	Shape   Shape  `json:"shape"`
	// ShapeText is Shape formatted for display.
	ShapeText string `json:"shape_text"`
	// Image is a PNG data URL.
	Image string `json:"image"`
}

type Comparison struct {
	Kind   Kind   `json:"kind"`
	Before *Panel `json:"before"`
	// After is nil when the parameters could not produce a grid; Error says why.
	After *Panel `json:"after,omitempty"`
	Error string `json:"error,omitempty"`
}

type View struct {
	Stage      string      `json:"stage"`
	Message    string      `json:"message,omitempty"`
	Original   *Panel      `json:"original,omitempty"`
	Grayscale  *Panel      `json:"grayscale,omitempty"`
	Comparison *Comparison `json:"comparison,omitempty"`
}

// PanelEncoder turns images into display panels. Images wider than
// PreviewWidth are downsized for display; shapes always describe the
// full-size image.
type PanelEncoder struct {
	PreviewWidth int
}

func (e PanelEncoder) Panel(caption string, img image.Image, shape Shape) (*Panel, error) {
	if e.PreviewWidth > 0 && img.Bounds().Dx() > e.PreviewWidth {
		img = imaging.Resize(img, e.PreviewWidth, 0, imaging.Lanczos)
	}

	var b bytes.Buffer
	if err := imaging.Encode(&b, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode %q panel: %w", caption, err)
	}

	return &Panel{
		Caption:   caption,
		Shape:     shape,
		ShapeText: shape.String(),
		Image:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(b.Bytes()),
	}, nil
}
