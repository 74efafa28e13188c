package main

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

func grayFill(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

// gradient gives every pixel a distinct-enough value so shifts and copies are visible.
func gradient(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.SetGray(x, y, color.Gray{Y: uint8((x + 3*y) % 251)})
		}
	}
	return g
}

func encode(t *testing.T, img image.Image, format imaging.Format) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, imaging.Encode(&b, img, format))
	return b.Bytes()
}

func pngBytes(t *testing.T, img image.Image) []byte {
	return encode(t, img, imaging.PNG)
}

// withOrientation inserts an EXIF APP1 segment carrying only the orientation
// tag right after the SOI marker of a JPEG stream.
func withOrientation(t *testing.T, jpeg []byte, orientation byte) []byte {
	t.Helper()
	require.True(t, len(jpeg) > 2 && jpeg[0] == 0xff && jpeg[1] == 0xd8)

	tiff := []byte{
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08, // header, IFD at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, orientation, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	size := len(payload) + 2

	var b bytes.Buffer
	b.Write(jpeg[:2])
	b.Write([]byte{0xff, 0xe1, byte(size >> 8), byte(size)})
	b.Write(payload)
	b.Write(jpeg[2:])
	return b.Bytes()
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

// withPNGSize rewrites the IHDR dimensions of a PNG stream, leaving the pixel
// data as it was, so only header-level readers see the new size.
func withPNGSize(t *testing.T, png []byte, w, h uint32) []byte {
	t.Helper()
	out := bytes.Clone(png)
	// signature(8) length(4) "IHDR"(4) then width, height
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}
