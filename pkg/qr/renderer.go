package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// Renderer turns token payload bytes into a PNG image.
type Renderer struct {
	size int
}

// NewRenderer builds a renderer producing square images of the given pixel
// size. Values below 64 fall back to 300, the size the scan clients expect.
func NewRenderer(size int) *Renderer {
	if size < 64 {
		size = 300
	}
	return &Renderer{size: size}
}

// RenderPNG encodes the payload at high error correction so a partially
// obscured projector image still scans.
func (r *Renderer) RenderPNG(payload []byte) ([]byte, error) {
	img, err := qrcode.Encode(string(payload), qrcode.High, r.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr payload: %w", err)
	}
	return img, nil
}
