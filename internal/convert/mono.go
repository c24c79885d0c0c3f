// Package convert reduces rendered faces to the two inks the VU dial's
// e-paper panel can show.
package convert

import (
	"image"
	"image/color"
)

// Palette is the panel's ink set. Index 0 is paper.
var Palette = color.Palette{color.White, color.Black}

// Threshold is the luma below which a pixel becomes black ink.
const Threshold = 128

// Mono converts img to a two-colour paletted image of the same bounds.
//
// Pixel rules:
//   - alpha < 128 is paper
//   - luma Y = 0.299R + 0.587G + 0.114B below Threshold is ink
//   - everything else is paper
func Mono(img image.Image) *image.Paletted {
	b := img.Bounds()
	out := image.NewPaletted(b, Palette)

	// Fast path for the renderer's own output.
	if g, ok := img.(*image.Gray); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			src := g.Pix[(y-b.Min.Y)*g.Stride:]
			dst := out.Pix[(y-b.Min.Y)*out.Stride:]
			for x := 0; x < b.Dx(); x++ {
				if src[x] < Threshold {
					dst[x] = 1
				}
			}
		}
		return out
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if isInk(c) {
				out.SetColorIndex(x, y, 1)
			}
		}
	}
	return out
}

func isInk(c color.NRGBA) bool {
	if c.A < 128 {
		return false
	}
	y := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	return y < Threshold
}
