package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Shy/vu-consumer/internal/convert"
)

// VU dial e-paper geometry.
const (
	DialWidth  = 200
	DialHeight = 144
)

// Spec describes one dial face: a scale from Low to High in Unit, a
// centred Label and an Icon drawn above it.
type Spec struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Unit  string  `json:"unit"`
	Label string  `json:"label"`
	Icon  string  `json:"icon"`
}

// ScaleText formats one end of the scale the way the dial prints it,
// e.g. "6 Hrs" or "97°F".
func ScaleText(v float64, unit string) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + unit
}

// Renderer turns a Spec into a PNG. It holds no mutable state, so one
// Renderer can be shared by every dial.
type Renderer struct {
	icons  IconSet
	width  int
	height int
	face   font.Face
}

// New returns a Renderer for the standard dial size. icons may be nil.
func New(icons IconSet) *Renderer {
	return &Renderer{
		icons:  icons,
		width:  DialWidth,
		height: DialHeight,
		face:   basicfont.Face7x13,
	}
}

// Render draws spec, reduces it to the panel's two inks and encodes it as
// PNG.
func (r *Renderer) Render(spec Spec) ([]byte, error) {
	img := convert.Mono(r.Draw(spec))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Draw lays out the dial face: icon top centre, label under it, scale
// ends in the bottom corners.
func (r *Renderer) Draw(spec Spec) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	iconSize := int(math.Round(float64(r.height) / 4))
	iconH := 0
	if icon := r.icons.Lookup(spec.Icon); icon != nil {
		fit := contain(icon.Bounds(), iconSize)
		x := (r.width - fit.Dx()) / 2
		dst := fit.Add(image.Pt(x, 5))
		draw.CatmullRom.Scale(img, dst, icon, icon.Bounds(), draw.Over, nil)
		iconH = fit.Dy()
	}

	bottom := r.height - 14

	label := r.truncate(spec.Label, r.width-4)
	r.text(img, (r.width-r.textWidth(label))/2, iconH+10, label)

	low := ScaleText(spec.Low, spec.Unit)
	high := ScaleText(spec.High, spec.Unit)
	r.text(img, 0, bottom, low)
	r.text(img, r.width-r.textWidth(high), bottom, high)

	return img
}

// text draws s with its top-left corner at (x, top). The degree sign is
// not in the 7x13 face, so it is drawn by hand.
func (r *Renderer) text(img *image.Gray, x, top int, s string) {
	ascent := r.face.Metrics().Ascent.Ceil()
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: r.face,
		Dot:  fixed.P(x, top+ascent),
	}
	for _, ch := range s {
		if ch == '°' {
			px := d.Dot.X.Ceil()
			drawDegree(img, px+1, top+1)
			d.Dot.X += r.advance('0')
			continue
		}
		d.DrawString(string(ch))
	}
}

func (r *Renderer) advance(ch rune) fixed.Int26_6 {
	adv, ok := r.face.GlyphAdvance(ch)
	if !ok {
		adv, _ = r.face.GlyphAdvance('0')
	}
	return adv
}

func (r *Renderer) textWidth(s string) int {
	var w fixed.Int26_6
	for _, ch := range s {
		w += r.advance(ch)
	}
	return w.Ceil()
}

// truncate shortens s with an ellipsis until it fits in width pixels.
func (r *Renderer) truncate(s string, width int) string {
	if r.textWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		cand := string(runes) + "..."
		if r.textWidth(cand) <= width {
			return cand
		}
	}
	return ""
}

// contain fits b inside a size×size box, keeping its aspect ratio.
func contain(b image.Rectangle, size int) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return image.Rect(0, 0, size, size)
	}
	if w >= h {
		return image.Rect(0, 0, size, max(1, h*size/w))
	}
	return image.Rect(0, 0, max(1, w*size/h), size)
}

func drawDegree(img *image.Gray, x, y int) {
	for _, p := range []image.Point{
		{1, 0}, {2, 0},
		{0, 1}, {3, 1},
		{0, 2}, {3, 2},
		{1, 3}, {2, 3},
	} {
		img.SetGray(x+p.X, y+p.Y, color.Gray{})
	}
}
