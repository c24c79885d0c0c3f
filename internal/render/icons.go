package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Icon names used by the dials.
const (
	IconCalendar    = "calendar"
	IconClock       = "clock"
	IconThermometer = "thermometer"
)

const glyphSize = 48

// IconSet maps icon names to artwork. Names missing from the set fall back
// to the built-in glyphs.
type IconSet map[string]image.Image

// Lookup returns the icon for name, or nil when nothing matches.
func (s IconSet) Lookup(name string) image.Image {
	if name == "" {
		return nil
	}
	if img, ok := s[name]; ok {
		return img
	}
	return builtin(name)
}

// LoadIconDir reads every <name>.png in dir. A missing dir yields an
// empty set; unreadable files are reported together.
func LoadIconDir(dir string) (IconSet, error) {
	set := IconSet{}
	if dir == "" {
		return set, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return set, nil
		}
		return set, err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		img, err := decodePNG(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("icon %s: %w", name, err))
			continue
		}
		set[name] = img
	}
	return set, errors.Join(errs...)
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

func builtin(name string) image.Image {
	switch name {
	case IconCalendar:
		return calendarGlyph()
	case IconClock:
		return clockGlyph()
	case IconThermometer:
		return thermometerGlyph()
	}
	return nil
}

func newGlyph() *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, glyphSize, glyphSize))
}

var ink = color.NRGBA{A: 0xff}

func fillRect(img *image.NRGBA, x0, y0, x1, y1 int) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetNRGBA(x, y, ink)
		}
	}
}

func ring(img *image.NRGBA, cx, cy, r, thick int, fill bool) {
	outer := r * r
	inner := (r - thick) * (r - thick)
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			d := (x-cx)*(x-cx) + (y-cy)*(y-cy)
			if d <= outer && (fill || d >= inner) {
				img.SetNRGBA(x, y, ink)
			}
		}
	}
}

func calendarGlyph() image.Image {
	img := newGlyph()
	// Frame and header band.
	fillRect(img, 4, 8, 44, 12)
	fillRect(img, 4, 8, 7, 44)
	fillRect(img, 41, 8, 44, 44)
	fillRect(img, 4, 41, 44, 44)
	fillRect(img, 4, 12, 44, 18)
	// Binder rings.
	fillRect(img, 12, 3, 16, 10)
	fillRect(img, 32, 3, 36, 10)
	// Day cells.
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			x := 10 + col*8
			y := 22 + row*6
			fillRect(img, x, y, x+4, y+3)
		}
	}
	return img
}

func clockGlyph() image.Image {
	img := newGlyph()
	ring(img, 24, 24, 21, 4, false)
	// Hands at roughly ten past two.
	fillRect(img, 22, 10, 26, 26)
	fillRect(img, 22, 22, 34, 26)
	ring(img, 24, 24, 3, 3, true)
	return img
}

func thermometerGlyph() image.Image {
	img := newGlyph()
	// Tube outline and half-full column.
	fillRect(img, 19, 2, 29, 4)
	fillRect(img, 19, 2, 21, 34)
	fillRect(img, 27, 2, 29, 34)
	fillRect(img, 22, 18, 26, 36)
	// Bulb.
	ring(img, 24, 39, 8, 8, true)
	// Tick marks.
	for y := 8; y <= 28; y += 5 {
		fillRect(img, 31, y, 36, y+2)
	}
	return img
}
