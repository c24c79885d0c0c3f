// Package capture rasterizes SVG dial icons to PNG with headless Chromium,
// so artwork can be kept as SVG while the renderer only reads PNG.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	appLog "github.com/Shy/vu-consumer/internal/log"
)

const (
	// DefaultSize matches the icon box the renderer scales into, doubled
	// so downscaling stays crisp.
	DefaultSize       = 72
	DefaultTimeoutSec = 30
)

// Options controls a directory rasterization run.
type Options struct {
	SVGDir string
	PNGDir string

	// Size is the square output edge in pixels.
	Size int

	// Timeout bounds the whole run, browser start included.
	Timeout time.Duration

	// Force re-renders icons whose PNG is already newer than the SVG.
	Force bool
}

// Job is one SVG that needs a PNG.
type Job struct {
	Name string
	SVG  string
	PNG  string
}

// Pending lists the SVGs in opts.SVGDir whose PNG is missing or stale.
func Pending(opts Options) ([]Job, error) {
	entries, err := os.ReadDir(opts.SVGDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var jobs []Job
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".svg") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		job := Job{
			Name: name,
			SVG:  filepath.Join(opts.SVGDir, e.Name()),
			PNG:  filepath.Join(opts.PNGDir, name+".png"),
		}
		if !opts.Force && upToDate(job) {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func upToDate(j Job) bool {
	src, err := os.Stat(j.SVG)
	if err != nil {
		return false
	}
	dst, err := os.Stat(j.PNG)
	if err != nil {
		return false
	}
	return !dst.ModTime().Before(src.ModTime())
}

// RasterizeDir renders every pending SVG into PNGDir using one browser
// instance. It returns how many icons were written.
func RasterizeDir(parentCtx context.Context, opts Options) (int, error) {
	if opts.SVGDir == "" || opts.PNGDir == "" {
		return 0, errors.New("capture: SVGDir and PNGDir are required")
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	jobs, err := Pending(opts)
	if err != nil {
		return 0, fmt.Errorf("capture: scan %s: %w", opts.SVGDir, err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(opts.PNGDir, 0o755); err != nil {
		return 0, fmt.Errorf("capture: %w", err)
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var (
		written int
		errs    []error
	)
	for _, j := range jobs {
		svg, err := os.ReadFile(j.SVG)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
			continue
		}
		png, err := rasterize(ctx, svg, opts.Size)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
			continue
		}
		if err := os.WriteFile(j.PNG, png, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
			continue
		}
		written++
		appLog.Debug("icon rasterized", "icon", j.Name, "png", j.PNG, "size", opts.Size)
	}
	return written, errors.Join(errs...)
}

// RasterizeSVG renders a single SVG document to a size×size PNG.
func RasterizeSVG(parentCtx context.Context, svg []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, time.Duration(DefaultTimeoutSec)*time.Second)
	defer timeoutCancel()
	return rasterize(ctx, svg, size)
}

func rasterize(ctx context.Context, svg []byte, size int) ([]byte, error) {
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(size), int64(size)),
		chromedp.Navigate(PageURL(svg, size)),
		chromedp.WaitVisible(`#icon`, chromedp.ByID),
		chromedp.Screenshot(`#icon`, &png, chromedp.ByID),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return png, nil
}

// PageURL wraps svg in a data: URL page that draws it into a white
// size×size box with id "icon".
func PageURL(svg []byte, size int) string {
	img := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(svg)
	page := fmt.Sprintf(`<!doctype html><html><body style="margin:0;background:#fff">`+
		`<img id="icon" src="%s" width="%d" height="%d" style="display:block;object-fit:contain">`+
		`</body></html>`, img, size, size)
	return "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(page))
}
