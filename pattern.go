package watermark

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/fogleman/gg"
)

const (
	// MaxSurfaceSide bounds each tile dimension. Larger surfaces are refused
	// with a RenderError instead of exhausting memory.
	MaxSurfaceSide = 8192

	// lineHeight is the vertical advance between stacked lines, relative to
	// the font size.
	lineHeight = 1.5

	dataURIPrefix = "data:image/png;base64,"
)

// Pattern is one encoded watermark tile: a PNG data URI ready to be used as
// a CSS background image.
type Pattern string

// CSS returns the pattern as a background-image value.
func (p Pattern) CSS() string {
	return `url("` + string(p) + `")`
}

// Image decodes the pattern back into pixels.
func (p Pattern) Image() (image.Image, error) {
	img, _, err := DecodeDataURI(string(p))
	return img, err
}

// Engine renders watermark tiles. It caches parsed fonts; every Generate call
// still gets its own drawing surface and font face.
type Engine struct {
	fonts *fontCache
}

// NewEngine constructs an Engine with lazily parsed fonts.
func NewEngine() *Engine {
	return &Engine{fonts: newFontCache()}
}

var defaultEngine struct {
	once sync.Once
	eng  *Engine
}

// Generate renders text with the default engine.
func Generate(text []string, opts Options) (Pattern, error) {
	defaultEngine.once.Do(func() {
		defaultEngine.eng = NewEngine()
	})

	return defaultEngine.eng.Generate(text, opts)
}

// Generate renders one tile: opts.Width x opts.Height, rotated about its
// centre by opts.Rotate degrees, with each entry of text on its own line.
// Equal inputs always produce byte-identical output.
func (e *Engine) Generate(text []string, opts Options) (Pattern, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	if opts.Width > MaxSurfaceSide || opts.Height > MaxSurfaceSide {
		return "", &RenderError{
			Op:  "allocate",
			Err: fmt.Errorf("surface %dx%d exceeds %d px per side", opts.Width, opts.Height, MaxSurfaceSide),
		}
	}

	fill, err := parseColor(opts.FontColor)
	if err != nil {
		return "", &ConfigError{Field: "font_color", Reason: err.Error()}
	}

	dc, err := newSurface(opts.Width, opts.Height)
	if err != nil {
		return "", &RenderError{Op: "allocate", Err: err}
	}

	if !blank(text) {
		face, err := e.fonts.newFace(opts.FontFamily, opts.FontWeight, opts.FontSize)
		if err != nil {
			return "", &RenderError{Op: "font", Err: err}
		}
		defer face.Close()

		w, h := float64(opts.Width), float64(opts.Height)
		dc.RotateAbout(gg.Radians(opts.Rotate), w/2, h/2)
		dc.SetFontFace(face)
		dc.SetColor(fill.withAlpha(opts.Opacity))

		step := opts.FontSize * lineHeight
		top := h/2 - step*float64(len(text)-1)/2
		for i, line := range text {
			dc.DrawStringAnchored(line, w/2, top+float64(i)*step, 0.5, 0.5)
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return "", &RenderError{Op: "encode", Err: err}
	}
	return Pattern(dataURIPrefix + encodeBase64(buf.Bytes())), nil
}

// newSurface allocates a transparent drawing context, converting allocation
// panics into errors.
func newSurface(width, height int) (dc *gg.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			dc, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return gg.NewContext(width, height), nil
}

// blank reports whether there is nothing to draw. Blank lines between
// non-blank ones still take up a line slot.
func blank(text []string) bool {
	for _, line := range text {
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}
