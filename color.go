package watermark

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

var namedColors = map[string]string{
	"black":  "#000000",
	"white":  "#ffffff",
	"gray":   "#808080",
	"grey":   "#808080",
	"silver": "#c0c0c0",
	"red":    "#ff0000",
	"green":  "#008000",
	"blue":   "#0000ff",
	"orange": "#ffa500",
}

// rgba is a colour with straight (non-premultiplied) components in [0,1].
type rgba struct {
	R, G, B, A float64
}

// parseColor understands #rgb, #rrggbb, rgb(), rgba() and a few colour names.
func parseColor(s string) (rgba, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if hex, ok := namedColors[v]; ok {
		v = hex
	}
	switch {
	case v == "transparent":
		return rgba{}, nil
	case strings.HasPrefix(v, "#"):
		c, err := colorful.Hex(v)
		if err != nil {
			return rgba{}, fmt.Errorf("font color %q: %w", s, err)
		}
		return rgba{R: c.R, G: c.G, B: c.B, A: 1}, nil
	case strings.HasPrefix(v, "rgb"):
		return parseRGBFunc(s, v)
	}
	return rgba{}, fmt.Errorf("unsupported font color %q", s)
}

func parseRGBFunc(orig, v string) (rgba, error) {
	open, end := strings.IndexByte(v, '('), strings.LastIndexByte(v, ')')
	if open < 0 || end < open {
		return rgba{}, fmt.Errorf("malformed color %q", orig)
	}
	parts := strings.Split(v[open+1:end], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return rgba{}, fmt.Errorf("malformed color %q", orig)
	}
	var ch [4]float64
	ch[3] = 1
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return rgba{}, fmt.Errorf("malformed color %q: %w", orig, err)
		}
		if i < 3 {
			if n < 0 || n > 255 {
				return rgba{}, fmt.Errorf("color channel out of range in %q", orig)
			}
			n /= 255
		} else if n < 0 || n > 1 {
			return rgba{}, fmt.Errorf("alpha out of range in %q", orig)
		}
		ch[i] = n
	}
	return rgba{R: ch[0], G: ch[1], B: ch[2], A: ch[3]}, nil
}

// withAlpha returns the colour as an NRGBA with its alpha scaled by a, which
// is how canvas globalAlpha composes with the fill colour.
func (c rgba) withAlpha(a float64) color.NRGBA {
	return color.NRGBA{
		R: uint8(c.R*255 + 0.5),
		G: uint8(c.G*255 + 0.5),
		B: uint8(c.B*255 + 0.5),
		A: uint8(c.A*a*255 + 0.5),
	}
}
