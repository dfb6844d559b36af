package watermark

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// faceKey selects one embedded Go font file.
type faceKey string

const (
	faceRegular  faceKey = "regular"
	faceMedium   faceKey = "medium"
	faceBold     faceKey = "bold"
	faceMono     faceKey = "mono"
	faceMonoBold faceKey = "mono-bold"
)

var faceSources = map[faceKey][]byte{
	faceRegular:  goregular.TTF,
	faceMedium:   gomedium.TTF,
	faceBold:     gobold.TTF,
	faceMono:     gomono.TTF,
	faceMonoBold: gomonobold.TTF,
}

// fontCache parses each embedded font at most once.
type fontCache struct {
	entries map[faceKey]*fontEntry
}

type fontEntry struct {
	once sync.Once
	font *opentype.Font
	err  error
}

func newFontCache() *fontCache {
	c := &fontCache{entries: make(map[faceKey]*fontEntry, len(faceSources))}
	for k := range faceSources {
		c.entries[k] = new(fontEntry)
	}
	return c
}

func (c *fontCache) font(key faceKey) (*opentype.Font, error) {
	e, ok := c.entries[key]
	if !ok {
		return nil, fmt.Errorf("unknown font face %q", key)
	}
	e.once.Do(func() {
		e.font, e.err = opentype.Parse(faceSources[key])
	})
	if e.err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, e.err)
	}
	return e.font, nil
}

// newFace builds a fresh face for one render. font.Face values are not safe
// for concurrent use, so they are never shared between calls.
func (c *fontCache) newFace(family, weight string, size float64) (font.Face, error) {
	w, err := parseWeight(weight)
	if err != nil {
		return nil, err
	}
	f, err := c.font(selectFace(family, w))
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72, // 1pt == 1px
		Hinting: font.HintingFull,
	})
}

// selectFace maps a CSS font-family list and numeric weight onto the
// embedded Go fonts. The first recognised generic family wins; anything else
// falls back to sans-serif.
func selectFace(family string, weight int) faceKey {
	mono := false
	for _, name := range strings.Split(family, ",") {
		name = strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'`))
		if name == "monospace" || name == "go mono" {
			mono = true
			break
		}
		if name == "sans-serif" || name == "serif" || name == "go" {
			break
		}
	}
	switch {
	case mono && weight >= 600:
		return faceMonoBold
	case mono:
		return faceMono
	case weight >= 600:
		return faceBold
	case weight >= 500:
		return faceMedium
	default:
		return faceRegular
	}
}

// parseWeight accepts the CSS font-weight keywords and 100..900.
func parseWeight(weight string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(weight)) {
	case "", "normal", "lighter":
		return 400, nil
	case "bold", "bolder":
		return 700, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(weight))
	if err != nil || n < 1 || n > 1000 {
		return 0, fmt.Errorf("unsupported font weight %q", weight)
	}
	return n, nil
}
