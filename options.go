package watermark

import (
	"fmt"
	"math"
)

// Options describes one watermark tile. Text is supplied separately so the
// same Options can be reused for several labels.
type Options struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Rotate     float64 `yaml:"rotate"`  // degrees, clockwise
	Opacity    float64 `yaml:"opacity"` // 0..1
	FontColor  string  `yaml:"font_color"`
	FontWeight string  `yaml:"font_weight"`
	FontFamily string  `yaml:"font_family"`
	FontSize   float64 `yaml:"font_size"` // px
}

// DefaultOptions returns the tile configuration used when the caller does not
// override a field.
func DefaultOptions() Options {
	return Options{
		Width:      160,
		Height:     100,
		Opacity:    0.15,
		Rotate:     -20,
		FontColor:  "#727071",
		FontWeight: "normal",
		FontFamily: "sans-serif",
		FontSize:   9,
	}
}

// Partial carries caller overrides. A nil field keeps the base value, which
// lets a caller set Opacity or Rotate to zero explicitly.
type Partial struct {
	Width      *int     `yaml:"width"`
	Height     *int     `yaml:"height"`
	Rotate     *float64 `yaml:"rotate"`
	Opacity    *float64 `yaml:"opacity"`
	FontColor  *string  `yaml:"font_color"`
	FontWeight *string  `yaml:"font_weight"`
	FontFamily *string  `yaml:"font_family"`
	FontSize   *float64 `yaml:"font_size"`
}

// Merge applies p on top of base field by field. Later calls win, so
// Merge(Merge(DefaultOptions(), file), flags) gives flags precedence over the
// config file and the file precedence over defaults.
func Merge(base Options, p Partial) Options {
	out := base
	if p.Width != nil {
		out.Width = *p.Width
	}
	if p.Height != nil {
		out.Height = *p.Height
	}
	if p.Rotate != nil {
		out.Rotate = *p.Rotate
	}
	if p.Opacity != nil {
		out.Opacity = *p.Opacity
	}
	if p.FontColor != nil {
		out.FontColor = *p.FontColor
	}
	if p.FontWeight != nil {
		out.FontWeight = *p.FontWeight
	}
	if p.FontFamily != nil {
		out.FontFamily = *p.FontFamily
	}
	if p.FontSize != nil {
		out.FontSize = *p.FontSize
	}
	return out
}

// Partial returns every field of o as an override.
func (o Options) Partial() Partial {
	return Partial{
		Width:      &o.Width,
		Height:     &o.Height,
		Rotate:     &o.Rotate,
		Opacity:    &o.Opacity,
		FontColor:  &o.FontColor,
		FontWeight: &o.FontWeight,
		FontFamily: &o.FontFamily,
		FontSize:   &o.FontSize,
	}
}

// Validate reports the first misconfigured field as a *ConfigError. Values
// are never clamped.
func (o Options) Validate() error {
	switch {
	case o.Width <= 0:
		return &ConfigError{Field: "width", Reason: fmt.Sprintf("must be > 0, got %d", o.Width)}
	case o.Height <= 0:
		return &ConfigError{Field: "height", Reason: fmt.Sprintf("must be > 0, got %d", o.Height)}
	case math.IsNaN(o.FontSize) || o.FontSize <= 0:
		return &ConfigError{Field: "font_size", Reason: fmt.Sprintf("must be > 0, got %v", o.FontSize)}
	case math.IsNaN(o.Opacity) || o.Opacity < 0 || o.Opacity > 1:
		return &ConfigError{Field: "opacity", Reason: fmt.Sprintf("must be within [0,1], got %v", o.Opacity)}
	case math.IsNaN(o.Rotate) || math.IsInf(o.Rotate, 0):
		return &ConfigError{Field: "rotate", Reason: "must be a finite angle"}
	}
	if _, err := parseColor(o.FontColor); err != nil {
		return &ConfigError{Field: "font_color", Reason: err.Error()}
	}
	if _, err := parseWeight(o.FontWeight); err != nil {
		return &ConfigError{Field: "font_weight", Reason: err.Error()}
	}
	return nil
}
