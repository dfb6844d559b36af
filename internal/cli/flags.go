package cli

import (
	"github.com/spf13/cobra"

	watermark "github.com/gcslaoli/watermark-guard-go"
	"github.com/gcslaoli/watermark-guard-go/internal/config"
)

// tileFlags are the tile options settable on the command line. Only flags
// the user actually set override the configuration file.
type tileFlags struct {
	text   []string
	width  int
	height int
	rotate float64
	alpha  float64
	color  string
	weight string
	family string
	size   float64
}

func addTileFlags(cmd *cobra.Command, f *tileFlags) {
	d := watermark.DefaultOptions()
	fs := cmd.Flags()
	fs.StringArrayVarP(&f.text, "text", "t", nil, "watermark line (repeat for several lines)")
	fs.IntVar(&f.width, "width", d.Width, "tile width in px")
	fs.IntVar(&f.height, "height", d.Height, "tile height in px")
	fs.Float64Var(&f.rotate, "rotate", d.Rotate, "text rotation in degrees")
	fs.Float64Var(&f.alpha, "opacity", d.Opacity, "text opacity 0..1")
	fs.StringVar(&f.color, "color", d.FontColor, "text colour")
	fs.StringVar(&f.weight, "weight", d.FontWeight, "font weight")
	fs.StringVar(&f.family, "family", d.FontFamily, "font family")
	fs.Float64Var(&f.size, "size", d.FontSize, "font size in px")
}

// resolve merges defaults, the configuration file and the flags that were
// set, in that order of precedence.
func (f *tileFlags) resolve(cmd *cobra.Command, cfg *config.Config) ([]string, watermark.Options) {
	text := cfg.Text
	if len(f.text) > 0 {
		text = f.text
	}

	fs := cmd.Flags()
	var p watermark.Partial
	if fs.Changed("width") {
		p.Width = &f.width
	}
	if fs.Changed("height") {
		p.Height = &f.height
	}
	if fs.Changed("rotate") {
		p.Rotate = &f.rotate
	}
	if fs.Changed("opacity") {
		p.Opacity = &f.alpha
	}
	if fs.Changed("color") {
		p.FontColor = &f.color
	}
	if fs.Changed("weight") {
		p.FontWeight = &f.weight
	}
	if fs.Changed("family") {
		p.FontFamily = &f.family
	}
	if fs.Changed("size") {
		p.FontSize = &f.size
	}
	return text, watermark.Merge(cfg.Options(), p)
}
