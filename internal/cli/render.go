package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	watermark "github.com/gcslaoli/watermark-guard-go"
)

type renderOpts struct {
	tile    tileFlags
	output  string // PNG path
	dataURI bool   // print the data URI instead of writing a file
}

func newRenderCmd() *cobra.Command {
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a watermark tile",
		Example: `  watermark render -t CONFIDENTIAL -t alice@example.com --out tile.png
  watermark render -t DRAFT --data-uri`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			text, tile := opts.tile.resolve(cmd, configFromContext(ctx))

			p, err := watermark.Generate(text, tile)
			if err != nil {
				return err
			}
			if opts.dataURI {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), string(p))
				return err
			}

			raw, err := p.PNG()
			if err != nil {
				return err
			}
			out := opts.output
			if out == "" {
				out = "watermark.png"
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			logger.Info("tile written", "path", out, "width", tile.Width, "height", tile.Height, "bytes", len(raw))
			return nil
		},
	}

	addTileFlags(cmd, &opts.tile)
	cmd.Flags().StringVarP(&opts.output, "out", "o", "", "output PNG path (default watermark.png)")
	cmd.Flags().BoolVar(&opts.dataURI, "data-uri", false, "print the tile as a data URI instead of writing a file")
	return cmd
}
