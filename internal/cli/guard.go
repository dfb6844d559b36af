package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	watermark "github.com/gcslaoli/watermark-guard-go"
	"github.com/gcslaoli/watermark-guard-go/defense"
	"github.com/gcslaoli/watermark-guard-go/filehost"
)

type guardOpts struct {
	tile         tileFlags
	parent       string
	wrapperID    string
	watermarkID  string
	noRestore    bool
	guardWrapper bool
	wrap         bool
	removeOnExit bool
}

func newGuardCmd() *cobra.Command {
	var opts guardOpts

	cmd := &cobra.Command{
		Use:   "guard FILE",
		Short: "Mount a watermark in an HTML file and keep it intact",
		Long: `Mount a watermark overlay in an HTML file and watch the file. Removing the
watermark or changing its attributes is undone and reported as a tamper alarm.

With --wrapper and --watermark an overlay that is already in the file is
adopted instead of mounting a new one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := loggerFromContext(ctx)
			cfg := configFromContext(ctx)

			if (opts.wrapperID == "") != (opts.watermarkID == "") {
				return errors.New("--wrapper and --watermark must be given together")
			}

			store, err := openAlarmLog(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			g, err := filehost.Open(filehost.Config{
				Path:     args[0],
				Debounce: cfg.File.Debounce,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			alarm := alarmHandler(ctx, store, g.Path())
			noRestore := opts.noRestore || cfg.Defense.NoRestore
			guardWrapper := opts.guardWrapper || cfg.Defense.GuardWrapper

			var teardown func() error
			if opts.wrapperID != "" {
				mark, ok := g.Resolve(opts.watermarkID)
				if !ok {
					return fmt.Errorf("watermark %q not found in %s", opts.watermarkID, g.Path())
				}
				_, tile, err := watermark.PatternFromStyle(mark.Attrs["style"])
				if err != nil {
					return fmt.Errorf("watermark %q carries no usable tile: %w", opts.watermarkID, err)
				}
				logger.Debug("adopted tile", "size", tile.Bounds().Size())

				s, err := defense.Start(defense.Config{
					Host:         g,
					WrapperID:    opts.wrapperID,
					WatermarkID:  opts.watermarkID,
					Alarm:        alarm,
					NoRestore:    noRestore,
					GuardWrapper: guardWrapper,
					Logger:       logger,
				})
				if err != nil {
					return err
				}
				teardown = func() error { s.Stop(); return nil }
				logger.Info("guarding existing overlay", "file", g.Path(), "wrapper", opts.wrapperID)
			} else {
				parent := opts.parent
				if !cmd.Flags().Changed("parent") {
					parent = cfg.File.Parent
				}
				text, tile := opts.tile.resolve(cmd, cfg)
				monitor := cfg.Monitoring()
				o, err := watermark.Mount(g, parent, watermark.Props{
					Text:         text,
					Options:      tile.Partial(),
					Monitor:      &monitor,
					Wrap:         opts.wrap || cfg.Defense.Wrap,
					NoRestore:    noRestore,
					GuardWrapper: guardWrapper,
					Alarm:        alarm,
					Logger:       logger,
				})
				if err != nil {
					return fmt.Errorf("mount: %w", err)
				}
				teardown = func() error {
					if opts.removeOnExit {
						return o.Unmount()
					}
					o.Session().Stop()
					return nil
				}
				id := o.Identity()
				logger.Info("overlay mounted", "file", g.Path(), "wrapper", id.WrapperID, "watermark", id.WatermarkID)
				if !monitor {
					return nil
				}
			}

			if err := g.Start(); err != nil {
				_ = teardown()
				return err
			}
			<-ctx.Done()
			g.Stop()
			return teardown()
		},
	}

	addTileFlags(cmd, &opts.tile)
	f := cmd.Flags()
	f.StringVar(&opts.parent, "parent", "", "id of the element to mount under (default body)")
	f.StringVar(&opts.wrapperID, "wrapper", "", "id of an existing overlay wrapper to adopt")
	f.StringVar(&opts.watermarkID, "watermark", "", "id of an existing watermark element to adopt")
	f.BoolVar(&opts.noRestore, "no-restore", false, "only report tampering, do not repair it")
	f.BoolVar(&opts.guardWrapper, "guard-wrapper", false, "guard all wrapper attributes, not only its id")
	f.BoolVar(&opts.wrap, "wrap", false, "move the parent's content into the overlay wrapper")
	f.BoolVar(&opts.removeOnExit, "remove-on-exit", false, "remove the overlay from the file on exit")
	return cmd
}
