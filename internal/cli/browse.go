package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	watermark "github.com/gcslaoli/watermark-guard-go"
	"github.com/gcslaoli/watermark-guard-go/rodhost"
)

type browseOpts struct {
	tile         tileFlags
	remote       string
	headful      bool
	stealth      bool
	noRestore    bool
	guardWrapper bool
}

func newBrowseCmd() *cobra.Command {
	var opts browseOpts

	cmd := &cobra.Command{
		Use:   "browse URL",
		Short: "Open a page in Chrome with a guarded watermark overlay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := loggerFromContext(ctx)
			cfg := configFromContext(ctx)

			store, err := openAlarmLog(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			remote := opts.remote
			if remote == "" {
				remote = cfg.Browser.Remote
			}
			sess, err := rodhost.OpenPage(ctx, args[0], rodhost.BrowserConfig{
				RemoteURL:  remote,
				Headless:   !(opts.headful || cfg.Browser.Headful),
				Stealth:    opts.stealth || cfg.Browser.Stealth,
				NavTimeout: cfg.Browser.NavTimeout,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			host, err := rodhost.New(ctx, sess.Page, logger)
			if err != nil {
				return err
			}
			defer host.Close()

			text, tile := opts.tile.resolve(cmd, cfg)
			monitor := cfg.Monitoring()
			o, err := watermark.Mount(host, "", watermark.Props{
				Text:         text,
				Options:      tile.Partial(),
				Monitor:      &monitor,
				NoRestore:    opts.noRestore || cfg.Defense.NoRestore,
				GuardWrapper: opts.guardWrapper || cfg.Defense.GuardWrapper,
				Alarm:        alarmHandler(ctx, store, args[0]),
				Logger:       logger,
			})
			if err != nil {
				return fmt.Errorf("mount: %w", err)
			}
			logger.Info("overlay mounted", "url", args[0], "watermark", o.Identity().WatermarkID)

			<-ctx.Done()
			o.Session().Stop()
			return nil
		},
	}

	addTileFlags(cmd, &opts.tile)
	f := cmd.Flags()
	f.StringVar(&opts.remote, "remote", "", "DevTools websocket URL of a running Chrome")
	f.BoolVar(&opts.headful, "headful", false, "show the browser window")
	f.BoolVar(&opts.stealth, "stealth", false, "hide automation fingerprints")
	f.BoolVar(&opts.noRestore, "no-restore", false, "only report tampering, do not repair it")
	f.BoolVar(&opts.guardWrapper, "guard-wrapper", false, "guard all wrapper attributes, not only its id")
	return cmd
}
