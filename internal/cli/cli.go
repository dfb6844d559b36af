package cli

import (
	"context"
	"fmt"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/gcslaoli/watermark-guard-go/alarmlog"
	"github.com/gcslaoli/watermark-guard-go/defense"
	"github.com/gcslaoli/watermark-guard-go/internal/config"
)

var version = "dev"

// SetVersion sets the version shown by --version.
func SetVersion(v string) { version = v }

type globalOpts struct {
	configPath string
	verbose    bool
	dbPath     string
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	var g globalOpts

	root := &cobra.Command{
		Use:          "watermark",
		Short:        "Render tiled text watermarks and keep them on the page",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := charmlog.InfoLevel
			if g.verbose {
				level = charmlog.DebugLevel
			}
			logger := newLogger(cmd.ErrOrStderr(), level)

			cfg, err := config.LoadFile(g.configPath)
			if err != nil {
				return err
			}
			if g.dbPath != "" {
				cfg.AlarmLog.Path = g.dbPath
			}

			ctx := withLogger(cmd.Context(), logger)
			cmd.SetContext(withConfig(ctx, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite alarm log (overrides alarm_log.path)")

	root.AddCommand(newRenderCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newGuardCmd())
	root.AddCommand(newBrowseCmd())
	root.AddCommand(newEventsCmd())
	return root
}

// openAlarmLog opens the configured alarm log, or returns nil when none is
// configured.
func openAlarmLog(cfg *config.Config) (*alarmlog.Store, error) {
	if cfg.AlarmLog.Path == "" {
		return nil, nil
	}
	store, err := alarmlog.Open(cfg.AlarmLog.Path)
	if err != nil {
		return nil, fmt.Errorf("open alarm log: %w", err)
	}
	return store, nil
}

// alarmHandler logs every alarm and stores it when a log is open.
func alarmHandler(ctx context.Context, store *alarmlog.Store, source string) defense.AlarmFunc {
	logger := loggerFromContext(ctx)
	warn := func(a defense.Alarm) {
		logger.Warn("tamper alarm", "reason", a.Reason, "target", a.Target,
			"attributes", a.Attributes, "restored", a.Restored)
	}
	if store == nil {
		return warn
	}
	return alarmlog.Chain(warn, alarmlog.Recorder(store, source, logger))
}
