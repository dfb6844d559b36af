package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded tamper alarms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openAlarmLog(configFromContext(ctx))
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("no alarm log configured: pass --db or set alarm_log.path")
			}
			defer store.Close()

			events, err := store.List(ctx, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tREASON\tTARGET\tATTRIBUTES\tRESTORED\tSOURCE")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
					e.At.Format(time.RFC3339), e.Reason, e.Target,
					strings.Join(e.Attributes, ","), e.Restored, e.Source)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events (0 = all)")
	return cmd
}
