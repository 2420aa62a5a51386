package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/menubuilder/offline-gateway/internal/backgroundsync"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/spf13/cobra"
)

func syncCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [tag...]",
		Short: "Replay queued offline submissions to the origin",
		Long: "Replays the offline queues named by their sync tags " +
			"(product-submission, ingredient-submission), or every queue when no tag is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := backgroundsync.Kinds()
			if len(args) > 0 {
				kinds = kinds[:0]
				for _, arg := range args {
					kind, err := backgroundsync.ParseTag(arg)
					if err != nil {
						return err
					}
					kinds = append(kinds, kind)
				}
			}

			g, err := rt.gateway()
			if err != nil {
				return err
			}
			defer g.Close() //nolint:errcheck // best effort on exit

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tATTEMPTED\tREPLAYED\tFAILED\tDURATION")
			var errs []error
			for _, kind := range kinds {
				report, err := g.Agent.Sync(cmd.Context(), kind)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				}
				if report != nil {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
						report.Kind, report.Attempted, report.Replayed, report.Failed, report.Duration.Round(time.Millisecond))
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}
}
