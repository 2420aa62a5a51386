package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/labstack/gommon/bytes"
	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/lifecycle"
	"github.com/spf13/cobra"
)

func cacheCommand(rt *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the persisted cache",
	}
	cmd.AddCommand(cacheSizeCommand(rt), cachePurgeCommand(rt))
	return cmd
}

func cacheSizeCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Show entries and bytes per cache partition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireDatabaseBackend(rt.settings); err != nil {
				return err
			}
			g, err := rt.gateway()
			if err != nil {
				return err
			}
			defer g.Close() //nolint:errcheck // best effort on exit

			stats, err := cachestore.Stats(cmd.Context(), g.Registry, g.Names)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PARTITION\tENTRIES\tSIZE\tCURRENT")
			var total int64
			for _, p := range stats {
				total += p.Bytes
				fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", p.Name, p.Entries, bytes.Format(p.Bytes), p.Current)
			}
			fmt.Fprintf(w, "total\t\t%s\t\n", bytes.Format(total))
			return w.Flush()
		},
	}
}

func cachePurgeCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-stale",
		Short: "Delete partitions left over from previous cache versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireDatabaseBackend(rt.settings); err != nil {
				return err
			}
			g, err := rt.gateway()
			if err != nil {
				return err
			}
			defer g.Close() //nolint:errcheck // best effort on exit

			purged, err := lifecycle.PurgeStale(cmd.Context(), g.Registry, g.Names)
			for _, name := range purged {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
			if len(purged) == 0 && err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no stale partitions")
			}
			return err
		},
	}
}

// requireDatabaseBackend rejects cache commands against the memory backend,
// which holds nothing outside a running gateway.
func requireDatabaseBackend(s *conf.Settings) error {
	if s.Cache.Backend != conf.CacheBackendDatabase {
		return fmt.Errorf("cache.backend is %q; only the database backend persists partitions", s.Cache.Backend)
	}
	return nil
}
