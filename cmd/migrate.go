package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/geospatial"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long:  "Applies pending SQL migrations (regions, stakeholders, geocode cache) in lexicographic order.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if status, _ := cmd.Flags().GetBool("status"); status {
			rows, err := geospatial.Status(ctx, pool)
			if err != nil {
				return eris.Wrap(err, "migrate status")
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "MIGRATION\tAPPLIED")
			for _, r := range rows {
				_, _ = fmt.Fprintf(w, "%s\t%t\n", r.Filename, r.Applied)
			}
			return w.Flush()
		}

		if err := geospatial.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("status", false, "list migrations and whether each is applied")
	rootCmd.AddCommand(migrateCmd)
}
