package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/tiger"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Manage district boundary regions",
}

var regionsImportCmd = &cobra.Command{
	Use:   "import <shapefile|zip|url>",
	Short: "Import a TIGER/Line boundary shapefile",
	Long: "Loads every polygon of a Census TIGER/Line shapefile as regions of the given type. " +
		"The source may be a .shp path, a .zip archive or an http(s) URL. " +
		"Run `geocode reassign` afterwards to refresh stakeholder districts.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()
		typeName, _ := f.GetString("type")
		t, err := geo.ParseRegionType(typeName)
		if err != nil {
			return err
		}
		opts := tiger.ImportOptions{Source: args[0], Type: t}
		opts.Replace, _ = f.GetBool("replace")
		opts.DryRun, _ = f.GetBool("dry-run")
		opts.StateFIPS, err = stateFIPSFlag(cmd)
		if err != nil {
			return err
		}

		fetcher := tiger.NewFetcher(cfg.Regions.TempDir)
		var store geospatial.RegionStore = geospatial.NewMemoryRegionStore()
		if !opts.DryRun {
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			store = geospatial.NewPostgresRegionStore(pool)
		}

		res, err := tiger.NewImporter(fetcher, store).Import(ctx, opts)
		if err != nil {
			return err
		}
		verb := "imported"
		if opts.DryRun {
			verb = "parsed"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s regions (%d written) from %s in %s\n",
			verb, res.Read, res.Type, res.Written, res.Path, res.Duration.Round(time.Millisecond))
		return nil
	},
}

// stateFIPSFlag accepts --state-fips as either a FIPS code or a two-letter
// postal code.
func stateFIPSFlag(cmd *cobra.Command) (string, error) {
	v, _ := cmd.Flags().GetString("state-fips")
	if v == "" {
		return "", nil
	}
	if _, ok := address.StateForFIPS(v); ok {
		return v, nil
	}
	if st, err := address.ValidateState(v); err == nil {
		if fips, ok := address.StateFIPS(st); ok {
			return fips, nil
		}
	}
	return "", eris.Errorf("--state-fips: unknown state %q", v)
}

var regionsLookupCmd = &cobra.Command{
	Use:   "lookup <shapefile|zip|url>",
	Short: "Find the region covering a point, without a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		typeName, _ := f.GetString("type")
		t, err := geo.ParseRegionType(typeName)
		if err != nil {
			return err
		}
		lat, _ := f.GetFloat64("lat")
		lng, _ := f.GetFloat64("lng")
		return runLookup(cmd.Context(), cmd.OutOrStdout(), tiger.NewFetcher(cfg.Regions.TempDir), args[0], t, geo.Point{Lat: lat, Lng: lng})
	},
}

func runLookup(ctx context.Context, out io.Writer, fetcher *tiger.Fetcher, src string, t geo.RegionType, pt geo.Point) error {
	if err := pt.Validate(); err != nil {
		return err
	}
	shpPath, err := fetcher.Fetch(ctx, src)
	if err != nil {
		return err
	}
	regions, err := tiger.ReadRegions(shpPath, t)
	if err != nil {
		return err
	}

	assigner := geospatial.NewAssigner(geospatial.NewMemoryRegionStore(regions...))
	r, err := assigner.FindDistrictForPoint(ctx, pt, t)
	if err != nil {
		return err
	}
	if r == nil {
		_, _ = fmt.Fprintf(out, "no %s covers %s (%d regions searched)\n", t, pt, len(regions))
		return nil
	}
	label := r.Label
	if label == "" {
		label = r.Name
	}
	_, _ = fmt.Fprintf(out, "%s %s %s\n", r.Type, r.GEOID, label)
	return nil
}

var regionsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count stored regions per type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		counts, err := geospatial.NewPostgresRegionStore(pool).Counts(ctx)
		if err != nil {
			return eris.Wrap(err, "regions status")
		}
		return writeRegionCounts(cmd.OutOrStdout(), counts)
	},
}

func writeRegionCounts(out io.Writer, counts map[geo.RegionType]int) error {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tREGIONS")
	for _, t := range types {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", t, counts[geo.RegionType(t)])
	}
	return w.Flush()
}

func init() {
	imf := regionsImportCmd.Flags()
	imf.String("type", "", "region type: state, county, congressional, state_upper or state_lower")
	imf.Bool("replace", false, "replace existing regions of this type instead of upserting")
	imf.String("state-fips", "", "only records for this state (FIPS or postal code)")
	imf.Bool("dry-run", false, "parse without writing")
	_ = regionsImportCmd.MarkFlagRequired("type")

	lf := regionsLookupCmd.Flags()
	lf.String("type", string(geo.Congressional), "region type stored in the shapefile")
	lf.Float64("lat", 0, "latitude")
	lf.Float64("lng", 0, "longitude")
	_ = regionsLookupCmd.MarkFlagRequired("lat")
	_ = regionsLookupCmd.MarkFlagRequired("lng")

	regionsCmd.AddCommand(regionsImportCmd, regionsLookupCmd, regionsStatusCmd)
	rootCmd.AddCommand(regionsCmd)
}
