package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Spatial reports over geocoded stakeholders",
}

var reportDistrictsCmd = &cobra.Command{
	Use:   "districts",
	Short: "List stakeholders grouped by district",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()
		typeName, _ := f.GetString("type")
		t, err := geo.ParseRegionType(typeName)
		if err != nil {
			return err
		}
		state, _ := f.GetString("state")
		if state != "" {
			if state, err = address.ValidateState(state); err != nil {
				return eris.Wrap(err, "--state")
			}
		}
		xlsxPath, _ := f.GetString("xlsx")
		csvPath, _ := f.GetString("csv")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		groups, err := geospatial.GetStakeholdersByDistrict(ctx, env.Stakeholders, env.Regions, t, state)
		if err != nil {
			return err
		}

		switch {
		case xlsxPath != "":
			if err := report.SaveDistrictXLSX(xlsxPath, groups); err != nil {
				return err
			}
			zap.L().Info("district report written", zap.String("path", xlsxPath), zap.Int("districts", len(groups)))
			return nil
		case csvPath != "":
			out, err := os.Create(csvPath)
			if err != nil {
				return eris.Wrapf(err, "report: create %s", csvPath)
			}
			if err := report.WriteDistrictCSV(out, groups); err != nil {
				_ = out.Close()
				return err
			}
			zap.L().Info("district report written", zap.String("path", csvPath), zap.Int("districts", len(groups)))
			return eris.Wrap(out.Close(), "report: close csv")
		case formatFlag(cmd) == "json":
			return writeJSON(cmd.OutOrStdout(), groups)
		default:
			return report.WriteDistrictTable(cmd.OutOrStdout(), groups)
		}
	},
}

var reportNearCmd = &cobra.Command{
	Use:   "near",
	Short: "List geocoded stakeholders within a radius of a point",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()
		lat, _ := f.GetFloat64("lat")
		lng, _ := f.GetFloat64("lng")
		meters, _ := f.GetFloat64("meters")
		limit, _ := f.GetInt("limit")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := geospatial.FindStakeholdersNearPoint(ctx, env.Stakeholders, geo.Point{Lat: lat, Lng: lng}, meters, limit)
		if err != nil {
			return err
		}
		if formatFlag(cmd) == "json" {
			return writeJSON(cmd.OutOrStdout(), rows)
		}
		return report.WriteNearbyTable(cmd.OutOrStdout(), rows)
	},
}

func init() {
	df := reportDistrictsCmd.Flags()
	df.String("type", string(geo.Congressional), "district type: congressional, state_upper or state_lower")
	df.String("state", "", "only stakeholders in this two-letter state")
	df.String("xlsx", "", "write an Excel workbook to this path")
	df.String("csv", "", "write CSV to this path")
	df.String("format", "text", "stdout format: text or json")

	nf := reportNearCmd.Flags()
	nf.Float64("lat", 0, "latitude")
	nf.Float64("lng", 0, "longitude")
	nf.Float64("meters", 1000, "search radius in meters")
	nf.Int("limit", geospatial.DefaultNearLimit, "maximum stakeholders returned")
	nf.String("format", "text", "output format: text or json")
	_ = reportNearCmd.MarkFlagRequired("lat")
	_ = reportNearCmd.MarkFlagRequired("lng")

	reportCmd.AddCommand(reportDistrictsCmd, reportNearCmd)
	rootCmd.AddCommand(reportCmd)
}
