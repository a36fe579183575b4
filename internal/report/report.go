// Package report renders district rollups, radius searches and status
// counts as terminal tables, CSV and XLSX workbooks.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
)

// memberColumns are the per-stakeholder columns shared by CSV and XLSX.
var memberColumns = []string{
	"District",
	"GEOID",
	"District Name",
	"Stakeholder ID",
	"Name",
	"Street",
	"City",
	"State",
	"Zip Code",
	"Latitude",
	"Longitude",
}

// WriteDistrictTable prints one line per district with its member count.
func WriteDistrictTable(out io.Writer, groups []geospatial.DistrictGroup) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DISTRICT\tGEOID\tNAME\tSTAKEHOLDERS")
	_, _ = fmt.Fprintln(w, "--------\t-----\t----\t------------")

	total := 0
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", districtLabel(g), g.GEOID, g.Name, len(g.Stakeholders))
		total += len(g.Stakeholders)
	}
	_, _ = fmt.Fprintf(w, "\t\tTotal\t%d\n", total)
	return eris.Wrap(w.Flush(), "report: flush district table")
}

// WriteDistrictCSV writes one row per stakeholder, grouped by district.
func WriteDistrictCSV(out io.Writer, groups []geospatial.DistrictGroup) error {
	w := csv.NewWriter(out)
	if err := w.Write(memberColumns); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, g := range groups {
		for i := range g.Stakeholders {
			if err := w.Write(memberRow(g, &g.Stakeholders[i])); err != nil {
				return eris.Wrap(err, "report: write csv row")
			}
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "report: flush csv")
}

// SaveDistrictXLSX writes a workbook with a Summary sheet (one row per
// district) and a Stakeholders sheet (one row per member).
func SaveDistrictXLSX(path string, groups []geospatial.DistrictGroup) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	addRow(summary, "District", "GEOID", "Name", "Stakeholders")
	for _, g := range groups {
		row := summary.AddRow()
		row.AddCell().SetString(districtLabel(g))
		row.AddCell().SetString(g.GEOID)
		row.AddCell().SetString(g.Name)
		row.AddCell().SetInt(len(g.Stakeholders))
	}

	members, err := f.AddSheet("Stakeholders")
	if err != nil {
		return eris.Wrap(err, "report: add stakeholders sheet")
	}
	addRow(members, memberColumns...)
	for _, g := range groups {
		for i := range g.Stakeholders {
			addRow(members, memberRow(g, &g.Stakeholders[i])...)
		}
	}

	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

// WriteNearbyTable prints radius search results, closest first.
func WriteNearbyTable(out io.Writer, rows []stakeholder.Nearby) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DISTANCE_M\tID\tNAME\tCITY\tSTATE")
	for _, n := range rows {
		_, _ = fmt.Fprintf(w, "%.0f\t%s\t%s\t%s\t%s\n", n.DistanceMeters, n.ID, n.Name, n.City, n.State)
	}
	return eris.Wrap(w.Flush(), "report: flush nearby table")
}

// WriteStatusTable prints stakeholder counts per geocoding status.
func WriteStatusTable(out io.Writer, counts map[stakeholder.Status]int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	total := 0
	for _, s := range stakeholder.Statuses {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", s, counts[s])
		total += counts[s]
	}
	_, _ = fmt.Fprintf(w, "total:\t%d\n", total)
	return eris.Wrap(w.Flush(), "report: flush status table")
}

func districtLabel(g geospatial.DistrictGroup) string {
	if g.Label != "" {
		return g.Label
	}
	if g.GEOID != "" {
		return g.GEOID
	}
	return "#" + strconv.FormatInt(g.RegionID, 10)
}

func memberRow(g geospatial.DistrictGroup, s *stakeholder.Stakeholder) []string {
	var lat, lng string
	if s.Location != nil {
		lat = strconv.FormatFloat(s.Location.Lat, 'f', 6, 64)
		lng = strconv.FormatFloat(s.Location.Lng, 'f', 6, 64)
	}
	return []string{
		districtLabel(g), g.GEOID, g.Name,
		s.ID.String(), s.Name, s.Street, s.City, s.State, s.ZipCode,
		lat, lng,
	}
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
