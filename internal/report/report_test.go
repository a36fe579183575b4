package report

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
)

func sampleGroups() []geospatial.DistrictGroup {
	pt := geo.Point{Lat: 38.8977, Lng: -77.0365}
	return []geospatial.DistrictGroup{
		{
			RegionID: 1, GEOID: "1198", Name: "Delegate District (at Large)", Label: "DC-AL",
			Stakeholders: []stakeholder.Stakeholder{
				{
					ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "White House",
					Street: "1600 Pennsylvania Avenue NW", City: "Washington", State: "DC", ZipCode: "20500",
					Location: &pt,
				},
				{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Name: "Capitol", State: "DC"},
			},
		},
		{
			RegionID: 7,
			Stakeholders: []stakeholder.Stakeholder{
				{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Name: "Orphan"},
			},
		},
	}
}

func TestWriteDistrictTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDistrictTable(&buf, sampleGroups()))

	out := buf.String()
	assert.Contains(t, out, "DISTRICT")
	assert.Contains(t, out, "DC-AL")
	assert.Contains(t, out, "Delegate District (at Large)")
	assert.Contains(t, out, "#7")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[4]), "3"))
}

func TestWriteDistrictCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDistrictCSV(&buf, sampleGroups()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, memberColumns, rows[0])
	assert.Equal(t, []string{
		"DC-AL", "1198", "Delegate District (at Large)",
		"00000000-0000-0000-0000-000000000001", "White House",
		"1600 Pennsylvania Avenue NW", "Washington", "DC", "20500",
		"38.897700", "-77.036500",
	}, rows[1])
	assert.Equal(t, "", rows[2][9])
	assert.Equal(t, "#7", rows[3][0])
}

func TestSaveDistrictXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "districts.xlsx")
	require.NoError(t, SaveDistrictXLSX(path, sampleGroups()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	summary := f.Sheet["Summary"]
	require.NotNil(t, summary)
	require.Len(t, summary.Rows, 3)
	assert.Equal(t, "DC-AL", summary.Rows[1].Cells[0].String())
	assert.Equal(t, "2", summary.Rows[1].Cells[3].String())

	members := f.Sheet["Stakeholders"]
	require.NotNil(t, members)
	require.Len(t, members.Rows, 4)
	assert.Equal(t, "White House", members.Rows[1].Cells[4].String())
}

func TestSaveDistrictXLSX_BadPath(t *testing.T) {
	err := SaveDistrictXLSX(filepath.Join(t.TempDir(), "missing", "out.xlsx"), sampleGroups())
	assert.Error(t, err)
}

func TestWriteNearbyTable(t *testing.T) {
	var buf bytes.Buffer
	rows := []stakeholder.Nearby{
		{Stakeholder: stakeholder.Stakeholder{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "White House", City: "Washington", State: "DC"}, DistanceMeters: 412.4},
	}
	require.NoError(t, WriteNearbyTable(&buf, rows))
	assert.Contains(t, buf.String(), "412")
	assert.Contains(t, buf.String(), "White House")
}

func TestWriteStatusTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStatusTable(&buf, map[stakeholder.Status]int{
		stakeholder.StatusPending:  4,
		stakeholder.StatusGeocoded: 10,
	}))
	out := buf.String()
	assert.Contains(t, out, "unattempted:  0")
	assert.Contains(t, out, "pending:      4")
	assert.Contains(t, out, "geocoded:     10")
	assert.Contains(t, out, "total:        14")
}
