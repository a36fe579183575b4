package stakeholder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/geo"
)

var stakeholderCols = []string{
	"id", "name", "street", "city", "state", "zip_code", "county",
	"lat", "lng", "geocoding_failed", "geocode_source", "geocode_quality", "geocoded_at",
	"congressional_district_id", "state_upper_district_id", "state_lower_district_id",
	"created_at", "updated_at",
}

// Typed nils, matching what the store passes for absent values.
var (
	noFloat  *float64
	noString *string
	noTime   *time.Time
	noID     *int64
)

func stakeholderRow(rows *pgxmock.Rows, s Stakeholder) *pgxmock.Rows {
	var lat, lng *float64
	if s.Location != nil {
		lat, lng = &s.Location.Lat, &s.Location.Lng
	}
	return rows.AddRow(
		s.ID, s.Name, s.Street, s.City, s.State, s.ZipCode, s.County,
		lat, lng, s.GeocodingFailed, s.GeocodeSource, s.GeocodeQuality, s.GeocodedAt,
		s.Districts.Congressional, s.Districts.StateUpper, s.Districts.StateLower,
		s.CreatedAt, s.UpdatedAt,
	)
}

func TestPostgresStore_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := whiteHouse()
	s.Location = &geo.Point{Lat: 38.8977, Lng: -77.0365}
	s.Districts.Congressional = id64(11)

	mock.ExpectQuery(`SELECT id, name.*FROM stakeholders WHERE id = \$1`).
		WithArgs(s.ID).
		WillReturnRows(stakeholderRow(pgxmock.NewRows(stakeholderCols), s))

	got, err := NewPostgresStore(mock).Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 38.8977, got.Location.Lat, 1e-9)
	assert.Equal(t, int64(11), *got.Districts.Congressional)
	assert.Nil(t, got.Districts.StateUpper)
	assert.Equal(t, StatusGeocoded, got.Status())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery(`FROM stakeholders WHERE id`).WithArgs(id).
		WillReturnRows(pgxmock.NewRows(stakeholderCols))

	_, err = NewPostgresStore(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListBuildsFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE upper\(state\) = \$1 AND \(CASE .*upper\(btrim\(coalesce\(state, ''\)\)\) = ANY\(\$3\).*\) = ANY\(\$2\) ORDER BY id LIMIT \$4`).
		WithArgs("DC", []string{"pending", "failed"}, address.StateCodes(), 25).
		WillReturnRows(stakeholderRow(pgxmock.NewRows(stakeholderCols), whiteHouse()))

	got, err := NewPostgresStore(mock).List(context.Background(), Filter{
		State:    "dc",
		Statuses: []Status{StatusPending, StatusFailed},
		Limit:    25,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Location)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWhere_BindsRecognizedStates(t *testing.T) {
	where, args := listWhere(Filter{Statuses: []Status{StatusPending}})
	assert.Contains(t, where, "= ANY($2)")
	require.Len(t, args, 2)
	assert.Equal(t, []string{"pending"}, args[0])
	codes, ok := args[1].([]string)
	require.True(t, ok)
	assert.Contains(t, codes, "DC")
	assert.Contains(t, codes, "PR")
	assert.NotContains(t, codes, "ZZ")
	for _, c := range codes {
		assert.True(t, address.IsRecognizedState(c), c)
	}
}

func TestListWhere_Empty(t *testing.T) {
	where, args := listWhere(Filter{})
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestPostgresStore_SaveGeocode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pt := geo.Point{Lat: 38.8977, Lng: -77.0365}
	source, quality := "tiger", "rooftop"
	d := Districts{Congressional: id64(1), StateLower: id64(3)}

	mock.ExpectExec(`UPDATE stakeholders SET\s+location = CASE`).
		WithArgs(id, &pt.Lat, &pt.Lng, false, &source, &quality, &at, d.Congressional, noID, d.StateLower).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewPostgresStore(mock).SaveGeocode(context.Background(), id, GeocodeUpdate{
		Location: &pt, Source: source, Quality: quality, At: &at, Districts: d,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveGeocodeFailureClears(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE stakeholders`).
		WithArgs(id, noFloat, noFloat, true, noString, noString, noTime, noID, noID, noID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewPostgresStore(mock).SaveGeocode(context.Background(), id, GeocodeUpdate{Failed: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_SaveDistricts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE stakeholders SET\s+congressional_district_id = \$2`).
		WithArgs(id, noID, noID, noID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewPostgresStore(mock).SaveDistricts(context.Background(), id, Districts{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Near(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := whiteHouse()
	s.Location = &geo.Point{Lat: 38.8977, Lng: -77.0365}
	mock.ExpectQuery(`ST_DWithin\(location::geography`).
		WithArgs(-77.0091, 38.8899, 5000.0, 100).
		WillReturnRows(pgxmock.NewRows(append(stakeholderCols, "distance")).AddRow(
			s.ID, s.Name, s.Street, s.City, s.State, s.ZipCode, s.County,
			&s.Location.Lat, &s.Location.Lng, false, "", "", nil,
			nil, nil, nil, s.CreatedAt, s.UpdatedAt, 2525.0,
		))

	got, err := NewPostgresStore(mock).Near(context.Background(), geo.Point{Lat: 38.8899, Lng: -77.0091}, 5000, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2525.0, got[0].DistanceMeters)
	assert.Equal(t, s.ID, got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithDistrict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE state_lower_district_id IS NOT NULL.*ORDER BY state_lower_district_id, id`).
		WithArgs("VA").
		WillReturnRows(pgxmock.NewRows(stakeholderCols))

	got, err := NewPostgresStore(mock).WithDistrict(context.Background(), geo.StateLower, "va")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NewPostgresStore(mock).WithDistrict(context.Background(), geo.State, "")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`= ANY\(\$2\).* AS status, count\(\*\)`).
		WithArgs("", address.StateCodes()).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).
			AddRow("geocoded", 10))

	got, err := NewPostgresStore(mock).CountByStatus(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, got[StatusPending])
	assert.Equal(t, 10, got[StatusGeocoded])
	assert.Equal(t, 0, got[StatusFailed])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO stakeholders`).
		WithArgs(pgxmock.AnyArg(), "Acme", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), noString).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))

	s := &Stakeholder{Name: "Acme", Street: "1 Main St", City: "Austin", State: "TX", ZipCode: "78701"}
	require.NoError(t, NewPostgresStore(mock).Create(context.Background(), s))
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, created, s.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
