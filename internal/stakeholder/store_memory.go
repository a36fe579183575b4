package stakeholder

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coalition-geo/internal/geo"
)

// MemoryStore is an in-process Store for tests and offline dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Stakeholder

	// Writes counts SaveGeocode and SaveDistricts calls.
	Writes int

	now func() time.Time
}

// NewMemoryStore returns an empty store seeded with seed.
func NewMemoryStore(seed ...Stakeholder) *MemoryStore {
	m := &MemoryStore{rows: make(map[uuid.UUID]Stakeholder), now: time.Now}
	for _, s := range seed {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		m.rows[s.ID] = clone(s)
	}
	return m
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, s *Stakeholder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if _, ok := m.rows[s.ID]; ok {
		return eris.Errorf("stakeholder: duplicate id %s", s.ID)
	}
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	m.rows[s.ID] = clone(*s)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Stakeholder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "id %s", id)
	}
	out := clone(s)
	return &out, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, f Filter) ([]Stakeholder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Stakeholder
	for _, s := range m.sorted() {
		if f.State != "" && !strings.EqualFold(s.State, f.State) {
			continue
		}
		if !f.wants(s.Status()) {
			continue
		}
		out = append(out, clone(s))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// SaveGeocode implements Store.
func (m *MemoryStore) SaveGeocode(_ context.Context, id uuid.UUID, u GeocodeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	u.Apply(&s)
	s.UpdatedAt = m.now()
	m.rows[id] = clone(s)
	m.Writes++
	return nil
}

// SaveDistricts implements Store.
func (m *MemoryStore) SaveDistricts(_ context.Context, id uuid.UUID, d Districts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	s.Districts = d
	s.UpdatedAt = m.now()
	m.rows[id] = clone(s)
	m.Writes++
	return nil
}

// Near implements Store.
func (m *MemoryStore) Near(_ context.Context, pt geo.Point, meters float64, limit int) ([]Nearby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Nearby
	for _, s := range m.sorted() {
		if s.Location == nil {
			continue
		}
		if d := geo.DistanceMeters(pt, *s.Location); d <= meters {
			out = append(out, Nearby{Stakeholder: clone(s), DistanceMeters: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WithDistrict implements Store.
func (m *MemoryStore) WithDistrict(_ context.Context, t geo.RegionType, state string) ([]Stakeholder, error) {
	if !t.IsDistrict() {
		return nil, eris.Errorf("stakeholder: %s is not a district type", t)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Stakeholder
	for _, s := range m.sorted() {
		if s.Districts.Get(t) == nil {
			continue
		}
		if state != "" && !strings.EqualFold(s.State, state) {
			continue
		}
		out = append(out, clone(s))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].Districts.Get(t) < *out[j].Districts.Get(t)
	})
	return out, nil
}

// CountByStatus implements Store.
func (m *MemoryStore) CountByStatus(_ context.Context, state string) (map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		out[st] = 0
	}
	for _, s := range m.rows {
		if state != "" && !strings.EqualFold(s.State, state) {
			continue
		}
		out[s.Status()]++
	}
	return out, nil
}

func (m *MemoryStore) sorted() []Stakeholder {
	out := make([]Stakeholder, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}

// clone deep-copies the pointer fields so callers cannot mutate stored rows.
func clone(s Stakeholder) Stakeholder {
	if s.Location != nil {
		p := *s.Location
		s.Location = &p
	}
	if s.GeocodedAt != nil {
		t := *s.GeocodedAt
		s.GeocodedAt = &t
	}
	s.Districts = Districts{
		Congressional: cloneID(s.Districts.Congressional),
		StateUpper:    cloneID(s.Districts.StateUpper),
		StateLower:    cloneID(s.Districts.StateLower),
	}
	return s
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

var _ Store = (*MemoryStore)(nil)
