package airquality

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Store.
// This is intended for testing and local runs. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu         sync.RWMutex
	stations   []*Station
	pollutants []*Pollutant
	readings   []*Reading
	keys       map[readingKey]struct{}
	nextID     int64
	now        func() time.Time
}

// NewInMemoryRepository creates an empty in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[readingKey]struct{}),
		now:  time.Now,
	}
}

var _ Store = (*InMemoryRepository)(nil)

// Ping always succeeds.
func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

// ListStations returns all live stations ordered by id.
func (r *InMemoryRepository) ListStations(_ context.Context) ([]Station, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stations := make([]Station, 0, len(r.stations))
	for _, s := range r.stations {
		if s.DeletedAt == nil {
			stations = append(stations, *s)
		}
	}
	sort.SliceStable(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	return stations, nil
}

// ListPollutants returns all live pollutants ordered by id.
func (r *InMemoryRepository) ListPollutants(_ context.Context) ([]Pollutant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pollutants := make([]Pollutant, 0, len(r.pollutants))
	for _, p := range r.pollutants {
		if p.DeletedAt == nil {
			pollutants = append(pollutants, *p)
		}
	}
	sort.SliceStable(pollutants, func(i, j int) bool { return pollutants[i].ID < pollutants[j].ID })
	return pollutants, nil
}

// MaxTimestamp returns the greatest column value among matching readings.
func (r *InMemoryRepository) MaxTimestamp(_ context.Context, column TimestampColumn, filter ReadingFilter) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *time.Time
	for _, rd := range r.readings {
		if !filter.matches(rd) {
			continue
		}
		var t *time.Time
		switch column {
		case ColumnPredictionDatetime:
			t = rd.PredictionDatetime
		default:
			t = &rd.Datetime
		}
		if t != nil && (latest == nil || t.After(*latest)) {
			v := *t
			latest = &v
		}
	}
	return latest, nil
}

// FindReadings returns copies of matching readings.
func (r *InMemoryRepository) FindReadings(_ context.Context, filter ReadingFilter) ([]Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Reading
	for _, rd := range r.readings {
		if filter.matches(rd) {
			result = append(result, copyReading(rd))
		}
	}

	sortReadings(result, filter.Order)

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpsertStation inserts or updates a station keyed by ExternalID.
func (r *InMemoryRepository) UpsertStation(_ context.Context, station *Station) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, s := range r.stations {
		if s.ExternalID == station.ExternalID && s.DeletedAt == nil {
			s.Name = station.Name
			s.Latitude = station.Latitude
			s.Longitude = station.Longitude
			s.UpdatedAt = now
			*station = *s
			return nil
		}
	}

	r.nextID++
	cpy := *station
	cpy.ID = r.nextID
	cpy.CreatedAt = now
	cpy.UpdatedAt = now
	r.stations = append(r.stations, &cpy)
	*station = cpy
	return nil
}

// UpsertPollutant inserts or updates a pollutant keyed by ExternalName.
func (r *InMemoryRepository) UpsertPollutant(_ context.Context, pollutant *Pollutant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, p := range r.pollutants {
		if p.ExternalName == pollutant.ExternalName && p.DeletedAt == nil {
			p.FullName = pollutant.FullName
			p.ShortName = pollutant.ShortName
			p.Description = pollutant.Description
			p.IsPollutant = pollutant.IsPollutant
			p.Unit = pollutant.Unit
			p.UpdatedAt = now
			*pollutant = *p
			return nil
		}
	}

	r.nextID++
	cpy := *pollutant
	cpy.ID = r.nextID
	cpy.CreatedAt = now
	cpy.UpdatedAt = now
	r.pollutants = append(r.pollutants, &cpy)
	*pollutant = cpy
	return nil
}

// InsertReadings stores readings, skipping duplicates.
func (r *InMemoryRepository) InsertReadings(_ context.Context, readings []Reading) (int, error) {
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	inserted := 0
	for i := range readings {
		rd := copyReading(&readings[i])
		k := keyOf(&rd)
		if _, exists := r.keys[k]; exists {
			continue
		}
		r.nextID++
		rd.ID = r.nextID
		rd.CreatedAt = now
		rd.UpdatedAt = now
		rd.DeletedAt = nil
		r.keys[k] = struct{}{}
		r.readings = append(r.readings, &rd)
		inserted++
	}
	return inserted, nil
}

// RecentDatetimes returns up to n distinct actual datetimes for a station, newest first.
func (r *InMemoryRepository) RecentDatetimes(_ context.Context, stationID int64, n int) ([]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter := Actuals(stationID)
	seen := make(map[int64]struct{})
	var times []time.Time
	for _, rd := range r.readings {
		if !filter.matches(rd) {
			continue
		}
		if _, ok := seen[rd.Datetime.UnixNano()]; ok {
			continue
		}
		seen[rd.Datetime.UnixNano()] = struct{}{}
		times = append(times, rd.Datetime)
	}

	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })
	if n > 0 && len(times) > n {
		times = times[:n]
	}
	return times, nil
}

// SoftDeleteStation marks a station deleted, hiding it from ListStations.
func (r *InMemoryRepository) SoftDeleteStation(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, s := range r.stations {
		if s.ID == id {
			s.DeletedAt = &now
		}
	}
}

func copyReading(r *Reading) Reading {
	cpy := *r
	if r.PredictionDatetime != nil {
		t := *r.PredictionDatetime
		cpy.PredictionDatetime = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		cpy.DeletedAt = &t
	}
	return cpy
}

func sortReadings(readings []Reading, order ReadingOrder) {
	switch order {
	case OrderNewestFirst:
		sort.SliceStable(readings, func(i, j int) bool {
			if !readings[i].Datetime.Equal(readings[j].Datetime) {
				return readings[i].Datetime.After(readings[j].Datetime)
			}
			return readings[i].ID < readings[j].ID
		})
	case OrderByTarget:
		sort.SliceStable(readings, func(i, j int) bool {
			ti, tj := readings[i].PredictionDatetime, readings[j].PredictionDatetime
			if ti != nil && tj != nil && !ti.Equal(*tj) {
				return ti.Before(*tj)
			}
			return readings[i].ID < readings[j].ID
		})
	default:
		sort.SliceStable(readings, func(i, j int) bool { return readings[i].ID < readings[j].ID })
	}
}
