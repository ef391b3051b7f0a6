// Package dedup suppresses duplicate earthquake reports: exact
// redeliveries of the same (provider, source_id) and cross-provider
// reports of the same physical event.
//
// The cache is the only state shared between feed pipelines; every read
// and write goes through one mutex. Seismic event rates are low, so there
// is no need for anything cleverer.
package dedup

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unibosoft/quakefeed/internal/quake"
)

const (
	// DefaultRetention bounds how long an entry stays eligible for
	// matching. Entries also fall off once MaxEntries is exceeded,
	// whichever comes first.
	DefaultRetention  = 24 * time.Hour
	DefaultMaxEntries = 5000

	// Proximity defaults for cross-provider matching. These are working
	// defaults, not values calibrated against real feeds; keep them
	// configurable.
	DefaultTimeWindow = 60 * time.Second
	DefaultDistanceKM = 50.0
	DefaultMagDelta   = 0.5
)

type entry struct {
	key        string
	latitude   float64
	longitude  float64
	magnitude  float64
	occurredAt time.Time
	seenAt     time.Time
}

// Deduplicator is a bounded, time-windowed duplicate detector. The exact
// key check is a hash lookup; the proximity check scans only the entries
// still inside the retention window.
type Deduplicator struct {
	mu      sync.Mutex
	index   map[string]struct{}
	entries []entry // arrival order, oldest first

	maxEntries int
	retention  time.Duration
	timeWindow time.Duration
	distanceKM float64
	magDelta   float64
	clock      clockwork.Clock
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithRetention bounds how long entries are kept.
func WithRetention(d time.Duration) Option {
	return func(dd *Deduplicator) { dd.retention = d }
}

// WithMaxEntries bounds how many entries are kept.
func WithMaxEntries(n int) Option {
	return func(dd *Deduplicator) { dd.maxEntries = n }
}

// WithProximity sets the cross-provider matching thresholds.
func WithProximity(window time.Duration, distanceKM, magDelta float64) Option {
	return func(dd *Deduplicator) {
		dd.timeWindow = window
		dd.distanceKM = distanceKM
		dd.magDelta = magDelta
	}
}

// WithClock injects the time source, so tests can advance time instead of
// sleeping through retention windows.
func WithClock(c clockwork.Clock) Option {
	return func(dd *Deduplicator) { dd.clock = c }
}

// New creates a Deduplicator with the default window and thresholds.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		index:      make(map[string]struct{}),
		maxEntries: DefaultMaxEntries,
		retention:  DefaultRetention,
		timeWindow: DefaultTimeWindow,
		distanceKM: DefaultDistanceKM,
		magDelta:   DefaultMagDelta,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe records the event and reports whether it duplicates one already
// seen. The returned key identifies the earlier record when it does: equal
// to the candidate's own key for an exact redelivery, or the first-seen
// record's key for a cross-provider proximity match. Matching is based on
// occurred_at, not arrival order, so late frames dedupe correctly.
func (d *Deduplicator) Observe(e *quake.Event) (duplicate bool, of string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prune()

	key := e.Key()
	if _, ok := d.index[key]; ok {
		return true, key
	}

	for i := range d.entries {
		if match := &d.entries[i]; d.proximate(e, match) {
			return true, match.key
		}
	}

	d.insert(e)
	return false, ""
}

// Seed loads previously stored events into the cache, so dedup state
// survives a process restart within the retention window.
func (d *Deduplicator) Seed(events []quake.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range events {
		e := &events[i]
		if _, ok := d.index[e.Key()]; ok {
			continue
		}
		d.insert(e)
	}
	d.prune()
}

// Len reports the number of cached entries.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Deduplicator) insert(e *quake.Event) {
	d.index[e.Key()] = struct{}{}
	d.entries = append(d.entries, entry{
		key:        e.Key(),
		latitude:   e.Latitude,
		longitude:  e.Longitude,
		magnitude:  e.Magnitude,
		occurredAt: e.OccurredAt,
		seenAt:     d.clock.Now(),
	})
	if len(d.entries) > d.maxEntries {
		d.evict(len(d.entries) - d.maxEntries)
	}
}

// prune drops entries past the retention window. Entries are in arrival
// order, so expiry is a scan from the front.
func (d *Deduplicator) prune() {
	cutoff := d.clock.Now().Add(-d.retention)
	n := 0
	for n < len(d.entries) && d.entries[n].seenAt.Before(cutoff) {
		n++
	}
	if n > 0 {
		d.evict(n)
	}
}

func (d *Deduplicator) evict(n int) {
	for i := 0; i < n; i++ {
		delete(d.index, d.entries[i].key)
	}
	d.entries = append(d.entries[:0], d.entries[n:]...)
}

func (d *Deduplicator) proximate(e *quake.Event, m *entry) bool {
	dt := e.OccurredAt.Sub(m.occurredAt)
	if dt < 0 {
		dt = -dt
	}
	if dt > d.timeWindow {
		return false
	}
	if math.Abs(e.Magnitude-m.magnitude) > d.magDelta {
		return false
	}
	return haversineKM(e.Latitude, e.Longitude, m.latitude, m.longitude) <= d.distanceKM
}

const earthRadiusKM = 6371.0

// haversineKM is the great-circle distance between two WGS-84 points.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}
