// Package baseline keeps rolling per-driver/material and per-route statistics
// of trusted (approved) ticket history.
package baseline

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

type sample struct {
	ticketID string
	at       time.Time
	values   map[domain.Field]float64
}

type window struct {
	key     domain.BaselineKey
	mu      sync.RWMutex
	samples []sample
	stats   map[domain.Field]domain.Baseline
}

// Store is safe for concurrent use; writers to the same key are serialized
// by that key's window lock only.
type Store struct {
	policy domain.Policy

	mu      sync.RWMutex
	windows map[domain.BaselineKey]*window
}

// NewStore creates an empty store governed by the policy's window bounds.
func NewStore(policy domain.Policy) *Store {
	return &Store{
		policy:  policy,
		windows: make(map[domain.BaselineKey]*window),
	}
}

// DriverMaterialKey builds the primary baseline key.
func DriverMaterialKey(driverID, material string) domain.BaselineKey {
	return domain.BaselineKey{Scope: domain.ScopeDriverMaterial, DriverID: driverID, Material: normalizeMaterial(material)}
}

// RouteKey builds the route baseline key.
func RouteKey(route string) domain.BaselineKey {
	return domain.BaselineKey{Scope: domain.ScopeRoute, Route: route}
}

// Get returns the driver/material baseline for field, or false when the key
// has fewer than the minimum number of samples.
func (s *Store) Get(driverID, material string, field domain.Field) (*domain.Baseline, bool) {
	return s.lookup(DriverMaterialKey(driverID, material), field)
}

// GetRoute returns the route baseline for field.
func (s *Store) GetRoute(route string, field domain.Field) (*domain.Baseline, bool) {
	if route == "" {
		return nil, false
	}
	return s.lookup(RouteKey(route), field)
}

// Lookup resolves the baseline for a ticket, preferring driver/material history
// and falling back to the route.
func (s *Store) Lookup(t domain.Ticket, field domain.Field) (*domain.Baseline, bool) {
	if b, ok := s.Get(t.DriverID, t.MaterialType, field); ok {
		return b, true
	}
	return s.GetRoute(t.Route, field)
}

func (s *Store) lookup(key domain.BaselineKey, field domain.Field) (*domain.Baseline, bool) {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.stats[field]
	if !ok || b.Samples < s.policy.BaselineMinSamples {
		return nil, false
	}
	return &b, true
}

// Update folds an approved ticket into its baselines. Tickets that are not in
// an approved/invoiced/paid state are ignored and false is returned.
func (s *Store) Update(t domain.Ticket) bool {
	if !t.FeedsBaseline() || t.DriverID == "" {
		return false
	}
	values := make(map[domain.Field]float64, len(domain.ScoredFields))
	for _, f := range domain.ScoredFields {
		if v := f.Value(t); v > 0 {
			values[f] = v
		}
	}
	if len(values) == 0 {
		return false
	}
	smp := sample{ticketID: t.ID, at: t.DeliveryDate, values: values}

	s.window(DriverMaterialKey(t.DriverID, t.MaterialType)).add(smp, s.policy)
	if t.Route != "" {
		s.window(RouteKey(t.Route)).add(smp, s.policy)
	}
	return true
}

// Load warms the store from persisted history. It returns the number of
// tickets accepted.
func (s *Store) Load(tickets []domain.Ticket) int {
	accepted := 0
	for _, t := range tickets {
		if s.Update(t) {
			accepted++
		}
	}
	return accepted
}

// Keys returns the number of tracked keys.
func (s *Store) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

func (s *Store) window(key domain.BaselineKey) *window {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = &window{key: key, stats: map[domain.Field]domain.Baseline{}}
	s.windows[key] = w
	return w
}

func (w *window) add(smp sample, policy domain.Policy) {
	w.mu.Lock()
	defer w.mu.Unlock()

	replaced := false
	if smp.ticketID != "" {
		for i := range w.samples {
			if w.samples[i].ticketID == smp.ticketID {
				w.samples[i] = smp
				replaced = true
				break
			}
		}
	}
	if !replaced {
		w.samples = append(w.samples, smp)
	}
	sort.SliceStable(w.samples, func(i, j int) bool {
		return w.samples[i].at.Before(w.samples[j].at)
	})

	newest := w.samples[len(w.samples)-1].at
	cutoff := newest.Add(-policy.BaselineMaxAge)
	start := 0
	for start < len(w.samples) && w.samples[start].at.Before(cutoff) {
		start++
	}
	if n := len(w.samples) - start; n > policy.BaselineWindowSize {
		start += n - policy.BaselineWindowSize
	}
	if start > 0 {
		w.samples = append([]sample(nil), w.samples[start:]...)
	}
	w.recompute()
}

func (w *window) recompute() {
	stats := make(map[domain.Field]domain.Baseline, len(domain.ScoredFields))
	for _, f := range domain.ScoredFields {
		vals := make([]float64, 0, len(w.samples))
		for _, smp := range w.samples {
			if v, ok := smp.values[f]; ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		mean, stddev := meanStdDev(vals)
		stats[f] = domain.Baseline{
			Key:     w.key,
			Field:   f,
			Samples: len(vals),
			Mean:    mean,
			StdDev:  stddev,
			Median:  median(vals),
		}
	}
	w.stats = stats
}

func meanStdDev(vals []float64) (float64, float64) {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(vals)-1))
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
