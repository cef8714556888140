// Package perf keeps a bounded window of request and query timings for the
// admin performance endpoint.
package perf

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"time"
)

// DefaultRingSize is the default capacity of the ring buffer.
const DefaultRingSize = 4096

// EntryKind distinguishes request vs query entries.
type EntryKind uint8

const (
	KindRequest EntryKind = iota
	KindQuery
)

// Entry is a single timing sample.
type Entry struct {
	Kind       EntryKind
	Path       string // "METHOD /path" for requests, "VERB table" for queries
	StatusCode int
	DurationMs float64
	Timestamp  time.Time
}

// Collector is a fixed-size ring of timing samples. When full the oldest
// sample is overwritten. Aggregation happens on read.
type Collector struct {
	mu       sync.Mutex
	ring     []Entry
	next     int
	requests int64
	queries  int64
	errors   int64
}

// NewCollector creates a collector holding up to size samples.
// PRE: size > 0, otherwise DefaultRingSize is used
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Collector{ring: make([]Entry, size)}
}

// Record stores e, evicting the oldest sample when the ring is full.
func (c *Collector) Record(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring[c.next] = e
	c.next = (c.next + 1) % len(c.ring)
	switch e.Kind {
	case KindRequest:
		c.requests++
		if e.StatusCode >= 500 {
			c.errors++
		}
	case KindQuery:
		c.queries++
	}
}

// TotalRecorded returns how many samples were ever recorded.
func (c *Collector) TotalRecorded() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests + c.queries
}

// Reset drops every sample and counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.ring)
	c.next = 0
	c.requests, c.queries, c.errors = 0, 0, 0
}

// Snapshot is the aggregated view served as JSON.
type Snapshot struct {
	Requests       int64      `json:"requests"`
	Queries        int64      `json:"queries"`
	ServerErrors   int64      `json:"server_errors"`
	RequestP50Ms   float64    `json:"request_p50_ms"`
	RequestP95Ms   float64    `json:"request_p95_ms"`
	RequestP99Ms   float64    `json:"request_p99_ms"`
	SlowestPaths   []PathStat `json:"slowest_paths"`
	SlowestQueries []PathStat `json:"slowest_queries"`
}

// PathStat aggregates samples sharing one label.
type PathStat struct {
	Path  string  `json:"path"`
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MaxMs float64 `json:"max_ms"`
}

// Snapshot aggregates the samples recorded at or after since.
// POST: SlowestPaths and SlowestQueries hold at most topN items, slowest average first
func (c *Collector) Snapshot(since time.Time, topN int) Snapshot {
	c.mu.Lock()
	buf := slices.Clone(c.ring)
	snap := Snapshot{Requests: c.requests, Queries: c.queries, ServerErrors: c.errors}
	c.mu.Unlock()

	var durations []float64
	byPath := map[string]*PathStat{}
	byQuery := map[string]*PathStat{}

	for _, e := range buf {
		if e.Timestamp.IsZero() || e.Timestamp.Before(since) {
			continue
		}
		group := byQuery
		if e.Kind == KindRequest {
			group = byPath
			durations = append(durations, e.DurationMs)
		}
		s, ok := group[e.Path]
		if !ok {
			s = &PathStat{Path: e.Path}
			group[e.Path] = s
		}
		// AvgMs holds the running total until ranked.
		s.Count++
		s.AvgMs += e.DurationMs
		s.MaxMs = max(s.MaxMs, e.DurationMs)
	}

	snap.SlowestPaths = rank(byPath, topN)
	snap.SlowestQueries = rank(byQuery, topN)

	if len(durations) > 0 {
		slices.Sort(durations)
		snap.RequestP50Ms = percentile(durations, 50)
		snap.RequestP95Ms = percentile(durations, 95)
		snap.RequestP99Ms = percentile(durations, 99)
	}
	return snap
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p / 100 * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func rank(stats map[string]*PathStat, n int) []PathStat {
	list := make([]PathStat, 0, len(stats))
	for _, s := range stats {
		s.AvgMs /= float64(s.Count)
		list = append(list, *s)
	}
	slices.SortFunc(list, func(a, b PathStat) int {
		if c := cmp.Compare(b.AvgMs, a.AvgMs); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	if n >= 0 && len(list) > n {
		list = list[:n]
	}
	return list
}
