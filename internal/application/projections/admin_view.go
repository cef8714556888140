package projections

import (
	"context"
	"log/slog"
	"sync"

	entrystore "waitlist/internal/adapters/storage/entry"
	"waitlist/internal/domain/entry"
)

// AdminViewFetcher reads the whole waitlist on demand.
type AdminViewFetcher interface {
	FetchAll(ctx context.Context) ([]entry.Entry, error)
}

// AdminViewSubscriber pushes full snapshots after every change.
type AdminViewSubscriber interface {
	Subscribe(ctx context.Context, h entrystore.Handler) (entrystore.Unsubscribe, error)
}

// Filter selects which entries the admin table shows.
type Filter string

// Filters.
const (
	FilterAll       Filter = "all"
	FilterWaiting   Filter = "waiting"
	FilterContacted Filter = "contacted"
)

// ParseFilter maps a query value to a Filter. Unknown values mean FilterAll.
func ParseFilter(raw string) Filter {
	switch Filter(raw) {
	case FilterWaiting, FilterContacted:
		return Filter(raw)
	}
	return FilterAll
}

// Counts are the per-status totals of the whole list, independent of the filter.
type Counts struct {
	Waiting   int
	Contacted int
	Total     int
}

// AdminPage is one render of the admin table.
type AdminPage struct {
	Filter  Filter
	Entries []entry.Entry
	Counts  Counts
	Loaded  bool  // false until the first snapshot arrived
	Err     error // last read failure, cleared by the next good snapshot
}

// AdminView is the admin panel's read cache over the waitlist store.
// With a subscribing store the cache follows pushed snapshots; otherwise it is
// refreshed on start and after every command.
// INVARIANT: cached entries are normalized and sorted by timestamp, oldest first.
// INVARIANT: a failed read never clears the cache.
type AdminView struct {
	fetcher    AdminViewFetcher
	subscriber AdminViewSubscriber

	mu          sync.RWMutex
	entries     []entry.Entry
	loaded      bool
	lastErr     error
	unsubscribe entrystore.Unsubscribe
	watchers    map[chan struct{}]struct{}
}

// NewAdminView creates a view over source. If source can also subscribe, the
// view runs in push mode.
func NewAdminView(source AdminViewFetcher) *AdminView {
	v := &AdminView{
		fetcher:  source,
		watchers: make(map[chan struct{}]struct{}),
	}
	if sub, ok := source.(AdminViewSubscriber); ok {
		v.subscriber = sub
	}
	return v
}

// Live reports whether the view is fed by a subscription.
func (v *AdminView) Live() bool {
	return v.subscriber != nil
}

// Start loads the first snapshot, subscribing when the source supports it.
// PRE: called once
// POST: push mode holds a subscription until ctx ends or Stop is called
func (v *AdminView) Start(ctx context.Context) error {
	if v.subscriber == nil {
		return v.Refresh(ctx)
	}
	unsubscribe, err := v.subscriber.Subscribe(ctx, v.apply)
	if err != nil {
		v.apply(nil, err)
		return err
	}
	v.mu.Lock()
	v.unsubscribe = unsubscribe
	v.mu.Unlock()
	return nil
}

// Stop ends the subscription, if any.
func (v *AdminView) Stop() {
	v.mu.Lock()
	unsubscribe := v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Refresh re-reads the whole list.
// POST: on failure the cache is kept and the error is recorded
func (v *AdminView) Refresh(ctx context.Context) error {
	snapshot, err := v.fetcher.FetchAll(ctx)
	v.apply(snapshot, err)
	return err
}

// AfterCommand brings the cache up to date after an admin command.
// Push mode needs nothing: the subscription delivers the change.
func (v *AdminView) AfterCommand(ctx context.Context) error {
	if v.subscriber != nil {
		return nil
	}
	return v.Refresh(ctx)
}

func (v *AdminView) apply(snapshot []entry.Entry, err error) {
	v.mu.Lock()
	if err != nil {
		v.lastErr = err
		slog.Warn("admin_view_event", "event", "snapshot_failed", "error", err, "cached", len(v.entries))
	} else {
		normalized := make([]entry.Entry, len(snapshot))
		for i, e := range snapshot {
			normalized[i] = e.Clone().Normalized()
		}
		entry.SortByTimestamp(normalized)
		v.entries = normalized
		v.loaded = true
		v.lastErr = nil
	}
	for ch := range v.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	v.mu.Unlock()
}

// Query returns the entries matching filter plus the totals of the whole list.
// INVARIANT: Counts.Total == len(entries of FilterAll)
func (v *AdminView) Query(filter Filter) AdminPage {
	v.mu.RLock()
	defer v.mu.RUnlock()

	page := AdminPage{Filter: filter, Loaded: v.loaded, Err: v.lastErr, Entries: []entry.Entry{}}
	for _, e := range v.entries {
		switch e.Status {
		case entry.StatusWaiting:
			page.Counts.Waiting++
		case entry.StatusContacted:
			page.Counts.Contacted++
		}
		if filter == FilterAll || Filter(e.Status) == filter {
			page.Entries = append(page.Entries, e.Clone())
		}
	}
	page.Counts.Total = len(v.entries)
	return page
}

// Entries returns a copy of the whole cached list, for export.
func (v *AdminView) Entries() []entry.Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]entry.Entry, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.Clone()
	}
	return out
}

// Find returns the cached entry with id.
func (v *AdminView) Find(id string) (entry.Entry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, e := range v.entries {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return entry.Entry{}, false
}

// LastError returns the most recent read failure, or nil after a good snapshot.
func (v *AdminView) LastError() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}

// Watch returns a channel that receives a signal whenever the cache changes or
// a read fails. Signals coalesce. The channel is closed when ctx ends.
func (v *AdminView) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	v.mu.Lock()
	v.watchers[ch] = struct{}{}
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		delete(v.watchers, ch)
		close(ch)
		v.mu.Unlock()
	}()
	return ch
}
