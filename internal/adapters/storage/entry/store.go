// Package entry persists waitlist entries. Two variants share the Store
// capability: LocalStore keeps the whole list as one blob, DocumentStore keeps
// one row per entry and pushes snapshots to subscribers.
package entry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	domain "waitlist/internal/domain/entry"
)

// ErrNotFound is returned when a command names an id the store does not hold.
var ErrNotFound = errors.New("entry not found")

// StoreError wraps a serialization or I/O failure of the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "waitlist store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store is the write capability both variants offer.
type Store interface {
	// Create persists a new entry and returns its assigned id.
	Create(ctx context.Context, e domain.Entry) (string, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	Remove(ctx context.Context, id string) error
}

// Fetcher reads the full collection on demand.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]domain.Entry, error)
}

// Handler receives a full snapshot, or a nil snapshot and the failure.
type Handler func(snapshot []domain.Entry, err error)

// Unsubscribe stops a subscription. Calling it more than once is safe.
type Unsubscribe func()

// Subscriber pushes a full snapshot after every change.
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) (Unsubscribe, error)
}

type options struct {
	newID        func() string
	now          func() time.Time
	pollInterval time.Duration
}

// Option configures a store.
type Option func(*options)

// WithIDGenerator overrides uuid-based ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithClock overrides the store clock.
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.now = fn }
}

// WithPollInterval sets how often a DocumentStore checks for writes made by
// other processes. Ignored by LocalStore.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// DefaultPollInterval is used when no poll interval is configured.
const DefaultPollInterval = 2 * time.Second

func buildOptions(opts []Option) options {
	o := options{
		newID:        uuid.NewString,
		now:          time.Now,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	return o
}

func cloneAll(entries []domain.Entry) []domain.Entry {
	out := make([]domain.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
