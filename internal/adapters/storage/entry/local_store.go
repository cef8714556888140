package entry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"waitlist/internal/adapters/storage/kv"
	domain "waitlist/internal/domain/entry"
)

// BlobKey is the kv key holding the serialized local waitlist.
const BlobKey = "waitlistData"

// LocalStore keeps the ordered waitlist as one JSON array under BlobKey.
// Every mutation rewrites the whole array.
// The blob is the only state; every operation reloads it under mu.
// INVARIANT: a failed blob write leaves the stored list unchanged.
// INVARIANT: records are kept in insertion order; legacy records round-trip unchanged.
type LocalStore struct {
	blobs kv.Store
	opts  options

	mu sync.Mutex
}

var (
	_ Store   = (*LocalStore)(nil)
	_ Fetcher = (*LocalStore)(nil)
)

// NewLocalStore creates a LocalStore over a kv store.
func NewLocalStore(blobs kv.Store, opts ...Option) *LocalStore {
	return &LocalStore{blobs: blobs, opts: buildOptions(opts)}
}

// load reads and decodes the blob. A missing key is an empty list.
func (s *LocalStore) load(ctx context.Context) ([]domain.Entry, error) {
	raw, found, err := s.blobs.Get(ctx, BlobKey)
	if err != nil {
		return nil, &StoreError{Op: "read", Err: err}
	}
	if !found || raw == "" {
		return []domain.Entry{}, nil
	}
	var entries []domain.Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, &StoreError{Op: "decode", Err: err}
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	return entries, nil
}

// save encodes and writes the whole list.
func (s *LocalStore) save(ctx context.Context, entries []domain.Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return &StoreError{Op: "encode", Err: err}
	}
	if err := s.blobs.Put(ctx, BlobKey, string(raw)); err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	return nil
}

// FetchAll returns the stored list in insertion order.
// PRE: none
// POST: returned entries are copies
func (s *LocalStore) FetchAll(ctx context.Context) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return cloneAll(entries), nil
}

// Create appends an entry.
// PRE: e has passed validation
// POST: e is stored with a fresh id, status waiting and no contactedAt; the timestamp is
// kept if set, otherwise the store clock is used
func (s *LocalStore) Create(ctx context.Context, e domain.Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	rec := e.Clone()
	rec.ID = s.opts.newID()
	rec.Status = domain.StatusWaiting
	rec.ContactedAt = nil
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.opts.now()
	}

	next := append(cloneAll(entries), rec)
	if err := s.save(ctx, next); err != nil {
		return "", err
	}
	slog.Info("entry_created", "store", "local", "id", rec.ID)
	return rec.ID, nil
}

// UpdateStatus moves one entry between waiting and contacted.
// PRE: status is valid
// POST: contactedAt is set iff status is contacted; ErrNotFound when id is unknown
func (s *LocalStore) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return err
	}
	next := cloneAll(entries)
	idx := indexOf(next, id)
	if idx < 0 {
		return ErrNotFound
	}
	updated, err := next[idx].WithStatus(status, s.opts.now())
	if err != nil {
		return err
	}
	next[idx] = updated
	return s.save(ctx, next)
}

// Remove deletes one entry.
// POST: ErrNotFound when id is unknown; the order of the rest is unchanged
func (s *LocalStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(entries, id)
	if idx < 0 {
		return ErrNotFound
	}
	next := make([]domain.Entry, 0, len(entries)-1)
	next = append(next, cloneAll(entries[:idx])...)
	next = append(next, cloneAll(entries[idx+1:])...)
	return s.save(ctx, next)
}

// SeedIfEmpty stores samples when the list is empty.
// POST: returns true when the samples were written
func (s *LocalStore) SeedIfEmpty(ctx context.Context, samples []domain.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := s.save(ctx, cloneAll(samples)); err != nil {
		return false, err
	}
	slog.Info("samples_seeded", "count", len(samples))
	return true, nil
}

func indexOf(entries []domain.Entry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
