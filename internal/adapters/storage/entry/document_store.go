package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"waitlist/internal/adapters/storage"
	domain "waitlist/internal/domain/entry"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectEntries = `SELECT id, name, phone, lesson_type, group_size, ages, age, location,
	preferred_time, contact_preference, status, contacted_at, created_at
	FROM waitlist_entry ORDER BY created_at, id`

// DocumentStore keeps one row per entry in waitlist_entry and pushes full
// snapshots to subscribers. Every mutation bumps waitlist_revision in the same
// transaction, so writes by other processes sharing the database are picked up
// by polling the revision.
// INVARIANT: id, timestamp and contactedAt are assigned by the store.
type DocumentStore struct {
	db   storage.SQLDB
	opts options

	mu         sync.Mutex
	subs       map[int]*subscription
	nextSubID  int
	lastRev    int64
	stopPoller context.CancelFunc
	wg         sync.WaitGroup
}

var (
	_ Store      = (*DocumentStore)(nil)
	_ Fetcher    = (*DocumentStore)(nil)
	_ Subscriber = (*DocumentStore)(nil)
)

type subscription struct {
	handler Handler
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (sub *subscription) signal() {
	select {
	case sub.notify <- struct{}{}:
	default:
		// a snapshot is already pending; it will include this change
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

// NewDocumentStore creates a DocumentStore.
// PRE: db has been initialized with storage.InitDB
func NewDocumentStore(db storage.SQLDB, opts ...Option) *DocumentStore {
	return &DocumentStore{
		db:   db,
		opts: buildOptions(opts),
		subs: make(map[int]*subscription),
	}
}

// FetchAll reads every row ordered by timestamp.
func (s *DocumentStore) FetchAll(ctx context.Context) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries)
	if err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	entries := []domain.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, &StoreError{Op: "decode", Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}
	domain.SortByTimestamp(entries)
	return entries, nil
}

// Create inserts a new row.
// PRE: e has passed validation
// POST: row has a fresh id, the store clock as timestamp, status waiting, no contactedAt
func (s *DocumentStore) Create(ctx context.Context, e domain.Entry) (string, error) {
	rec := e.Clone()
	rec.ID = s.opts.newID()
	rec.Timestamp = s.opts.now()
	rec.Status = domain.StatusWaiting
	rec.ContactedAt = nil

	ages, err := json.Marshal(rec.Ages)
	if err != nil {
		return "", &StoreError{Op: "encode", Err: err}
	}
	var lessonType, groupSize, age any
	if rec.LessonType != "" {
		lessonType = string(rec.LessonType)
		groupSize = rec.GroupSize
	}
	if rec.Age != nil {
		age = *rec.Age
	}

	err = s.mutate(ctx, "create", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO waitlist_entry (id, name, phone, lesson_type, group_size, ages, age, location,
				preferred_time, contact_preference, status, contacted_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
			rec.ID, rec.Name, rec.Phone, lessonType, groupSize, string(ages), age, rec.Location,
			rec.PreferredTime, string(rec.ContactPreference), string(rec.Status),
			rec.Timestamp.UTC().Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return "", err
	}
	slog.Info("entry_created", "store", "remote", "id", rec.ID)
	return rec.ID, nil
}

// UpdateStatus sets status and the store-assigned contactedAt.
// PRE: status is valid
// POST: contacted_at is set iff status is contacted; ErrNotFound when id is unknown
func (s *DocumentStore) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	var contactedAt any
	if status == domain.StatusContacted {
		contactedAt = s.opts.now().UTC().Format(timeLayout)
	}
	return s.mutate(ctx, "update", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE waitlist_entry SET status = ?, contacted_at = ? WHERE id = ?",
			string(status), contactedAt, id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// Remove deletes a row.
// POST: ErrNotFound when id is unknown
func (s *DocumentStore) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM waitlist_entry WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// mutate runs fn and the revision bump in one transaction, then notifies subscribers.
func (s *DocumentStore) mutate(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &StoreError{Op: op, Err: err}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE waitlist_revision SET revision = revision + 1 WHERE id = 1"); err != nil {
		return &StoreError{Op: op, Err: err}
	}
	var rev int64
	if err := tx.QueryRowContext(ctx, "SELECT revision FROM waitlist_revision WHERE id = 1").Scan(&rev); err != nil {
		return &StoreError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: op, Err: err}
	}

	s.mu.Lock()
	s.lastRev = rev
	s.mu.Unlock()
	s.broadcast()
	return nil
}

// Revision returns the current change counter.
func (s *DocumentStore) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, "SELECT revision FROM waitlist_revision WHERE id = 1").Scan(&rev)
	if err != nil {
		return 0, &StoreError{Op: "revision", Err: err}
	}
	return rev, nil
}

// Subscribe delivers the current snapshot before returning, then a fresh full
// snapshot after every change until ctx ends or the returned func is called.
// Deliveries to one handler never overlap; bursts of changes coalesce into one
// snapshot.
// PRE: h is non-nil
// POST: the subscription's goroutine is running; the revision poller is running
func (s *DocumentStore) Subscribe(ctx context.Context, h Handler) (Unsubscribe, error) {
	if h == nil {
		return nil, errors.New("subscribe: nil handler")
	}

	sub := &subscription{
		handler: h,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = sub
	if s.stopPoller == nil {
		if rev, err := s.Revision(ctx); err == nil {
			s.lastRev = rev
		}
		pollCtx, cancel := context.WithCancel(context.Background())
		s.stopPoller = cancel
		s.wg.Add(1)
		go s.poll(pollCtx)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.deliver(ctx, sub)
	go s.run(ctx, id, sub)

	return func() {
		sub.stop()
		s.unregister(id)
	}, nil
}

func (s *DocumentStore) deliver(ctx context.Context, sub *subscription) {
	if ctx.Err() != nil {
		return
	}
	snapshot, err := s.FetchAll(ctx)
	select {
	case <-sub.done:
		return
	default:
	}
	if err != nil {
		sub.handler(nil, err)
		return
	}
	sub.handler(snapshot, nil)
}

func (s *DocumentStore) run(ctx context.Context, id int, sub *subscription) {
	defer s.wg.Done()
	defer s.unregister(id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-sub.notify:
			s.deliver(ctx, sub)
		}
	}
}

func (s *DocumentStore) unregister(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return
	}
	delete(s.subs, id)
	if len(s.subs) == 0 && s.stopPoller != nil {
		s.stopPoller()
		s.stopPoller = nil
	}
}

func (s *DocumentStore) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		sub.signal()
	}
}

// poll watches the revision counter for writes made through other connections.
func (s *DocumentStore) poll(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rev, err := s.Revision(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("revision_poll_failed", "error", err)
			// subscribers re-read and surface the failure
			s.broadcast()
			continue
		}

		s.mu.Lock()
		changed := rev != s.lastRev
		s.lastRev = rev
		s.mu.Unlock()
		if changed {
			s.broadcast()
		}
	}
}

// Close stops every subscription and waits for their goroutines.
func (s *DocumentStore) Close() {
	s.mu.Lock()
	for id, sub := range s.subs {
		sub.stop()
		delete(s.subs, id)
	}
	if s.stopPoller != nil {
		s.stopPoller()
		s.stopPoller = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// scanEntry decodes one waitlist_entry row. Legacy rows carry a NULL
// lesson_type and a single age.
func scanEntry(scan func(dest ...any) error) (domain.Entry, error) {
	var (
		e           domain.Entry
		lessonType  sql.NullString
		groupSize   sql.NullInt64
		ages        sql.NullString
		age         sql.NullInt64
		contactPref string
		status      string
		contactedAt sql.NullString
		createdAt   string
	)
	err := scan(&e.ID, &e.Name, &e.Phone, &lessonType, &groupSize, &ages, &age, &e.Location,
		&e.PreferredTime, &contactPref, &status, &contactedAt, &createdAt)
	if err != nil {
		return domain.Entry{}, err
	}

	e.LessonType = domain.LessonType(lessonType.String)
	e.GroupSize = int(groupSize.Int64)
	if ages.Valid && ages.String != "" && ages.String != "null" {
		if err := json.Unmarshal([]byte(ages.String), &e.Ages); err != nil {
			return domain.Entry{}, fmt.Errorf("ages of %s: %w", e.ID, err)
		}
	}
	if age.Valid {
		a := int(age.Int64)
		e.Age = &a
	}
	e.ContactPreference = domain.ContactPreference(contactPref)
	e.Status = domain.Status(status)

	e.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("created_at of %s: %w", e.ID, err)
	}
	if contactedAt.Valid && contactedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, contactedAt.String)
		if err != nil {
			return domain.Entry{}, fmt.Errorf("contacted_at of %s: %w", e.ID, err)
		}
		e.ContactedAt = &t
	}
	return e, nil
}
