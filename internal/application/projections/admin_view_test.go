package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"waitlist/internal/adapters/storage"
	entrystore "waitlist/internal/adapters/storage/entry"
	"waitlist/internal/adapters/storage/kv"
	"waitlist/internal/domain/entry"
)

// flakyFetcher implements AdminViewFetcher with switchable failure.
type flakyFetcher struct {
	entries []entry.Entry
	err     error
	calls   int
}

func (f *flakyFetcher) FetchAll(context.Context) ([]entry.Entry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func mixedEntries() []entry.Entry {
	age := 9
	return []entry.Entry{
		{ID: "new", Name: "New", LessonType: entry.LessonPrivate, GroupSize: 1, Ages: []int{5},
			Status: entry.StatusWaiting, Timestamp: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "legacy", Name: "Legacy", Age: &age, Status: entry.StatusContacted,
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "mid", Name: "Mid", LessonType: entry.LessonGroup, GroupSize: 2, Ages: []int{6, 7},
			Status: entry.StatusWaiting, Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func entryIDs(entries []entry.Entry) []string {
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// TestAdminView_QueryFiltersAndCounts tests newest-first filtering and tab counts.
func TestAdminView_QueryFiltersAndCounts(t *testing.T) {
	view := NewAdminView(&flakyFetcher{entries: mixedEntries()})
	if err := view.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if view.Live() {
		t.Error("a plain fetcher must not be live")
	}

	tests := []struct {
		filter  Filter
		wantIDs []string
	}{
		{FilterAll, []string{"legacy", "mid", "new"}},
		{FilterWaiting, []string{"mid", "new"}},
		{FilterContacted, []string{"legacy"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.filter), func(t *testing.T) {
			page := view.Query(tt.filter)
			if diff := cmp.Diff(tt.wantIDs, entryIDs(page.Entries)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
			if want := (Counts{Waiting: 2, Contacted: 1, Total: 3}); page.Counts != want {
				t.Errorf("Counts = %+v, want %+v", page.Counts, want)
			}
			if !page.Loaded {
				t.Error("page not marked loaded")
			}
		})
	}

	legacy, ok := view.Find("legacy")
	if !ok {
		t.Fatal("legacy entry not found")
	}
	if legacy.LessonType != entry.LessonPrivate {
		t.Errorf("legacy lesson type = %q, want private", legacy.LessonType)
	}
	if diff := cmp.Diff([]int{9}, legacy.Ages); diff != "" {
		t.Errorf("legacy ages mismatch (-want +got):\n%s", diff)
	}
}

// TestAdminView_TotalCountsEveryEntry tests that a record with an unknown status
// is still counted in the total it is listed under.
func TestAdminView_TotalCountsEveryEntry(t *testing.T) {
	entries := append(mixedEntries(), entry.Entry{
		ID: "odd", Name: "Odd", LessonType: entry.LessonPrivate, GroupSize: 1, Ages: []int{4},
		Status: entry.Status("pending"), Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	view := NewAdminView(&flakyFetcher{entries: entries})
	if err := view.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	page := view.Query(FilterAll)
	if got := len(page.Entries); got != 4 {
		t.Fatalf("all view lists %d entries, want 4", got)
	}
	if want := (Counts{Waiting: 2, Contacted: 1, Total: 4}); page.Counts != want {
		t.Errorf("Counts = %+v, want %+v", page.Counts, want)
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		raw  string
		want Filter
	}{
		{"waiting", FilterWaiting},
		{"contacted", FilterContacted},
		{"all", FilterAll},
		{"bogus", FilterAll},
		{"", FilterAll},
	}
	for _, tt := range tests {
		if got := ParseFilter(tt.raw); got != tt.want {
			t.Errorf("ParseFilter(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

// TestAdminView_FailureKeepsCache tests that a failed refresh keeps the last good list.
func TestAdminView_FailureKeepsCache(t *testing.T) {
	fetcher := &flakyFetcher{entries: mixedEntries()}
	view := NewAdminView(fetcher)
	if err := view.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fetcher.err = errors.New("permission denied")
	if err := view.AfterCommand(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got := len(view.Entries()); got != 3 {
		t.Errorf("cached entries = %d, want 3", got)
	}
	if view.LastError() == nil || view.Query(FilterAll).Err == nil {
		t.Error("failure not reported")
	}

	fetcher.err = nil
	if err := view.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := view.LastError(); err != nil {
		t.Errorf("LastError = %v after a good snapshot", err)
	}
}

// TestAdminView_LocalStoreRefetchesAfterCommand tests the pull path of the local store.
func TestAdminView_LocalStoreRefetchesAfterCommand(t *testing.T) {
	ctx := context.Background()
	store := entrystore.NewLocalStore(kv.NewMemoryStore())
	view := NewAdminView(store)
	if err := view.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(view.Entries()) != 0 {
		t.Fatalf("entries = %v, want none", view.Entries())
	}

	id, err := store.Create(ctx, entry.Entry{Name: "Ali", LessonType: entry.LessonPrivate, GroupSize: 1, Ages: []int{7}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(view.Entries()) != 0 {
		t.Error("local store must not push")
	}

	if err := view.AfterCommand(ctx); err != nil {
		t.Fatalf("AfterCommand: %v", err)
	}
	got := view.Entries()
	if len(got) != 1 || got[0].ID != id {
		t.Errorf("entries = %v, want [%s]", entryIDs(got), id)
	}
}

// TestAdminView_DocumentStorePushes tests that snapshots from the document store reach the view.
func TestAdminView_DocumentStorePushes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := storage.InitDB(db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}

	store := entrystore.NewDocumentStore(db, entrystore.WithPollInterval(10*time.Millisecond))
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view := NewAdminView(store)
	if !view.Live() {
		t.Fatal("document store view must be live")
	}
	if err := view.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer view.Stop()
	if !view.Query(FilterAll).Loaded {
		t.Error("first snapshot not delivered by Start")
	}

	changes := view.Watch(ctx)

	if _, err := store.Create(ctx, entry.Entry{Name: "Ali", LessonType: entry.LessonPrivate, GroupSize: 1, Ages: []int{7}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := view.AfterCommand(ctx); err != nil {
		t.Fatalf("AfterCommand: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for view.Query(FilterAll).Counts.Total != 1 {
		select {
		case <-changes:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("snapshot with the new entry never arrived")
		}
	}
}

// TestAdminView_WatchClosesWithContext tests that Watch signals changes and closes on cancel.
func TestAdminView_WatchClosesWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	view := NewAdminView(&flakyFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	changes := view.Watch(ctx)

	if err := view.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}

	cancel()
	select {
	case _, open := <-changes:
		if open {
			t.Error("watch channel still open")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
