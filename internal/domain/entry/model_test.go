package entry_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"waitlist/internal/domain/entry"
)

func intPtr(n int) *int { return &n }

// TestEntry_Normalized_Legacy tests that a legacy single-age record gets the current shape.
func TestEntry_Normalized_Legacy(t *testing.T) {
	legacy := entry.Entry{ID: "old-1", Name: "Aminah", Age: intPtr(8), Status: entry.StatusWaiting}

	got := legacy.Normalized()

	if got.LessonType != entry.LessonPrivate {
		t.Errorf("LessonType = %q, want private", got.LessonType)
	}
	if got.GroupSize != 1 {
		t.Errorf("GroupSize = %d, want 1", got.GroupSize)
	}
	if diff := cmp.Diff([]int{8}, got.Ages); diff != "" {
		t.Errorf("Ages mismatch (-want +got):\n%s", diff)
	}
	if got.Age != nil {
		t.Error("expected Age to be cleared on the normalized view")
	}
	if legacy.LessonType != "" || legacy.Age == nil || *legacy.Age != 8 {
		t.Error("Normalized must not mutate the stored record")
	}
}

// TestEntry_Normalized_LegacyWithoutAge tests that a legacy record without an age yields no ages.
func TestEntry_Normalized_LegacyWithoutAge(t *testing.T) {
	got := entry.Entry{ID: "old-2"}.Normalized()
	if len(got.Ages) != 0 {
		t.Errorf("Ages = %v, want empty", got.Ages)
	}
	if got.AgesText() != "" {
		t.Errorf("AgesText = %q, want empty", got.AgesText())
	}
}

// TestEntry_Normalized_Idempotent tests that normalizing twice equals normalizing once.
func TestEntry_Normalized_Idempotent(t *testing.T) {
	tests := []struct {
		name  string
		entry entry.Entry
	}{
		{"current group", entry.Entry{ID: "a", LessonType: entry.LessonGroup, GroupSize: 2, Ages: []int{6, 8}}},
		{"current private", entry.Entry{ID: "b", LessonType: entry.LessonPrivate, GroupSize: 1, Ages: []int{30}}},
		{"legacy", entry.Entry{ID: "c", Age: intPtr(12)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := tt.entry.Normalized()
			twice := once.Normalized()
			if diff := cmp.Diff(once, twice); diff != "" {
				t.Errorf("second normalization changed the entry (-once +twice):\n%s", diff)
			}
			if !tt.entry.IsLegacy() {
				if diff := cmp.Diff(tt.entry, once); diff != "" {
					t.Errorf("current-shape entry changed (-want +got):\n%s", diff)
				}
			}
		})
	}
}

// TestEntry_WithStatus tests the contactedAt invariant across both transitions.
func TestEntry_WithStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := entry.Entry{ID: "x", Status: entry.StatusWaiting}

	contacted, err := e.WithStatus(entry.StatusContacted, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contacted.ContactedAt == nil || !contacted.ContactedAt.Equal(now) {
		t.Fatalf("ContactedAt = %v, want %v", contacted.ContactedAt, now)
	}

	waiting, err := contacted.WithStatus(entry.StatusWaiting, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waiting.ContactedAt != nil {
		t.Errorf("ContactedAt = %v, want nil after moving back to waiting", waiting.ContactedAt)
	}

	if _, err := e.WithStatus("archived", now); err != entry.ErrInvalidStatus {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}
}

// TestEntry_Labels tests the display helpers used by the admin table and the export.
func TestEntry_Labels(t *testing.T) {
	group := entry.Entry{LessonType: entry.LessonGroup, GroupSize: 3, Ages: []int{10, 12, 14}, ContactPreference: entry.ContactAnyAvailable}
	if got := group.LessonLabel(); got != "Group" {
		t.Errorf("LessonLabel = %q, want Group", got)
	}
	if got := group.GroupLabel(); got != "Group of 3" {
		t.Errorf("GroupLabel = %q, want Group of 3", got)
	}
	if got := group.AgesText(); got != "10, 12, 14" {
		t.Errorf("AgesText = %q", got)
	}
	if got := group.ContactPreferenceLabel(); got != "Any slot" {
		t.Errorf("ContactPreferenceLabel = %q", got)
	}

	legacy := entry.Entry{Age: intPtr(9), ContactPreference: entry.ContactPreferredOnly}
	if got := legacy.LessonLabel(); got != "Private" {
		t.Errorf("legacy LessonLabel = %q, want Private", got)
	}
	if got := legacy.ContactPreferenceLabel(); got != "Preferred only" {
		t.Errorf("ContactPreferenceLabel = %q", got)
	}
}

// TestSortByTimestamp tests ascending order by creation instant.
func TestSortByTimestamp(t *testing.T) {
	entries := entry.SampleEntries(time.UTC)
	entry.SortByTimestamp(entries)

	want := []string{"sample3", "sample1", "sample2"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("entries[%d].ID = %s, want %s", i, entries[i].ID, id)
		}
	}
}

// TestEntry_Clone tests that clones share no mutable state.
func TestEntry_Clone(t *testing.T) {
	orig := entry.Entry{Ages: []int{4, 5}, Age: intPtr(4)}
	c := orig.Clone()
	c.Ages[0] = 99
	*c.Age = 99
	if orig.Ages[0] != 4 || *orig.Age != 4 {
		t.Error("Clone shares memory with the original")
	}
}
