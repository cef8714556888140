package entry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LessonType is the kind of lesson requested.
type LessonType string

// Lesson types. An empty LessonType marks a legacy record.
const (
	LessonPrivate LessonType = "private"
	LessonGroup   LessonType = "group"
)

// Status is the contact state of an entry.
type Status string

// Entry statuses. New entries always start as StatusWaiting.
const (
	StatusWaiting   Status = "waiting"
	StatusContacted Status = "contacted"
)

// ContactPreference says which slots the family is willing to take.
type ContactPreference string

// Contact preferences.
const (
	ContactAnyAvailable  ContactPreference = "any-available"
	ContactPreferredOnly ContactPreference = "preferred-only"
)

// Domain errors
var (
	ErrInvalidStatus     = errors.New("status must be one of: waiting, contacted")
	ErrInvalidLessonType = errors.New("lesson type must be one of: private, group")
)

// Valid reports whether t is a known lesson type.
func (t LessonType) Valid() bool {
	return t == LessonPrivate || t == LessonGroup
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusWaiting || s == StatusContacted
}

// Valid reports whether p is a known contact preference.
func (p ContactPreference) Valid() bool {
	return p == ContactAnyAvailable || p == ContactPreferredOnly
}

// Entry is one waitlist signup as stored.
// Two shapes exist: the current shape (LessonType, GroupSize, Ages) and the legacy
// shape (LessonType empty, single Age). Read sites call Normalized before use.
// INVARIANT: Status == StatusContacted iff ContactedAt != nil.
// INVARIANT: ID and Timestamp never change after creation.
type Entry struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Phone             string            `json:"phone"`
	LessonType        LessonType        `json:"lessonType,omitempty"`
	GroupSize         int               `json:"groupSize,omitempty"`
	Ages              []int             `json:"ages,omitempty"`
	Age               *int              `json:"age,omitempty"`
	Location          string            `json:"location,omitempty"`
	PreferredTime     string            `json:"preferredTime,omitempty"`
	ContactPreference ContactPreference `json:"contactPreference"`
	Status            Status            `json:"status"`
	ContactedAt       *time.Time        `json:"contactedAt,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

// IsLegacy reports whether the entry was stored in the single-age, private-only shape.
func (e Entry) IsLegacy() bool {
	return e.LessonType == ""
}

// Normalized returns the canonical view of the entry.
// PRE: none
// POST: LessonType is set; legacy entries become private, GroupSize 1, Ages [Age] (or empty)
// INVARIANT: the receiver is not mutated; current-shape entries come back unchanged
func (e Entry) Normalized() Entry {
	if !e.IsLegacy() {
		return e
	}
	out := e
	out.LessonType = LessonPrivate
	out.GroupSize = 1
	out.Ages = []int{}
	if e.Age != nil {
		out.Ages = []int{*e.Age}
	}
	out.Age = nil
	return out
}

// WithStatus returns a copy of the entry moved to status.
// PRE: status is valid
// POST: ContactedAt is set to now when contacted, cleared when waiting
func (e Entry) WithStatus(status Status, now time.Time) (Entry, error) {
	if !status.Valid() {
		return e, ErrInvalidStatus
	}
	out := e
	out.Status = status
	if status == StatusContacted {
		t := now
		out.ContactedAt = &t
	} else {
		out.ContactedAt = nil
	}
	return out, nil
}

// Clone returns a deep copy so callers can hand entries out without sharing slices.
func (e Entry) Clone() Entry {
	out := e
	if e.Ages != nil {
		out.Ages = append([]int(nil), e.Ages...)
	}
	if e.Age != nil {
		a := *e.Age
		out.Age = &a
	}
	if e.ContactedAt != nil {
		t := *e.ContactedAt
		out.ContactedAt = &t
	}
	return out
}

var titleCaser = cases.Title(language.English)

// LessonLabel is the export label for the lesson type ("Private" or "Group").
func (e Entry) LessonLabel() string {
	return titleCaser.String(string(e.Normalized().LessonType))
}

// GroupLabel is the admin badge text: "Private" or "Group of N".
func (e Entry) GroupLabel() string {
	n := e.Normalized()
	if n.LessonType == LessonGroup {
		return fmt.Sprintf("Group of %d", n.GroupSize)
	}
	return "Private"
}

// AgesText joins the normalized ages with ", ".
func (e Entry) AgesText() string {
	ages := e.Normalized().Ages
	parts := make([]string, len(ages))
	for i, a := range ages {
		parts[i] = strconv.Itoa(a)
	}
	return strings.Join(parts, ", ")
}

// ContactPreferenceLabel is the human label for the contact preference.
func (e Entry) ContactPreferenceLabel() string {
	if e.ContactPreference == ContactAnyAvailable {
		return "Any slot"
	}
	return "Preferred only"
}

// SortByTimestamp orders entries by creation instant, oldest first.
func SortByTimestamp(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

// SampleEntries returns the demonstration entries used to seed an empty local store.
func SampleEntries(loc *time.Location) []Entry {
	if loc == nil {
		loc = time.UTC
	}
	contactedAt := time.Date(2025, 1, 12, 9, 0, 0, 0, loc)
	return []Entry{
		{
			ID: "sample1", Name: "Ahmad Ali", Phone: "012-3456789",
			LessonType: LessonPrivate, GroupSize: 1, Ages: []int{8},
			Location: "Block 123, KLCC Residences", PreferredTime: "Weekends, 2-4pm",
			ContactPreference: ContactAnyAvailable, Status: StatusWaiting,
			Timestamp: time.Date(2025, 1, 10, 10, 30, 0, 0, loc),
		},
		{
			ID: "sample2", Name: "Siti Nurhaliza", Phone: "013-9876543",
			LessonType: LessonGroup, GroupSize: 2, Ages: []int{6, 8},
			Location: "Marina Bay Apartments", PreferredTime: "Flexible",
			ContactPreference: ContactPreferredOnly, Status: StatusWaiting,
			Timestamp: time.Date(2025, 1, 11, 14, 20, 0, 0, loc),
		},
		{
			ID: "sample3", Name: "Lee Wei Ming", Phone: "016-5554321",
			LessonType: LessonGroup, GroupSize: 3, Ages: []int{10, 12, 14},
			Location: "Damansara Heights", PreferredTime: "Weekdays after 4pm",
			ContactPreference: ContactAnyAvailable, Status: StatusContacted,
			ContactedAt: &contactedAt,
			Timestamp:   time.Date(2025, 1, 9, 9, 15, 0, 0, loc),
		},
	}
}
