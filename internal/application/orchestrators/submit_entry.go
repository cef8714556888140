package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"waitlist/internal/domain/entry"
)

// DefaultRateLimitWindow is the minimum gap between accepted submissions from one client.
const DefaultRateLimitWindow = 60 * time.Second

// DefaultCoachName signs the success message when none is configured.
const DefaultCoachName = "Coach Wong"

// MaxGroupSize is the largest group a signup may request.
const MaxGroupSize = 6

// rateMarkerPrefix keys the epoch-ms of a client's last accepted submission.
const rateMarkerPrefix = "lastSubmissionTime:"

// RateMarkerKey returns the kv key holding the last accepted submission time of a client.
func RateMarkerKey(clientID string) string {
	return rateMarkerPrefix + clientID
}

// SubmitState is a step of the submission state machine.
type SubmitState int

// Submission states.
const (
	SubmitIdle SubmitState = iota
	SubmitChecking
	SubmitSubmitting
	SubmitSucceeded
	SubmitFailed
)

func (s SubmitState) String() string {
	switch s {
	case SubmitIdle:
		return "idle"
	case SubmitChecking:
		return "checking"
	case SubmitSubmitting:
		return "submitting"
	case SubmitSucceeded:
		return "succeeded"
	case SubmitFailed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrSpamDetected means the honeypot was filled. Callers show nothing.
	ErrSpamDetected = errors.New("spam detected")
	// ErrSubmissionInProgress means the same client already has a submission in flight.
	ErrSubmissionInProgress = errors.New("a submission is already in progress")
)

// RateLimitedError rejects a submission that came too soon after the last accepted one.
type RateLimitedError struct {
	WaitSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("Please wait %d seconds before submitting again.", e.WaitSeconds)
}

// ValidationError carries every failed validation rule.
type ValidationError struct {
	Errors []entry.FieldError
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages(), "\n")
}

// Messages returns the messages in rule order.
func (e *ValidationError) Messages() []string {
	return entry.Result{Errors: e.Errors}.Messages()
}

// Fields returns the ids of the inputs to flag.
func (e *ValidationError) Fields() map[string]bool {
	return entry.Result{Errors: e.Errors}.Fields()
}

// PersistenceError means the store refused the entry. The user may retry at once.
type PersistenceError struct {
	Err error
}

// PersistenceMessage is shown to the user when the store fails.
const PersistenceMessage = "Sorry, there was an error submitting your form. Please try again."

func (e *PersistenceError) Error() string {
	return PersistenceMessage
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SubmitGuard tracks clients with a submission in flight.
type SubmitGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewSubmitGuard creates an empty guard.
func NewSubmitGuard() *SubmitGuard {
	return &SubmitGuard{inFlight: make(map[string]struct{})}
}

// Acquire marks clientID busy. It returns false if it already was.
func (g *SubmitGuard) Acquire(clientID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[clientID]; busy {
		return false
	}
	g.inFlight[clientID] = struct{}{}
	return true
}

// Release clears clientID.
func (g *SubmitGuard) Release(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, clientID)
}

// EntryCreator persists new entries.
type EntryCreator interface {
	Create(ctx context.Context, e entry.Entry) (string, error)
}

// MarkerStore holds per-client submission markers.
type MarkerStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// SubmitEntryInput is the raw signup form.
type SubmitEntryInput struct {
	ClientID          string
	Honeypot          string
	Name              string
	Phone             string
	LessonType        string
	GroupSize         string
	AgeInputs         []string // one value per rendered age slot, in slot order
	Location          string
	PreferredTime     string
	ContactPreference string
}

// SubmitEntryDeps holds dependencies for SubmitEntry.
type SubmitEntryDeps struct {
	EntryStore EntryCreator
	Markers    MarkerStore
	Guard      *SubmitGuard
	Window     time.Duration
	CoachName  string
	Now        func() time.Time
	OnState    func(SubmitState)
	// AfterCreate runs once the entry is stored. Its outcome never affects the result.
	AfterCreate func(ctx context.Context, e entry.Entry)
}

// SubmitEntryResult describes an accepted signup.
type SubmitEntryResult struct {
	ID      string
	Entry   entry.Entry
	Message string
}

// ExecuteSubmitEntry runs one signup through the honeypot, the rate limit,
// validation and the store.
// PRE: deps.EntryStore, deps.Markers and deps.Guard are set
// POST: on success the entry is stored with status waiting and the client's marker is
// advanced; on any failure the marker is untouched and nothing is stored
// INVARIANT: at most one submission per ClientID is between the rate check and persistence
// INVARIANT: a stored entry has exactly one age per expected slot
func ExecuteSubmitEntry(ctx context.Context, input SubmitEntryInput, deps SubmitEntryDeps) (SubmitEntryResult, error) {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	window := deps.Window
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	coach := deps.CoachName
	if coach == "" {
		coach = DefaultCoachName
	}
	state := func(s SubmitState) {
		if deps.OnState != nil {
			deps.OnState(s)
		}
	}

	state(SubmitChecking)

	if input.Honeypot != "" {
		slog.Info("submission_event", "event", "spam_detected", "client_id", input.ClientID)
		state(SubmitIdle)
		return SubmitEntryResult{}, ErrSpamDetected
	}

	if !deps.Guard.Acquire(input.ClientID) {
		state(SubmitIdle)
		return SubmitEntryResult{}, ErrSubmissionInProgress
	}
	defer deps.Guard.Release(input.ClientID)

	// The marker is read under the guard so a submission that finishes
	// concurrently is always seen.
	if wait, limited := checkRateLimit(ctx, deps.Markers, input.ClientID, now(), window); limited {
		slog.Info("submission_event", "event", "rate_limited", "client_id", input.ClientID, "wait_seconds", wait)
		state(SubmitIdle)
		return SubmitEntryResult{}, &RateLimitedError{WaitSeconds: wait}
	}

	input.AgeInputs = fitAgeInputs(input.AgeInputs, AgeSlotCount(input.LessonType, input.GroupSize))
	candidate := entry.Candidate{Name: input.Name, Phone: input.Phone, AgeInputs: input.AgeInputs}
	if result := entry.Validate(candidate); !result.Valid {
		state(SubmitIdle)
		return SubmitEntryResult{}, &ValidationError{Errors: result.Errors}
	}

	e := collectEntry(input, now())

	state(SubmitSubmitting)
	id, err := deps.EntryStore.Create(ctx, e)
	if err != nil {
		slog.Error("submission_event", "event", "persist_failed", "client_id", input.ClientID, "error", err)
		state(SubmitFailed)
		state(SubmitIdle)
		return SubmitEntryResult{}, &PersistenceError{Err: err}
	}
	e.ID = id

	marker := strconv.FormatInt(now().UnixMilli(), 10)
	if err := deps.Markers.Put(ctx, RateMarkerKey(input.ClientID), marker); err != nil {
		slog.Warn("submission_event", "event", "marker_write_failed", "client_id", input.ClientID, "error", err)
	}

	slog.Info("submission_event", "event", "entry_submitted", "id", id, "lesson_type", e.LessonType, "group_size", e.GroupSize)
	state(SubmitSucceeded)

	if deps.AfterCreate != nil {
		deps.AfterCreate(ctx, e)
	}

	state(SubmitIdle)
	return SubmitEntryResult{
		ID:      id,
		Entry:   e,
		Message: SuccessMessage(e.Name, coach),
	}, nil
}

// SuccessMessage is the confirmation shown after an accepted signup.
func SuccessMessage(name, coach string) string {
	return fmt.Sprintf("Thank you, %s! You've been added to the waitlist. %s will contact you as soon as a slot is available.", name, coach)
}

// checkRateLimit reports whether the client must wait, and for how many whole seconds.
// An unreadable marker does not block the submission.
func checkRateLimit(ctx context.Context, markers MarkerStore, clientID string, now time.Time, window time.Duration) (int, bool) {
	raw, found, err := markers.Get(ctx, RateMarkerKey(clientID))
	if err != nil {
		slog.Warn("submission_event", "event", "marker_read_failed", "client_id", clientID, "error", err)
		return 0, false
	}
	if !found {
		return 0, false
	}
	lastMs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	elapsed := now.Sub(time.UnixMilli(lastMs))
	if elapsed >= window {
		return 0, false
	}
	remaining := window - elapsed
	wait := int((remaining + time.Second - 1) / time.Second)
	return wait, true
}

// lessonShape resolves the lesson type and group size of raw form values.
func lessonShape(rawType, rawSize string) (entry.LessonType, int) {
	lessonType := entry.LessonType(rawType)
	if !lessonType.Valid() {
		lessonType = entry.LessonPrivate
	}
	if lessonType == entry.LessonGroup {
		return lessonType, ParseGroupSize(rawSize)
	}
	return lessonType, 1
}

// AgeSlotCount is how many ages a signup with these form values must carry.
func AgeSlotCount(rawType, rawSize string) int {
	_, size := lessonShape(rawType, rawSize)
	return size
}

// fitAgeInputs trims or pads inputs to count slots. Padded slots are blank
// and fail validation.
func fitAgeInputs(inputs []string, count int) []string {
	out := make([]string, count)
	copy(out, inputs)
	return out
}

// collectEntry builds the stored entry from validated form input.
// PRE: len(input.AgeInputs) == AgeSlotCount(input.LessonType, input.GroupSize)
func collectEntry(input SubmitEntryInput, now time.Time) entry.Entry {
	lessonType, groupSize := lessonShape(input.LessonType, input.GroupSize)
	pref := entry.ContactPreference(input.ContactPreference)
	if !pref.Valid() {
		pref = entry.ContactAnyAvailable
	}

	return entry.Entry{
		Name:              strings.TrimSpace(input.Name),
		Phone:             entry.NormalizePhone(strings.TrimSpace(input.Phone)),
		LessonType:        lessonType,
		GroupSize:         groupSize,
		Ages:              entry.ParseAges(input.AgeInputs),
		Location:          strings.TrimSpace(input.Location),
		PreferredTime:     strings.TrimSpace(input.PreferredTime),
		ContactPreference: pref,
		Status:            entry.StatusWaiting,
		Timestamp:         now,
	}
}

// ParseGroupSize reads the group-size selector. Anything unparseable or below 2 is 2,
// anything above MaxGroupSize is MaxGroupSize.
func ParseGroupSize(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 2 {
		return 2
	}
	return min(n, MaxGroupSize)
}
