package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"waitlist/internal/adapters/http/middleware"
	"waitlist/internal/application/orchestrators"
	"waitlist/internal/domain/entry"
)

// MaxGroupSize is the largest group offered by the signup form.
const MaxGroupSize = orchestrators.MaxGroupSize

// signupForm is the sticky state of the signup form.
type signupForm struct {
	Name              string
	Phone             string
	LessonType        string
	GroupSize         int
	Ages              []ageSlot
	Location          string
	PreferredTime     string
	ContactPreference string
	Flags             map[string]bool // inputs failing validation
}

// ageSlot is one rendered age input.
type ageSlot struct {
	ID      string
	Label   string
	Value   string
	Flagged bool
}

func emptySignupForm() signupForm {
	return signupForm{
		LessonType:        string(entry.LessonPrivate),
		GroupSize:         2,
		Ages:              buildAgeSlots(1, nil, nil),
		ContactPreference: string(entry.ContactAnyAvailable),
	}
}

// slotCount is how many ages the selected lesson type expects.
func slotCount(lessonType string, groupSize int) int {
	return orchestrators.AgeSlotCount(lessonType, strconv.Itoa(groupSize))
}

// buildAgeSlots binds one input id per expected age, keeping earlier values.
func buildAgeSlots(count int, values []string, flagged map[string]bool) []ageSlot {
	ids := entry.AgeSlots(count)
	slots := make([]ageSlot, len(ids))
	for i, id := range ids {
		label := "Age of Student"
		if count > 1 {
			label = "Age of Student " + strconv.Itoa(i+1)
		}
		value := ""
		if i < len(values) {
			value = values[i]
		}
		slots[i] = ageSlot{ID: id, Label: label, Value: value, Flagged: flagged[id]}
	}
	return slots
}

// clampGroupSize reads the group-size selector, capped at MaxGroupSize.
func clampGroupSize(raw string) int {
	return orchestrators.ParseGroupSize(raw)
}

// handleSignupForm handles GET /
func handleSignupForm(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, r, http.StatusOK, "signup.html", map[string]any{
		"Form":          emptySignupForm(),
		"GroupSizes":    groupSizes(),
		"HideGroupSize": true,
	})
}

// handleAgeFields handles GET /age-fields?lesson-type=group&group-size=3.
// Returns the age inputs for the selection, used by the form script.
func handleAgeFields(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size := clampGroupSize(q.Get("group-size"))
	count := slotCount(q.Get("lesson-type"), size)
	renderFragment(w, r, "age_fields.html", "ageFields", buildAgeSlots(count, nil, nil))
}

// handleSubmitSignup handles POST /
func handleSubmitSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}

	form := signupForm{
		Name:              r.FormValue("name"),
		Phone:             r.FormValue("phone"),
		LessonType:        r.FormValue("lesson-type"),
		GroupSize:         clampGroupSize(r.FormValue("group-size")),
		Location:          r.FormValue("location"),
		PreferredTime:     r.FormValue("preferred-time"),
		ContactPreference: r.FormValue("contact-preference"),
	}
	if !entry.LessonType(form.LessonType).Valid() {
		form.LessonType = string(entry.LessonPrivate)
	}
	count := slotCount(form.LessonType, form.GroupSize)
	ageInputs := make([]string, count)
	for i, id := range entry.AgeSlots(count) {
		ageInputs[i] = r.FormValue(id)
	}

	input := orchestrators.SubmitEntryInput{
		ClientID:          middleware.GetClientID(r.Context()),
		Honeypot:          r.FormValue("website"),
		Name:              form.Name,
		Phone:             form.Phone,
		LessonType:        form.LessonType,
		GroupSize:         strconv.Itoa(form.GroupSize),
		AgeInputs:         ageInputs,
		Location:          form.Location,
		PreferredTime:     form.PreferredTime,
		ContactPreference: form.ContactPreference,
	}
	if input.ClientID == "" {
		input.ClientID = middleware.ClientIP(r)
	}

	deps := orchestrators.SubmitEntryDeps{
		EntryStore: stores.EntryStore,
		Markers:    stores.Markers,
		Guard:      submitGuard,
		Window:     settings.RateLimitWindow,
		CoachName:  settings.CoachName,
		Now:        timeNow,
		AfterCreate: func(ctx context.Context, e entry.Entry) {
			if view != nil {
				_ = view.AfterCommand(ctx)
			}
			if settings.Notify != nil {
				settings.Notify(ctx, e)
			}
		},
	}

	result, err := orchestrators.ExecuteSubmitEntry(r.Context(), input, deps)

	// sticky re-renders the form with what the user typed.
	sticky := func(status int, data map[string]any, flagged map[string]bool) {
		form.Ages = buildAgeSlots(count, ageInputs, flagged)
		data["Form"] = form
		data["GroupSizes"] = groupSizes()
		data["HideGroupSize"] = form.LessonType != string(entry.LessonGroup)
		renderTemplate(w, r, status, "signup.html", data)
	}

	var validationErr *orchestrators.ValidationError
	var rateErr *orchestrators.RateLimitedError
	var persistErr *orchestrators.PersistenceError
	switch {
	case err == nil:
		renderTemplate(w, r, http.StatusOK, "signup.html", map[string]any{
			"Form":          emptySignupForm(),
			"GroupSizes":    groupSizes(),
			"HideGroupSize": true,
			"Flash":         flash{Kind: flashSuccess, Message: result.Message},
		})
	case errors.Is(err, orchestrators.ErrSpamDetected):
		renderTemplate(w, r, http.StatusOK, "signup.html", map[string]any{
			"Form":          emptySignupForm(),
			"GroupSizes":    groupSizes(),
			"HideGroupSize": true,
		})
	case errors.As(err, &validationErr):
		form.Flags = validationErr.Fields()
		sticky(http.StatusUnprocessableEntity, map[string]any{
			"Errors": validationErr.Messages(),
		}, form.Flags)
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.WaitSeconds))
		sticky(http.StatusTooManyRequests, map[string]any{
			"Flash": flash{Kind: flashError, Message: rateErr.Error()},
		}, nil)
	case errors.Is(err, orchestrators.ErrSubmissionInProgress):
		sticky(http.StatusConflict, map[string]any{
			"Flash": flash{Kind: flashInfo, Message: "Your signup is already being submitted."},
		}, nil)
	case errors.As(err, &persistErr):
		sticky(http.StatusServiceUnavailable, map[string]any{
			"Flash": flash{Kind: flashError, Message: orchestrators.PersistenceMessage},
		}, nil)
	default:
		internalError(w, err)
	}
}

func groupSizes() []int {
	out := make([]int, 0, MaxGroupSize-1)
	for n := 2; n <= MaxGroupSize; n++ {
		out = append(out, n)
	}
	return out
}
