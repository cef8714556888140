package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"waitlist/internal/adapters/http/middleware"
	"waitlist/internal/adapters/http/perf"
	"waitlist/internal/adapters/storage"
	accountStore "waitlist/internal/adapters/storage/account"
	entryStore "waitlist/internal/adapters/storage/entry"
	"waitlist/internal/adapters/storage/kv"
	"waitlist/internal/application/orchestrators"
	"waitlist/internal/application/projections"
	"waitlist/internal/domain/account"
	"waitlist/internal/domain/entry"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	entries  *entryStore.LocalStore
	markers  *kv.MemoryStore
	accounts accountStore.Store
	mux      *http.ServeMux
	now      time.Time
}

// newTestEnv wires the package globals over a local store, without CSRF.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.InitDB(db))

	env := &testEnv{
		markers:  kv.NewMemoryStore(),
		accounts: accountStore.NewSQLiteStore(db),
		mux:      http.NewServeMux(),
		now:      testNow,
	}
	clock := func() time.Time { return env.now }
	env.entries = entryStore.NewLocalStore(kv.NewMemoryStore(), entryStore.WithClock(clock))

	stores = &Stores{AccountStore: env.accounts, EntryStore: env.entries, Markers: env.markers}
	view = projections.NewAdminView(env.entries)
	require.NoError(t, view.Start(context.Background()))
	settings = Settings{CoachName: "Coach Wong", Location: time.UTC, RateLimitWindow: time.Minute, StoreMode: "local"}
	sessions = middleware.NewSessionStore()
	submitGuard = orchestrators.NewSubmitGuard()
	perfCollector = perf.NewCollector(100)
	prev := timeNow
	timeNow = clock
	t.Cleanup(func() { timeNow = prev })

	registerRoutes(env.mux)
	return env
}

// do serves r as client-1, optionally with an admin session.
func (env *testEnv) do(r *http.Request, admin bool) *httptest.ResponseRecorder {
	ctx := middleware.ContextWithClientID(r.Context(), "client-1")
	if admin {
		ctx = middleware.ContextWithSession(ctx, middleware.Session{AccountID: "acct-1", Email: "coach@example.com"})
	}
	rr := httptest.NewRecorder()
	env.mux.ServeHTTP(rr, r.WithContext(ctx))
	return rr
}

func postForm(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func validSignup() url.Values {
	return url.Values{
		"name":               {"Ahmad Ali"},
		"phone":              {"012-345 6789"},
		"lesson-type":        {"group"},
		"group-size":         {"2"},
		"age-1":              {"6"},
		"age-2":              {"8"},
		"location":           {"KLCC"},
		"contact-preference": {"any-available"},
	}
}

func (env *testEnv) stored(t *testing.T) []entry.Entry {
	t.Helper()
	all, err := env.entries.FetchAll(context.Background())
	require.NoError(t, err)
	return all
}

func TestSignupForm_Renders(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/", nil), false)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `name="website"`)
	assert.Contains(t, body, `id="age-1"`)
	assert.NotContains(t, body, `id="age-2"`)
	assert.Contains(t, body, "Coach Wong")
}

func TestSubmitSignup_Accepted(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(postForm("/", validSignup()), false)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Thank you, Ahmad Ali! You&#39;ve been added to the waitlist.")

	all := env.stored(t)
	require.Len(t, all, 1)
	assert.Equal(t, entry.StatusWaiting, all[0].Status)
	assert.Equal(t, entry.LessonGroup, all[0].LessonType)
	assert.Equal(t, []int{6, 8}, all[0].Ages)
	assert.Equal(t, "012-3456789", all[0].Phone)

	marker, ok, err := env.markers.Get(context.Background(), orchestrators.RateMarkerKey("client-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1777888800000", marker)

	page := view.Query(projections.FilterAll)
	assert.Equal(t, 1, page.Counts.Total, "local view refreshes after a signup")
}

func TestSubmitSignup_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(postForm("/", validSignup()), false).Code)

	env.now = testNow.Add(30 * time.Second)
	rr := env.do(postForm("/", validSignup()), false)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "Please wait 30 seconds before submitting again.")
	assert.Equal(t, "30", rr.Header().Get("Retry-After"))

	env.now = testNow.Add(61 * time.Second)
	assert.Equal(t, http.StatusOK, env.do(postForm("/", validSignup()), false).Code)
	assert.Len(t, env.stored(t), 2)
}

func TestSubmitSignup_ValidationKeepsInput(t *testing.T) {
	env := newTestEnv(t)
	form := validSignup()
	form.Set("phone", "12-3456789")
	form.Set("age-2", "101")

	rr := env.do(postForm("/", form), false)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Please enter a valid Malaysia phone number")
	assert.Contains(t, body, "Age 2: Please enter a valid age (3-100)")
	assert.Contains(t, body, `value="Ahmad Ali"`)
	assert.Contains(t, body, `id="age-2" name="age-2" min="3" max="100" required value="101" class="flagged"`)
	assert.Empty(t, env.stored(t))
}

func TestSubmitSignup_HoneypotIsSilent(t *testing.T) {
	env := newTestEnv(t)
	form := validSignup()
	form.Set("website", "http://spam.example")

	rr := env.do(postForm("/", form), false)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "Thank you")
	assert.NotContains(t, rr.Body.String(), `class="flash`)
	assert.Empty(t, env.stored(t))
}

func TestAgeFields(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/age-fields?lesson-type=group&group-size=3", nil), false)

	body := rr.Body.String()
	assert.Contains(t, body, "Age of Student 3")
	assert.NotContains(t, body, "age-4")

	rr = env.do(httptest.NewRequest(http.MethodGet, "/age-fields?lesson-type=private&group-size=3", nil), false)
	assert.Contains(t, rr.Body.String(), ">Age of Student<")
	assert.NotContains(t, rr.Body.String(), "age-2")
}

func TestAdmin_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/admin", nil), false)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
}

func seedSamples(t *testing.T, env *testEnv) {
	t.Helper()
	seeded, err := env.entries.SeedIfEmpty(context.Background(), entry.SampleEntries(time.UTC))
	require.NoError(t, err)
	require.True(t, seeded)
}

func TestAdmin_FilterAndCounts(t *testing.T) {
	env := newTestEnv(t)
	seedSamples(t, env)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/admin?filter=waiting", nil), true)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Ahmad Ali")
	assert.Contains(t, body, "Siti Nurhaliza")
	assert.NotContains(t, body, "Lee Wei Ming")
	assert.Contains(t, body, `<strong id="count-total">3</strong>`)
	assert.Contains(t, body, "Waiting (2)")
	assert.Contains(t, body, "Group of 2")
	assert.Contains(t, body, "10 Jan 2025, 10:30 am")
	assert.Contains(t, body, `href="tel:012-3456789"`)
}

func TestAdmin_StatusCommands(t *testing.T) {
	env := newTestEnv(t)
	seedSamples(t, env)

	rr := env.do(postForm("/admin/entries/sample1/contacted", url.Values{"filter": {"waiting"}}), true)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/admin?filter=waiting", rr.Header().Get("Location"))

	e, ok := view.Find("sample1")
	require.True(t, ok)
	assert.Equal(t, entry.StatusContacted, e.Status)
	require.NotNil(t, e.ContactedAt)

	env.do(postForm("/admin/entries/sample1/waiting", nil), true)
	e, _ = view.Find("sample1")
	assert.Equal(t, entry.StatusWaiting, e.Status)
	assert.Nil(t, e.ContactedAt)

	rr = env.do(postForm("/admin/entries/nope/contacted", nil), true)
	flashCookie := findCookie(rr, flashCookieName)
	require.NotNil(t, flashCookie)
	assert.Equal(t, flash{Kind: flashError, Message: "Entry not found"}, decodeFlash(t, flashCookie))
}

func TestAdmin_RemoveNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	seedSamples(t, env)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/admin/entries/sample2/delete", nil), true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Siti Nurhaliza (Group of 2)")

	env.do(postForm("/admin/entries/sample2/delete", nil), true)
	assert.Len(t, env.stored(t), 3)

	rr = env.do(postForm("/admin/entries/sample2/delete", url.Values{"confirm": {"yes"}}), true)
	assert.Equal(t, flash{Kind: flashSuccess, Message: "Siti Nurhaliza removed from waitlist"}, decodeFlash(t, findCookie(rr, flashCookieName)))
	assert.Len(t, env.stored(t), 2)
}

func TestAdmin_Export(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/admin/export.csv", nil), true)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, flash{Kind: flashError, Message: "No data to export"}, decodeFlash(t, findCookie(rr, flashCookieName)))

	seedSamples(t, env)
	rr = env.do(httptest.NewRequest(http.MethodGet, "/admin/export.csv", nil), true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="waitlist_2026-05-04.csv"`, rr.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Date Added,Name,Phone,Lesson Type,Group Size,Ages,Location,Preferred Time,Contact Preference,Status", lines[0])
	assert.Contains(t, lines[1], `"Lee Wei Ming"`, "rows are sorted oldest first")
}

func TestAdmin_Perf(t *testing.T) {
	env := newTestEnv(t)
	perfCollector.Record(perf.Entry{Kind: perf.KindRequest, Path: "GET /", DurationMs: 2, Timestamp: testNow})

	rr := env.do(httptest.NewRequest(http.MethodGet, "/admin/perf", nil), true)
	require.Equal(t, http.StatusOK, rr.Code)
	var snap perf.Snapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.Requests)
}

func seedAdmin(t *testing.T, env *testEnv, email string, admin bool) {
	t.Helper()
	a := account.Account{ID: "acct-" + email, Email: email, CreatedAt: testNow}
	require.NoError(t, a.SetPassword("secret1"))
	if admin {
		a.GrantAdmin()
	}
	require.NoError(t, env.accounts.Save(context.Background(), a))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	seedAdmin(t, env, "coach@example.com", true)
	seedAdmin(t, env, "parent@example.com", false)

	tests := []struct {
		name     string
		email    string
		password string
		status   int
		message  string
	}{
		{"admin", "coach@example.com", "secret1", http.StatusSeeOther, ""},
		{"wrong password", "coach@example.com", "nope", http.StatusUnauthorized, "Login failed: invalid email or password"},
		{"no claim", "parent@example.com", "secret1", http.StatusUnauthorized, "Access denied: you do not have admin privileges"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(postForm("/login", url.Values{"email": {tt.email}, "password": {tt.password}}), false)
			assert.Equal(t, tt.status, rr.Code)
			if tt.message == "" {
				assert.Equal(t, "/admin", rr.Header().Get("Location"))
				require.NotNil(t, findCookie(rr, middleware.SessionCookieName))
				return
			}
			assert.Contains(t, rr.Body.String(), tt.message)
			assert.Nil(t, findCookie(rr, middleware.SessionCookieName))
		})
	}
}

func TestLogout_ClearsSession(t *testing.T) {
	env := newTestEnv(t)
	token, err := sessions.Create("acct-1", "coach@example.com")
	require.NoError(t, err)

	r := postForm("/logout", nil)
	r.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	rr := env.do(r, true)

	assert.Equal(t, "/login", rr.Header().Get("Location"))
	_, ok := sessions.Get(token)
	assert.False(t, ok)
}

func TestFlash_RoundTrip(t *testing.T) {
	rr := httptest.NewRecorder()
	setFlash(rr, flashSuccess, "Ahmad Ali marked as contacted")

	r := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.AddCookie(findCookie(rr, flashCookieName))
	f, ok := takeFlash(httptest.NewRecorder(), r)
	require.True(t, ok)
	assert.Equal(t, flash{Kind: flashSuccess, Message: "Ahmad Ali marked as contacted"}, f)
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeFlash(t *testing.T, c *http.Cookie) flash {
	t.Helper()
	require.NotNil(t, c)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(c)
	f, ok := takeFlash(httptest.NewRecorder(), r)
	require.True(t, ok)
	return f
}
