package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"waitlist/internal/adapters/http/middleware"
	entryStore "waitlist/internal/adapters/storage/entry"
	"waitlist/internal/application/orchestrators"
	"waitlist/internal/application/projections"
	"waitlist/internal/domain/entry"
	"waitlist/internal/domain/export"
)

// eventKeepAlive is how often an idle event stream sends a comment line.
const eventKeepAlive = 25 * time.Second

// handleAdmin handles GET /admin?filter=all|waiting|contacted
func handleAdmin(w http.ResponseWriter, r *http.Request) {
	filter := projections.ParseFilter(r.URL.Query().Get("filter"))
	if !view.Live() {
		// Local mode has no push; a page load is the refetch point.
		_ = view.Refresh(r.Context())
	}
	page := view.Query(filter)

	data := map[string]any{
		"Page":    page,
		"Filters": []projections.Filter{projections.FilterAll, projections.FilterWaiting, projections.FilterContacted},
		"Live":    view.Live(),
		"Mode":    settings.StoreMode,
	}
	if page.Err != nil {
		data["SyncError"] = "Could not refresh the waitlist. Showing the last loaded entries."
	}
	renderTemplate(w, r, http.StatusOK, "admin.html", data)
}

func handleMarkContacted(w http.ResponseWriter, r *http.Request) {
	runStatusCommand(w, r, orchestrators.ExecuteMarkContacted)
}

func handleMarkWaiting(w http.ResponseWriter, r *http.Request) {
	runStatusCommand(w, r, orchestrators.ExecuteMarkWaiting)
}

type entryCommand func(ctx context.Context, input orchestrators.EntryCommandInput, deps orchestrators.EntryCommandDeps) (string, error)

func runStatusCommand(w http.ResponseWriter, r *http.Request, cmd entryCommand) {
	message, err := cmd(r.Context(), commandInput(r), orchestrators.EntryCommandDeps{EntryStore: stores.EntryStore})
	finishCommand(w, r, message, err)
}

// handleConfirmRemove handles GET /admin/entries/{id}/delete
func handleConfirmRemove(w http.ResponseWriter, r *http.Request) {
	e, ok := view.Find(r.PathValue("id"))
	if !ok {
		setFlash(w, flashError, "Entry not found")
		http.Redirect(w, r, adminReturnURL(r), http.StatusSeeOther)
		return
	}
	renderTemplate(w, r, http.StatusOK, "confirm_delete.html", map[string]any{
		"Entry":  e,
		"Label":  entryLabel(e),
		"Filter": projections.ParseFilter(r.URL.Query().Get("filter")),
	})
}

// handleRemove handles POST /admin/entries/{id}/delete
func handleRemove(w http.ResponseWriter, r *http.Request) {
	input := commandInput(r)
	input.Confirmed = r.FormValue("confirm") == "yes"
	message, err := orchestrators.ExecuteRemoveEntry(r.Context(), input, orchestrators.EntryCommandDeps{EntryStore: stores.EntryStore})
	finishCommand(w, r, message, err)
}

// commandInput resolves the path id against the cache for the entry name.
func commandInput(r *http.Request) orchestrators.EntryCommandInput {
	id := r.PathValue("id")
	input := orchestrators.EntryCommandInput{ID: id, Name: "Entry"}
	if sess, ok := middleware.GetSessionFromContext(r.Context()); ok {
		input.ActorID = sess.AccountID
	}
	if e, found := view.Find(id); found {
		input.Name = e.Name
	}
	return input
}

func finishCommand(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, orchestrators.ErrRemovalNotConfirmed):
		setFlash(w, flashInfo, "Nothing was removed")
	case errors.Is(err, entryStore.ErrNotFound):
		setFlash(w, flashError, "Entry not found")
	case err != nil:
		slog.Error("admin_event", "event", "command_failed", "path", r.URL.Path, "error", err)
		setFlash(w, flashError, "Error: could not update the waitlist. Please try again.")
	default:
		setFlash(w, flashSuccess, message)
	}
	if err := view.AfterCommand(r.Context()); err != nil {
		slog.Warn("admin_event", "event", "refresh_failed", "error", err)
	}
	http.Redirect(w, r, adminReturnURL(r), http.StatusSeeOther)
}

func adminReturnURL(r *http.Request) string {
	filter := projections.ParseFilter(r.FormValue("filter"))
	if filter == projections.FilterAll {
		return "/admin"
	}
	return "/admin?filter=" + string(filter)
}

// handleExport handles GET /admin/export.csv
func handleExport(w http.ResponseWriter, r *http.Request) {
	if !view.Live() {
		_ = view.Refresh(r.Context())
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, view.Entries(), settings.Location); err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			setFlash(w, flashError, "No data to export")
			http.Redirect(w, r, "/admin", http.StatusSeeOther)
			return
		}
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(timeNow())))
	w.Write(buf.Bytes())
	slog.Info("admin_event", "event", "exported", "bytes", buf.Len())
}

// handleEvents handles GET /admin/events.
// Streams a "snapshot" event whenever the admin view changes, so an open page can reload.
func handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Warn("events_unsupported", "error", err)
		return
	}

	changes := view.Watch(r.Context())
	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case _, open := <-changes:
			if !open {
				return
			}
			counts := view.Query(projections.FilterAll).Counts
			payload, _ := json.Marshal(map[string]any{
				"waiting":   counts.Waiting,
				"contacted": counts.Contacted,
				"total":     counts.Total,
				"error":     view.LastError() != nil,
			})
			fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// handlePerf handles GET /admin/perf?window=15m
func handlePerf(w http.ResponseWriter, r *http.Request) {
	window := 15 * time.Minute
	if raw := r.URL.Query().Get("window"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			window = d
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if perfCollector == nil {
		json.NewEncoder(w).Encode(map[string]any{})
		return
	}
	json.NewEncoder(w).Encode(perfCollector.Snapshot(timeNow().Add(-window), 10))
}

// entryLabel is shown in confirmation texts.
func entryLabel(e entry.Entry) string {
	return e.Name + " (" + e.GroupLabel() + ")"
}
