package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"waitlist/internal/domain/entry"
)

// ErrRemovalNotConfirmed is returned when a removal was not confirmed by the admin.
var ErrRemovalNotConfirmed = errors.New("removal not confirmed")

// EntryCommandStore is the store capability admin commands need.
type EntryCommandStore interface {
	UpdateStatus(ctx context.Context, id string, status entry.Status) error
	Remove(ctx context.Context, id string) error
}

// EntryCommandInput names the entry an admin acted on.
// Name is only used for the confirmation text.
type EntryCommandInput struct {
	ID        string
	Name      string
	Confirmed bool // required by ExecuteRemoveEntry
	ActorID   string
}

// EntryCommandDeps holds dependencies for admin commands.
type EntryCommandDeps struct {
	EntryStore EntryCommandStore
}

// ExecuteMarkContacted moves an entry to contacted.
// PRE: input.ID is non-empty
// POST: status is contacted and contactedAt is set; returns the confirmation text
func ExecuteMarkContacted(ctx context.Context, input EntryCommandInput, deps EntryCommandDeps) (string, error) {
	return setStatus(ctx, input, deps, entry.StatusContacted)
}

// ExecuteMarkWaiting moves an entry back to waiting.
// PRE: input.ID is non-empty
// POST: status is waiting and contactedAt is cleared; returns the confirmation text
func ExecuteMarkWaiting(ctx context.Context, input EntryCommandInput, deps EntryCommandDeps) (string, error) {
	return setStatus(ctx, input, deps, entry.StatusWaiting)
}

func setStatus(ctx context.Context, input EntryCommandInput, deps EntryCommandDeps, status entry.Status) (string, error) {
	if input.ID == "" {
		return "", errors.New("entry id is required")
	}
	if err := deps.EntryStore.UpdateStatus(ctx, input.ID, status); err != nil {
		return "", err
	}
	slog.Info("admin_event", "event", "status_changed", "entry_id", input.ID, "status", status, "actor", input.ActorID)
	return fmt.Sprintf("%s marked as %s", input.Name, status), nil
}

// ExecuteRemoveEntry deletes an entry.
// PRE: input.ID is non-empty; input.Confirmed is true
// POST: the entry is gone; returns the confirmation text
func ExecuteRemoveEntry(ctx context.Context, input EntryCommandInput, deps EntryCommandDeps) (string, error) {
	if input.ID == "" {
		return "", errors.New("entry id is required")
	}
	if !input.Confirmed {
		return "", ErrRemovalNotConfirmed
	}
	if err := deps.EntryStore.Remove(ctx, input.ID); err != nil {
		return "", err
	}
	slog.Info("admin_event", "event", "entry_removed", "entry_id", input.ID, "actor", input.ActorID)
	return fmt.Sprintf("%s removed from waitlist", input.Name), nil
}
