package orchestrators

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	emailAdapter "waitlist/internal/adapters/email"
	"waitlist/internal/domain/entry"
)

// notifyRenderer escapes raw HTML, so family-supplied text cannot inject markup.
var notifyRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// NotifySignupDeps holds dependencies for NotifySignup.
type NotifySignupDeps struct {
	Sender   emailAdapter.Sender
	To       []string
	AdminURL string
	Location *time.Location
}

// ExecuteNotifySignup emails the coach about a new signup.
// PRE: e has been stored
// POST: one message handed to the sender; nothing is sent when no recipient is configured
func ExecuteNotifySignup(ctx context.Context, e entry.Entry, deps NotifySignupDeps) error {
	if deps.Sender == nil || len(deps.To) == 0 {
		return nil
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	text := SignupSummary(e, loc, deps.AdminURL)
	var html bytes.Buffer
	if err := notifyRenderer.Convert([]byte(text), &html); err != nil {
		return fmt.Errorf("render notification: %w", err)
	}

	_, err := deps.Sender.Send(ctx, emailAdapter.Message{
		To:      deps.To,
		Subject: fmt.Sprintf("New waitlist signup: %s", e.Name),
		HTML:    html.String(),
		Text:    text,
	})
	if err != nil {
		return err
	}
	slog.Info("notify_event", "event", "signup_notified", "entry_id", e.ID)
	return nil
}

// SignupSummary renders a signup as markdown.
func SignupSummary(e entry.Entry, loc *time.Location, adminURL string) string {
	n := e.Normalized()
	dash := func(s string) string {
		if s == "" {
			return "-"
		}
		return escapeMarkdown(s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** joined the waitlist.\n\n", escapeMarkdown(n.Name))
	fmt.Fprintf(&b, "- Phone: %s\n", escapeMarkdown(n.Phone))
	fmt.Fprintf(&b, "- Lesson: %s\n", n.GroupLabel())
	fmt.Fprintf(&b, "- Ages: %s\n", dash(n.AgesText()))
	fmt.Fprintf(&b, "- Location: %s\n", dash(n.Location))
	fmt.Fprintf(&b, "- Preferred time: %s\n", dash(n.PreferredTime))
	fmt.Fprintf(&b, "- Contact: %s\n", n.ContactPreferenceLabel())
	fmt.Fprintf(&b, "- Submitted: %s\n", n.Timestamp.In(loc).Format("02 Jan 2006, 03:04 pm"))
	if adminURL != "" {
		fmt.Fprintf(&b, "\n[Open the admin panel](%s)\n", adminURL)
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`, "`", "\\`", "<", "&lt;", ">", "&gt;",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
