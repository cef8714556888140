package orchestrators

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	emailAdapter "waitlist/internal/adapters/email"
	"waitlist/internal/domain/entry"
)

// recordingSender implements emailAdapter.Sender for testing.
type recordingSender struct {
	sent []emailAdapter.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg emailAdapter.Message) (emailAdapter.Receipt, error) {
	if r.err != nil {
		return emailAdapter.Receipt{}, r.err
	}
	r.sent = append(r.sent, msg)
	return emailAdapter.Receipt{MessageID: "m1"}, nil
}

func notifyEntry() entry.Entry {
	return entry.Entry{
		ID: "e1", Name: "Siti_<b>", Phone: "0139876543",
		LessonType: entry.LessonGroup, GroupSize: 2, Ages: []int{6, 8},
		ContactPreference: entry.ContactPreferredOnly, Status: entry.StatusWaiting,
		Timestamp: time.Date(2025, 1, 11, 14, 20, 0, 0, time.UTC),
	}
}

// TestExecuteNotifySignup tests the message content and HTML rendering.
func TestExecuteNotifySignup(t *testing.T) {
	sender := &recordingSender{}
	err := ExecuteNotifySignup(context.Background(), notifyEntry(), NotifySignupDeps{
		Sender:   sender,
		To:       []string{"coach@example.com"},
		AdminURL: "https://waitlist.example/admin",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Subject != "New waitlist signup: Siti_<b>" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{"Group of 2", "6, 8", "Preferred only", "11 Jan 2025, 02:20 pm", `href="https://waitlist.example/admin"`} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("HTML missing %q:\n%s", want, msg.HTML)
		}
	}
	if strings.Contains(msg.HTML, "<b>") {
		t.Errorf("family-supplied markup must be escaped:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.Text, "- Location: -") {
		t.Errorf("empty location should render as dash:\n%s", msg.Text)
	}
}

// TestExecuteNotifySignup_NoRecipients tests nothing is sent without a configured recipient.
func TestExecuteNotifySignup_NoRecipients(t *testing.T) {
	sender := &recordingSender{}
	if err := ExecuteNotifySignup(context.Background(), notifyEntry(), NotifySignupDeps{Sender: sender}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("message sent without recipients")
	}
}

// TestExecuteNotifySignup_SenderError tests provider failures are returned.
func TestExecuteNotifySignup_SenderError(t *testing.T) {
	sender := &recordingSender{err: errors.New("rate limited")}
	err := ExecuteNotifySignup(context.Background(), notifyEntry(), NotifySignupDeps{Sender: sender, To: []string{"c@example.com"}})
	if err == nil {
		t.Fatal("expected error")
	}
}
