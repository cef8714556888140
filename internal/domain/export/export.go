package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"waitlist/internal/domain/entry"
)

// ContentType is the MIME type of the exported document.
const ContentType = "text/csv;charset=utf-8"

// DateLayout renders the calendar date of an entry (en-MY short date, no time).
const DateLayout = "02/01/2006"

// Header is the fixed column set of the export.
var Header = []string{
	"Date Added",
	"Name",
	"Phone",
	"Lesson Type",
	"Group Size",
	"Ages",
	"Location",
	"Preferred Time",
	"Contact Preference",
	"Status",
}

// ErrNothingToExport is returned when the entry list is empty.
var ErrNothingToExport = errors.New("no data to export")

// Row converts one entry into its export cells.
// PRE: none; legacy entries are normalized here
// POST: returns len(Header) cells
func Row(e entry.Entry, loc *time.Location) []string {
	n := e.Normalized()
	if loc == nil {
		loc = time.UTC
	}
	return []string{
		n.Timestamp.In(loc).Format(DateLayout),
		n.Name,
		n.Phone,
		n.LessonLabel(),
		strconv.Itoa(n.GroupSize),
		n.AgesText(),
		n.Location,
		n.PreferredTime,
		n.ContactPreferenceLabel(),
		string(n.Status),
	}
}

// WriteCSV writes the header and one row per entry, in the given order.
// Every cell is wrapped in double quotes. Embedded quotes are written as-is,
// so free text containing '"' produces a malformed cell.
// PRE: entries is non-empty
// POST: the complete document is written to w
func WriteCSV(w io.Writer, entries []entry.Entry, loc *time.Location) error {
	if len(entries) == 0 {
		return ErrNothingToExport
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(Header, ","))
	sb.WriteString("\n")
	for _, e := range entries {
		cells := Row(e, loc)
		for i, c := range cells {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(`"`)
			sb.WriteString(c)
			sb.WriteString(`"`)
		}
		sb.WriteString("\n")
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// Filename is the download name for an export made at now: waitlist_YYYY-MM-DD.csv (UTC date).
func Filename(now time.Time) string {
	return "waitlist_" + now.UTC().Format("2006-01-02") + ".csv"
}
