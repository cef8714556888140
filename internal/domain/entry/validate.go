package entry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Age bounds accepted by the signup form.
const (
	MinAge = 3
	MaxAge = 100
)

// Field identifiers used in FieldError.Field.
const (
	FieldName  = "name"
	FieldPhone = "phone"
	FieldAges  = "ages"
)

// phonePattern matches Malaysian mobile numbers: 01X, optional dash, 7-8 digits.
var phonePattern = regexp.MustCompile(`^01[0-9]-?\d{7,8}$`)

var whitespace = regexp.MustCompile(`\s+`)

// Candidate is the unvalidated input of a signup.
// AgeInputs holds the raw value of every rendered age slot, in slot order.
type Candidate struct {
	Name      string
	Phone     string
	AgeInputs []string
}

// FieldError is one failed rule, tied to the input it came from.
type FieldError struct {
	Field   string
	Message string
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// Fields returns the set of field ids that failed, for flagging inputs.
func (r Result) Fields() map[string]bool {
	out := make(map[string]bool, len(r.Errors))
	for _, fe := range r.Errors {
		out[fe.Field] = true
	}
	return out
}

// Messages returns every error message in rule order.
func (r Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, fe := range r.Errors {
		out[i] = fe.Message
	}
	return out
}

// Validate checks a candidate against every rule and reports all failures together.
// PRE: none
// POST: Valid is true iff Errors is empty
// INVARIANT: pure; the candidate is not modified
func Validate(c Candidate) Result {
	var errs []FieldError

	if utf8.RuneCountInString(strings.TrimSpace(c.Name)) < 2 {
		errs = append(errs, FieldError{Field: FieldName, Message: "Please enter a valid name (at least 2 characters)"})
	}

	if !ValidPhone(c.Phone) {
		errs = append(errs, FieldError{Field: FieldPhone, Message: "Please enter a valid Malaysia phone number (e.g., 012-3456789 or 0123456789)"})
	}

	if len(ParseAges(c.AgeInputs)) == 0 {
		errs = append(errs, FieldError{Field: FieldAges, Message: "Please enter at least one age"})
	} else {
		slots := AgeSlots(len(c.AgeInputs))
		for i, raw := range c.AgeInputs {
			if _, ok := parseAge(raw); !ok {
				errs = append(errs, FieldError{
					Field:   slots[i],
					Message: fmt.Sprintf("Age %d: Please enter a valid age (%d-%d)", i+1, MinAge, MaxAge),
				})
			}
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// NormalizePhone removes all whitespace from a phone number.
func NormalizePhone(phone string) string {
	return whitespace.ReplaceAllString(phone, "")
}

// ValidPhone reports whether phone, with whitespace removed, is a Malaysian mobile number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(NormalizePhone(phone))
}

// AgeSlots returns the input identifiers bound to each expected age, age-1..age-n.
func AgeSlots(count int) []string {
	if count < 0 {
		count = 0
	}
	slots := make([]string, count)
	for i := range slots {
		slots[i] = fmt.Sprintf("age-%d", i+1)
	}
	return slots
}

// ParseAges collects the non-empty age inputs that parse as integers, in slot order.
// Range is not checked here; Validate does that.
func ParseAges(inputs []string) []int {
	var ages []int
	for _, raw := range inputs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if n, err := strconv.Atoi(raw); err == nil {
			ages = append(ages, n)
		}
	}
	return ages
}

func parseAge(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < MinAge || n > MaxAge {
		return 0, false
	}
	return n, true
}
