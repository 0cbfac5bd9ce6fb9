// Package field implements per-field-type behavior of onboarding tasks: how a
// raw value is accepted, how it should be rendered, and whether it counts as
// completed.
package field

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field type tags as stored on tasks and templates.
const (
	Text          = "text"
	Textarea      = "textarea"
	Checkbox      = "checkbox"
	Date          = "date"
	File          = "file"
	Currency      = "currency"
	Phone         = "phone"
	Radio         = "radio"
	SectionHeader = "section_header"
)

// DateLayout is the storage layout of date values.
const DateLayout = "2006-01-02"

var (
	ErrUnknownType  = errors.New("unknown field type")
	ErrInvalidValue = errors.New("invalid field value")
	ErrNotEditable  = errors.New("field is not editable")
)

// Hint tells a renderer which input to draw.
type Hint struct {
	Input       string `json:"input" enum:"text,textarea,checkbox,date,file,number,tel,radio,none"`
	Placeholder string `json:"placeholder,omitempty"`
	Completable bool   `json:"completable"`
	UsesFile    bool   `json:"uses_file"`
}

// Kind is the behavior of one field type. The set is closed.
type Kind interface {
	Type() string
	// Parse validates and normalizes a raw input. An empty input clears the value.
	Parse(raw string) (string, error)
	IsComplete(value string, filePath *string) bool
	Hint() Hint
	sealed()
}

var kinds = map[string]Kind{
	Text:          textKind{typ: Text, input: "text"},
	Textarea:      textKind{typ: Textarea, input: "textarea"},
	Radio:         textKind{typ: Radio, input: "radio"},
	Checkbox:      checkboxKind{},
	Date:          dateKind{},
	File:          fileKind{},
	Currency:      currencyKind{},
	Phone:         phoneKind{},
	SectionHeader: sectionKind{},
}

// Lookup returns the Kind for a field type tag.
func Lookup(fieldType string) (Kind, error) {
	k, ok := kinds[fieldType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, fieldType)
	}
	return k, nil
}

// Valid reports whether fieldType is a known tag.
func Valid(fieldType string) bool {
	_, ok := kinds[fieldType]
	return ok
}

// Completable reports whether tasks of this type count toward completion.
func Completable(fieldType string) bool {
	k, ok := kinds[fieldType]
	return ok && k.Hint().Completable
}

// Types returns every known tag in a stable order.
func Types() []string {
	return []string{Text, Textarea, Checkbox, Date, File, Currency, Phone, Radio, SectionHeader}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}

type textKind struct {
	typ   string
	input string
}

func (k textKind) Type() string { return k.typ }

// Parse trims surrounding blank space; textarea line breaks are kept.
func (k textKind) Parse(raw string) (string, error) {
	return strings.TrimSpace(raw), nil
}

func (k textKind) IsComplete(value string, _ *string) bool {
	return strings.TrimSpace(value) != ""
}

func (k textKind) Hint() Hint { return Hint{Input: k.input, Completable: true} }
func (textKind) sealed()      {}

type checkboxKind struct{}

func (checkboxKind) Type() string { return Checkbox }

func (checkboxKind) Parse(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case "true":
		return "true", nil
	case "false":
		return "false", nil
	default:
		return "", invalid("checkbox expects true or false, got %q", raw)
	}
}

func (checkboxKind) IsComplete(value string, _ *string) bool { return value == "true" }
func (checkboxKind) Hint() Hint                              { return Hint{Input: "checkbox", Completable: true} }
func (checkboxKind) sealed()                                 {}

type dateKind struct{}

func (dateKind) Type() string { return Date }

func (dateKind) Parse(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return "", invalid("date expects YYYY-MM-DD, got %q", raw)
	}
	return d.Format(DateLayout), nil
}

func (dateKind) IsComplete(value string, _ *string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}
	_, err := ParseDate(value)
	return err == nil
}

func (dateKind) Hint() Hint { return Hint{Input: "date", Placeholder: "YYYY-MM-DD", Completable: true} }
func (dateKind) sealed()    {}

// ParseDate accepts a calendar date or an RFC3339 timestamp.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.Parse(DateLayout, raw); err == nil {
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

type fileKind struct{}

func (fileKind) Type() string { return File }

// Parse accepts the display filename; the attachment itself lives in storage.
func (fileKind) Parse(raw string) (string, error) { return strings.TrimSpace(raw), nil }

func (fileKind) IsComplete(_ string, filePath *string) bool {
	return filePath != nil && strings.TrimSpace(*filePath) != ""
}

func (fileKind) Hint() Hint { return Hint{Input: "file", Completable: true, UsesFile: true} }
func (fileKind) sealed()    {}

type currencyKind struct{}

func (currencyKind) Type() string { return Currency }

func (currencyKind) Parse(raw string) (string, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return "", nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", invalid("currency expects a decimal amount, got %q", raw)
	}
	return cleaned, nil
}

func (currencyKind) IsComplete(value string, _ *string) bool { return strings.TrimSpace(value) != "" }
func (currencyKind) Hint() Hint {
	return Hint{Input: "number", Placeholder: "0.00", Completable: true}
}
func (currencyKind) sealed() {}

type phoneKind struct{}

func (phoneKind) Type() string { return Phone }

func (phoneKind) Parse(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	digits := 0
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", invalid("phone contains %q", r)
		}
	}
	if digits < 7 || digits > 15 {
		return "", invalid("phone expects 7 to 15 digits, got %d", digits)
	}
	return raw, nil
}

func (phoneKind) IsComplete(value string, _ *string) bool { return strings.TrimSpace(value) != "" }
func (phoneKind) Hint() Hint                              { return Hint{Input: "tel", Completable: true} }
func (phoneKind) sealed()                                 {}

type sectionKind struct{}

func (sectionKind) Type() string { return SectionHeader }

func (sectionKind) Parse(string) (string, error) { return "", ErrNotEditable }

func (sectionKind) IsComplete(string, *string) bool { return false }
func (sectionKind) Hint() Hint                      { return Hint{Input: "none"} }
func (sectionKind) sealed()                         {}
