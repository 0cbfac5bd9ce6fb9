package field

import (
	"errors"
	"testing"
)

func TestParseNormalizesValues(t *testing.T) {
	cases := []struct {
		typ  string
		raw  string
		want string
	}{
		{Text, "  hello ", "hello"},
		{Textarea, "line one\nline two\n", "line one\nline two"},
		{Checkbox, "TRUE", "true"},
		{Checkbox, "false", "false"},
		{Checkbox, "", ""},
		{Date, "2026-03-04", "2026-03-04"},
		{Date, "2026-03-04T10:00:00Z", "2026-03-04"},
		{Currency, "$1,250.50", "1250.50"},
		{Phone, "+1 (555) 010-2233", "+1 (555) 010-2233"},
		{Radio, " monthly ", "monthly"},
		{File, " lease.pdf ", "lease.pdf"},
	}
	for _, tc := range cases {
		k, err := Lookup(tc.typ)
		if err != nil {
			t.Fatalf("lookup %s: %v", tc.typ, err)
		}
		got, err := k.Parse(tc.raw)
		if err != nil {
			t.Fatalf("%s parse %q: %v", tc.typ, tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s parse %q = %q, want %q", tc.typ, tc.raw, got, tc.want)
		}
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		typ string
		raw string
	}{
		{Checkbox, "maybe"},
		{Date, "03/04/2026"},
		{Currency, "twelve"},
		{Currency, "NaN"},
		{Phone, "call me"},
		{Phone, "123"},
	}
	for _, tc := range cases {
		k, _ := Lookup(tc.typ)
		if _, err := k.Parse(tc.raw); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("%s parse %q: expected ErrInvalidValue, got %v", tc.typ, tc.raw, err)
		}
	}
}

func TestSectionHeaderIsNeverEditableOrComplete(t *testing.T) {
	k, _ := Lookup(SectionHeader)
	if _, err := k.Parse("anything"); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
	if k.IsComplete("anything", nil) {
		t.Fatalf("section header must never be complete")
	}
	if Completable(SectionHeader) {
		t.Fatalf("section header must not be completable")
	}
}

func TestIsComplete(t *testing.T) {
	path := "tasks/abc/lease.pdf"
	empty := ""
	cases := []struct {
		typ      string
		value    string
		filePath *string
		want     bool
	}{
		{Checkbox, "true", nil, true},
		{Checkbox, "false", nil, false},
		{Date, "2026-01-02", nil, true},
		{Date, "soon", nil, false},
		{Currency, "0", nil, true},
		{Text, "   ", nil, false},
		{Phone, "5550102233", nil, true},
		{File, "lease.pdf", nil, false},
		{File, "", &path, true},
		{File, "lease.pdf", &empty, false},
	}
	for _, tc := range cases {
		k, _ := Lookup(tc.typ)
		if got := k.IsComplete(tc.value, tc.filePath); got != tc.want {
			t.Fatalf("%s IsComplete(%q) = %v, want %v", tc.typ, tc.value, got, tc.want)
		}
	}
}

func TestLookupUnknownType(t *testing.T) {
	if _, err := Lookup("signature"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	for _, typ := range Types() {
		if !Valid(typ) {
			t.Fatalf("%s should be valid", typ)
		}
	}
}
