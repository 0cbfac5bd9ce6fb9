package catalog

import (
	"strings"
	"testing"

	"propline/internal/field"
)

func TestDefaultCatalogShape(t *testing.T) {
	c := Default()
	phases := c.Phases()
	if len(phases) != PhaseCount {
		t.Fatalf("expected %d phases, got %d", PhaseCount, len(phases))
	}
	for i, p := range phases {
		if p.Number != i+1 {
			t.Fatalf("phase %d out of order", p.Number)
		}
		if len(p.Tasks) == 0 {
			t.Fatalf("phase %d has no tasks", p.Number)
		}
	}
	if got := len(c.Templates()); got != c.TaskCount() {
		t.Fatalf("templates %d != task count %d", got, c.TaskCount())
	}
}

func TestPlatformCategoriesOnPhaseSeven(t *testing.T) {
	p, ok := Default().Phase(7)
	if !ok {
		t.Fatalf("phase 7 missing")
	}
	cats := p.Categories()
	if len(cats) != 3 || cats[0] != "Airbnb" {
		t.Fatalf("unexpected categories %v", cats)
	}
	headers := 0
	for _, task := range p.Tasks {
		if task.FieldType == field.SectionHeader {
			headers++
		}
	}
	if headers != len(cats) {
		t.Fatalf("expected one header per platform, got %d", headers)
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	var b strings.Builder
	b.WriteString("phases:\n")
	for i := 1; i <= PhaseCount; i++ {
		b.WriteString("  - number: ")
		b.WriteString(string(rune('0' + i)))
		b.WriteString("\n    title: P\n    tasks:\n      - {title: A, type: text}\n")
	}
	good := b.String()
	if _, err := Load([]byte(good)); err != nil {
		t.Fatalf("valid catalog rejected: %v", err)
	}
	if _, err := Load([]byte(strings.Replace(good, "type: text", "type: signature", 1))); err == nil {
		t.Fatalf("expected unknown field type error")
	}
	if _, err := Load([]byte("phases:\n  - number: 1\n    title: only\n")); err == nil {
		t.Fatalf("expected phase count error")
	}
	dup := strings.Replace(good, "      - {title: A, type: text}\n", "      - {title: A, type: text}\n      - {title: A, type: date}\n", 1)
	if _, err := Load([]byte(dup)); err == nil {
		t.Fatalf("expected duplicate title error")
	}
}
