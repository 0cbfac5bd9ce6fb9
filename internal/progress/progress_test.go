package progress

import (
	"fmt"
	"testing"

	"propline/internal/domain"
	"propline/internal/field"
)

func tasks(n, completed int, phase int) []domain.Task {
	var out []domain.Task
	for i := 0; i < n; i++ {
		status := domain.TaskPending
		if i < completed {
			status = domain.TaskCompleted
		}
		out = append(out, domain.Task{
			ID:          fmt.Sprintf("t-%d-%d", phase, i),
			PhaseNumber: phase,
			FieldType:   field.Text,
			Status:      status,
		})
	}
	return out
}

func TestProjectProgressQuarter(t *testing.T) {
	all := tasks(40, 10, 1)
	if got := ProjectProgress(all); got != 25.0 {
		t.Fatalf("expected 25, got %v", got)
	}
	if got := Count(all).Status(); got != domain.ProjectInProgress {
		t.Fatalf("expected in-progress, got %s", got)
	}
}

func TestEmptyPhaseIsZero(t *testing.T) {
	if got := PhaseCompletion(nil, 3); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	headers := []domain.Task{{PhaseNumber: 2, FieldType: field.SectionHeader}}
	if got := PhaseCompletion(headers, 2); got != 0 {
		t.Fatalf("header-only phase should be 0, got %v", got)
	}
}

func TestSectionHeadersAreNeutral(t *testing.T) {
	base := append(tasks(6, 2, 1), tasks(4, 4, 2)...)
	before := ProjectProgress(base)
	beforePhase := PhaseCompletion(base, 1)
	withHeaders := append([]domain.Task{
		{PhaseNumber: 1, FieldType: field.SectionHeader, Status: domain.TaskCompleted},
		{PhaseNumber: 2, FieldType: field.SectionHeader},
	}, base...)
	if got := ProjectProgress(withHeaders); got != before {
		t.Fatalf("project progress changed %v -> %v", before, got)
	}
	if got := PhaseCompletion(withHeaders, 1); got != beforePhase {
		t.Fatalf("phase completion changed %v -> %v", beforePhase, got)
	}
}

func TestCompletionMonotonicity(t *testing.T) {
	all := append(tasks(5, 1, 1), tasks(5, 0, 2)...)
	for i := range all {
		if all[i].Status == domain.TaskCompleted {
			continue
		}
		phaseBefore := PhaseCompletion(all, all[i].PhaseNumber)
		projectBefore := ProjectProgress(all)
		all[i].Status = domain.TaskCompleted
		if PhaseCompletion(all, all[i].PhaseNumber) <= phaseBefore || ProjectProgress(all) <= projectBefore {
			t.Fatalf("completing %s did not increase completion", all[i].ID)
		}
		all[i].Status = domain.TaskPending
		if PhaseCompletion(all, all[i].PhaseNumber) != phaseBefore || ProjectProgress(all) != projectBefore {
			t.Fatalf("reverting %s did not restore completion", all[i].ID)
		}
	}
}

func TestStatusInvariant(t *testing.T) {
	cases := []struct {
		progress float64
		want     string
	}{
		{0, domain.ProjectPending},
		{0.5, domain.ProjectInProgress},
		{99.99, domain.ProjectInProgress},
		{100, domain.ProjectCompleted},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.progress); got != tc.want {
			t.Fatalf("StatusFor(%v) = %s, want %s", tc.progress, got, tc.want)
		}
	}
	full := tasks(3, 3, 1)
	if ProjectProgress(full) != 100 || Count(full).Status() != domain.ProjectCompleted {
		t.Fatalf("fully completed project must be 100 and completed")
	}
}

func TestIsComplete(t *testing.T) {
	path := "x/y.pdf"
	audit := "[2026-03-10 15:30 UTC] Due date 2026-03-05 -> 2026-03-20 by Sam (+15 days): locksmith delayed"
	cases := []struct {
		name string
		task domain.Task
		want bool
	}{
		{"checked", domain.Task{FieldType: field.Checkbox, FieldValue: "true"}, true},
		{"unchecked", domain.Task{FieldType: field.Checkbox, FieldValue: "false"}, false},
		{"file attached", domain.Task{FieldType: field.File, FilePath: &path}, true},
		{"file name only", domain.Task{FieldType: field.File, FieldValue: "y.pdf"}, false},
		{"not applicable date", domain.Task{FieldType: field.Date, FieldValue: domain.NotApplicable, Notes: "no permit needed"}, true},
		{"header", domain.Task{FieldType: field.SectionHeader, FieldValue: "x", Notes: "x"}, false},
		// Notes alone complete a task even with no value or file.
		{"notes only", domain.Task{FieldType: field.Date, Notes: "waiting on county"}, true},
		{"audit line only", domain.Task{FieldType: field.Text, Notes: audit}, false},
		{"audit line and manual note", domain.Task{FieldType: field.Text, Notes: "call owner\n" + audit}, true},
		{"unchecked with audit line", domain.Task{FieldType: field.Checkbox, FieldValue: "false", Notes: audit}, false},
	}
	for _, tc := range cases {
		if got := IsComplete(tc.task); got != tc.want {
			t.Fatalf("%s: IsComplete = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAuditNotesAreNotEvidence(t *testing.T) {
	audit := "[2026-03-10 15:30 UTC] Due date unscheduled -> 2026-03-20 by Sam (+0 days): first date"
	if HasEvidence(domain.Task{FieldType: field.Text, Notes: audit + "\n" + audit}) {
		t.Fatalf("audit lines alone must not count as evidence")
	}
	if !HasEvidence(domain.Task{FieldType: field.Text, Notes: "[draft] owner prefers email\n" + audit}) {
		t.Fatalf("manual note should count as evidence")
	}
}
