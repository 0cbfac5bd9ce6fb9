// Package export renders a project checklist as an XLSX workbook.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"propline/internal/domain"
	"propline/internal/engine"
	"propline/internal/field"
)

const (
	SummarySheet   = "Summary"
	ChecklistSheet = "Checklist"
)

var checklistHeaders = []string{
	"Phase", "Task", "Type", "Value", "Status", "Due date", "Due state", "Assignee", "Source", "Notes",
}

// Checklist writes a summary sheet and one row per task to w.
func Checklist(w io.Writer, p domain.Project, phases []engine.PhaseView) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ChecklistSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	summary := [][]any{
		{"Project", p.ID},
		{"Property", p.PropertyID},
		{"Address", p.PropertyAddress},
		{"Owner", ownerLabel(p)},
		{"Status", p.Status},
		{"Progress %", round1(p.Progress)},
		{},
		{"Phase", "Title", "Completed", "Completable", "Completion %"},
	}
	for _, ph := range phases {
		summary = append(summary, []any{ph.Number, ph.Title, ph.Completed, ph.Completable, round1(ph.CompletionPct)})
	}
	if err := writeRows(f, SummarySheet, 1, summary); err != nil {
		return err
	}
	headerRow := 8
	if err := f.SetRowStyle(SummarySheet, headerRow, headerRow, bold); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}
	if err := f.SetColWidth(SummarySheet, "A", "B", 28); err != nil {
		return fmt.Errorf("size summary: %w", err)
	}

	rows := [][]any{toAny(checklistHeaders)}
	for _, ph := range phases {
		for _, t := range ph.Tasks {
			if t.FieldType == field.SectionHeader {
				rows = append(rows, []any{ph.Number, t.Title})
				continue
			}
			assignee := t.Assignee.Name
			if assignee == "" {
				assignee = t.Assignee.UserID
			}
			rows = append(rows, []any{
				ph.Number, t.Title, t.FieldType, t.FieldValue, t.Status,
				deref(t.DueDate), string(t.DueState), assignee, t.Assignee.Source, t.Notes,
			})
		}
	}
	if err := writeRows(f, ChecklistSheet, 1, rows); err != nil {
		return err
	}
	if err := f.SetRowStyle(ChecklistSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style checklist: %w", err)
	}
	if err := f.SetColWidth(ChecklistSheet, "B", "B", 40); err != nil {
		return fmt.Errorf("size checklist: %w", err)
	}
	if err := f.SetColWidth(ChecklistSheet, "J", "J", 60); err != nil {
		return fmt.Errorf("size checklist: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, start int, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, start+i)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, start+i, err)
		}
	}
	return nil
}

func ownerLabel(p domain.Project) string {
	if p.OwnerName != "" {
		return fmt.Sprintf("%s (%s)", p.OwnerName, p.OwnerID)
	}
	return p.OwnerID
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
