// Package format renders findings and rule listings as terminal or
// Markdown tables.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"deployguard/internal/models"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // fixed-width terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ColumnConfig controls per-column formatting.
type ColumnConfig struct {
	Number     int // 1-based column index
	AlignRight bool
	MaxWidth   int // wrap content beyond this width (0 = unlimited)
}

// Table is built once and rendered in the Mode chosen at creation.
type Table struct {
	writer table.Writer
	mode   Mode
}

// NewTable returns an empty table.
func NewTable(m Mode) *Table {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return &Table{writer: w, mode: m}
}

func (t *Table) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	t.writer.AppendHeader(row)
}

func (t *Table) Row(vals ...any) {
	row := make(table.Row, len(vals))
	copy(row, vals)
	t.writer.AppendRow(row)
}

func (t *Table) Footer(vals ...any) {
	row := make(table.Row, len(vals))
	copy(row, vals)
	t.writer.AppendFooter(row)
}

func (t *Table) Columns(cfgs ...ColumnConfig) {
	out := make([]table.ColumnConfig, len(cfgs))
	for i, c := range cfgs {
		align := text.AlignDefault
		if c.AlignRight {
			align = text.AlignRight
		}
		out[i] = table.ColumnConfig{Number: c.Number, Align: align, WidthMax: c.MaxWidth}
	}
	t.writer.SetColumnConfigs(out)
}

// Len is the number of data rows.
func (t *Table) Len() int {
	return t.writer.Length()
}

func (t *Table) String() string {
	if t.mode == Markdown {
		return t.writer.RenderMarkdown()
	}
	return t.writer.Render()
}

// Findings renders one row per finding in the given order.
func Findings(m Mode, fs []models.Finding) string {
	tb := NewTable(m)
	tb.Header("Severity", "Location", "Rule", "Title", "Recommendation")
	for _, f := range fs {
		tb.Row(f.Severity, f.Location(), f.RuleID, f.Title, Truncate(f.Recommendation, 80))
	}
	if m == ASCII {
		tb.Columns(ColumnConfig{Number: 4, MaxWidth: 40}, ColumnConfig{Number: 5, MaxWidth: 50})
	}
	return tb.String()
}

// SeverityCounts renders one row per artifact in order plus a totals footer.
func SeverityCounts(m Mode, rows map[string]models.RiskResult, order []string) string {
	tb := NewTable(m)
	tb.Header("Artifact", "Score", "Class", "Critical", "High", "Medium", "Low")
	var total models.RiskResult
	for _, id := range order {
		r := rows[id]
		tb.Row(id, r.Score, r.Classification, r.CriticalCount, r.HighCount, r.MediumCount, r.LowCount)
		total.CriticalCount += r.CriticalCount
		total.HighCount += r.HighCount
		total.MediumCount += r.MediumCount
		total.LowCount += r.LowCount
	}
	tb.Footer("Total", "", "", total.CriticalCount, total.HighCount, total.MediumCount, total.LowCount)
	tb.Columns(
		ColumnConfig{Number: 2, AlignRight: true},
		ColumnConfig{Number: 4, AlignRight: true},
		ColumnConfig{Number: 5, AlignRight: true},
		ColumnConfig{Number: 6, AlignRight: true},
		ColumnConfig{Number: 7, AlignRight: true},
	)
	return tb.String()
}

// Truncate shortens s to maxLen bytes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return strings.ToValidUTF8(s[:maxLen-3], "") + "..."
}

// Duration formats a duration as "Xm Ys", "Ys" or "Nms".
func Duration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	s := int(d.Seconds())
	if s >= 60 {
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
	return fmt.Sprintf("%ds", s)
}
