// Package analyzer rebuilds labeled fields and tables from recognition blocks.
package analyzer

import (
	"sort"
	"strings"

	"scan-comply/pkg/services/ocr"
)

// Table is a row-major grid of cell texts; row 0 is the header.
type Table [][]string

// Analysis is the structured view of one recognized document.
type Analysis struct {
	// Fields maps a lower-cased, trimmed label to its value text.
	Fields map[string]string
	Tables []Table
	// Lines holds LINE texts in reading order.
	Lines []string
	// Confidence is the engine's mean confidence in [0,1], nil when the
	// engine reports none.
	Confidence *float64
}

// Analyze never fails: blocks with missing or dangling relationships are
// skipped and the remaining structure is returned.
func Analyze(doc *ocr.Document) Analysis {
	out := Analysis{Fields: map[string]string{}}
	if doc == nil {
		return out
	}

	byID := make(map[string]ocr.Block, len(doc.Blocks))
	for _, b := range doc.Blocks {
		if b.ID != "" {
			byID[b.ID] = b
		}
	}

	var confSum float64
	var confN int
	for _, b := range doc.Blocks {
		switch b.BlockType {
		case ocr.BlockKeyValue:
			if !b.HasEntityType(ocr.EntityKey) {
				continue
			}
			key := NormalizeLabel(childText(b, byID))
			if key == "" {
				continue
			}
			value := strings.TrimSpace(valueText(b, byID))
			if existing, ok := out.Fields[key]; ok && existing != "" {
				continue
			}
			out.Fields[key] = value
		case ocr.BlockTable:
			if t := buildTable(b, byID); len(t) >= 2 {
				out.Tables = append(out.Tables, t)
			}
		case ocr.BlockLine:
			if text := strings.TrimSpace(b.Text); text != "" {
				out.Lines = append(out.Lines, text)
			}
		}
		if (b.BlockType == ocr.BlockWord || b.BlockType == ocr.BlockLine) && b.Confidence > 0 {
			confSum += b.Confidence
			confN++
		}
	}

	if confN > 0 {
		c := confSum / float64(confN) / 100
		out.Confidence = &c
	}
	return out
}

// NormalizeLabel lower-cases a label and trims whitespace and a trailing colon.
func NormalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ":")
	return strings.TrimSpace(s)
}

// childText concatenates the words and selected marks under b.
func childText(b ocr.Block, byID map[string]ocr.Block) string {
	var sb strings.Builder
	for _, id := range b.Related(ocr.RelationChild) {
		child, ok := byID[id]
		if !ok {
			continue
		}
		switch child.BlockType {
		case ocr.BlockWord:
			sb.WriteString(child.Text)
			sb.WriteString(" ")
		case ocr.BlockSelection:
			if child.SelectionStatus == ocr.SelectionSelected {
				sb.WriteString("X ")
			}
		}
	}
	return sb.String()
}

func valueText(key ocr.Block, byID map[string]ocr.Block) string {
	var sb strings.Builder
	for _, id := range key.Related(ocr.RelationValue) {
		if v, ok := byID[id]; ok {
			sb.WriteString(childText(v, byID))
		}
	}
	return sb.String()
}

// MaxTableColumns bounds the column index a cell may claim. Cells beyond it
// are dropped rather than widening every row.
const MaxTableColumns = 256

func buildTable(table ocr.Block, byID map[string]ocr.Block) Table {
	cells := map[int]map[int]string{}
	maxCol := 0
	for _, id := range table.Related(ocr.RelationChild) {
		cell, ok := byID[id]
		if !ok || cell.BlockType != ocr.BlockCell || cell.RowIndex < 1 || cell.ColumnIndex < 1 || cell.ColumnIndex > MaxTableColumns {
			continue
		}
		if cells[cell.RowIndex] == nil {
			cells[cell.RowIndex] = map[int]string{}
		}
		cells[cell.RowIndex][cell.ColumnIndex] = childText(cell, byID)
		if cell.ColumnIndex > maxCol {
			maxCol = cell.ColumnIndex
		}
	}

	rows := make([]int, 0, len(cells))
	for r := range cells {
		rows = append(rows, r)
	}
	sort.Ints(rows)

	t := make(Table, 0, len(rows))
	for _, r := range rows {
		row := make([]string, maxCol)
		for c, text := range cells[r] {
			row[c-1] = text
		}
		t = append(t, row)
	}
	return t
}
