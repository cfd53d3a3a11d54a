// Package excel renders spreadsheets as markdown tables for agents.
package excel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

// Excel is the spreadsheet toolkit.
type Excel struct{}

// New creates an Excel toolkit.
func New() *Excel { return &Excel{} }

// Tools returns a ToolBox containing excel_extract.
func (e *Excel) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(e.extractTool())
	return tb
}

type extractInput struct {
	Path  string `json:"path"`
	Sheet string `json:"sheet"`
}

func (e *Excel) extractTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "excel_extract",
		Description: "Read a local .xlsx spreadsheet and return every sheet (or one named sheet) as a markdown table. The first row is used as the header.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Path to the spreadsheet"},"sheet":{"type":"string","description":"Only render this sheet"}},"required":["path"]}`),
		Handler:     e.handleExtract,
	}
}

func (e *Excel) handleExtract(_ context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[extractInput]("excel_extract", input)
	if err != nil {
		return "", err
	}

	if in.Path == "" {
		return "", fmt.Errorf("excel_extract: path is required")
	}

	f, err := excelize.OpenFile(in.Path)
	if err != nil {
		return "", fmt.Errorf("excel_extract: %w", err)
	}
	defer f.Close()

	out, err := Render(f, in.Sheet)
	if err != nil {
		return "", fmt.Errorf("excel_extract: %w", err)
	}

	return out, nil
}

// RenderReader renders a workbook read from r.
func RenderReader(r io.Reader) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return Render(f, "")
}

// Render returns each sheet of f as a "## name" heading followed by a
// markdown table. When only is set, other sheets are skipped.
func Render(f *excelize.File, only string) (string, error) {
	var b strings.Builder

	found := false
	for _, sheet := range f.GetSheetList() {
		if only != "" && sheet != only {
			continue
		}
		found = true

		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}

		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", sheet)
		b.WriteString(Table(rows))
	}

	if only != "" && !found {
		return "", fmt.Errorf("sheet %q not found", only)
	}

	return b.String(), nil
}

// Table formats rows as a markdown table. Short rows are padded.
func Table(rows [][]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	if width == 0 {
		return "(empty)\n"
	}

	var b strings.Builder
	writeRow := func(r []string) {
		b.WriteString("|")
		for i := range width {
			cell := ""
			if i < len(r) {
				cell = escape(r[i])
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}

	return b.String()
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", "<br>")
	return strings.ReplaceAll(s, "\n", "<br>")
}
