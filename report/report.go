// Package report exports segmentation results as spreadsheets for
// review: one sheet per paper listing every stored question record.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/salmanmuddhoo/papertutor/store"
)

// QuestionSource is the slice of the store the exporter needs.
type QuestionSource interface {
	ListPapers(ctx context.Context) ([]store.Paper, error)
	QuestionsByDocument(ctx context.Context, docID string) ([]store.Question, error)
}

var header = []string{"Question", "Label", "Pages", "Start", "End", "Image", "Mode", "Text"}

// WriteWorkbook writes one sheet per paper to an xlsx file at path.
// Papers without questions get an empty sheet so gaps are visible.
func WriteWorkbook(ctx context.Context, src QuestionSource, path string) error {
	papers, err := src.ListPapers(ctx)
	if err != nil {
		return fmt.Errorf("listing papers: %w", err)
	}
	if len(papers) == 0 {
		return fmt.Errorf("no papers to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, p := range papers {
		sheet := sheetName(p, i)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return fmt.Errorf("naming sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return fmt.Errorf("creating sheet %s: %w", sheet, err)
			}
		}

		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}

		questions, err := src.QuestionsByDocument(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("listing questions for %s: %w", p.ID, err)
		}
		for row, q := range questions {
			cell, err := excelize.CoordinatesToCellName(1, row+2)
			if err != nil {
				return err
			}
			values := []interface{}{
				q.QuestionNumber,
				q.DisplayLabel,
				joinPages(q.Pages),
				q.StartPage,
				q.EndPage,
				q.ImageRef,
				q.DetectMode,
				q.QuestionText,
			}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return fmt.Errorf("writing row %d: %w", row+2, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

// sheetName builds a valid, unique sheet name. Excel caps names at 31
// characters and forbids a handful of punctuation characters.
func sheetName(p store.Paper, index int) string {
	name := p.Title
	if name == "" {
		name = p.ID
	}
	for _, c := range []string{":", "\\", "/", "?", "*", "[", "]"} {
		name = strings.ReplaceAll(name, c, " ")
	}
	suffix := fmt.Sprintf(" (%d)", index+1)
	if len(name)+len(suffix) > 31 {
		name = name[:31-len(suffix)]
	}
	return name + suffix
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ",")
}
