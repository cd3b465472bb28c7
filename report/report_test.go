package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/salmanmuddhoo/papertutor/store"
)

type fakeSource struct {
	papers    []store.Paper
	questions map[string][]store.Question
}

func (f *fakeSource) ListPapers(_ context.Context) ([]store.Paper, error) {
	return f.papers, nil
}

func (f *fakeSource) QuestionsByDocument(_ context.Context, docID string) ([]store.Question, error) {
	return f.questions[docID], nil
}

func TestWriteWorkbook(t *testing.T) {
	src := &fakeSource{
		papers: []store.Paper{
			{ID: "doc-1", Title: "Maths 2024"},
			{ID: "ms-1", Title: "Maths 2024 MS", Kind: store.KindMarkingScheme},
		},
		questions: map[string][]store.Question{
			"doc-1": {
				{QuestionNumber: "1", DisplayLabel: "1", Pages: []int{1, 2}, StartPage: 1, EndPage: 2,
					ImageRef: "questions/doc-1/q-1.png", DetectMode: "pattern", QuestionText: "Calculate x."},
				{QuestionNumber: "2", DisplayLabel: "2", Pages: []int{3}, StartPage: 3, EndPage: 3,
					QuestionText: "Solve for y."},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := WriteWorkbook(context.Background(), src, path); err != nil {
		t.Fatalf("WriteWorkbook: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("reopening workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 {
		t.Fatalf("got %d sheets, want 2: %v", len(sheets), sheets)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	// header + two question rows
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0][0] != "Question" {
		t.Errorf("header[0] = %q, want Question", rows[0][0])
	}
	if rows[1][0] != "1" || rows[1][2] != "1,2" {
		t.Errorf("row 1 = %v, want question 1 on pages 1,2", rows[1])
	}
	if rows[2][0] != "2" {
		t.Errorf("row 2 = %v, want question 2", rows[2])
	}

	// marking scheme sheet exists but is header-only
	msRows, err := f.GetRows(sheets[1])
	if err != nil {
		t.Fatalf("GetRows scheme: %v", err)
	}
	if len(msRows) != 1 {
		t.Errorf("scheme sheet has %d rows, want header only", len(msRows))
	}
}

func TestWriteWorkbookNoPapers(t *testing.T) {
	src := &fakeSource{}
	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := WriteWorkbook(context.Background(), src, path); err == nil {
		t.Error("expected error with no papers")
	}
}

func TestSheetNameSanitized(t *testing.T) {
	p := store.Paper{Title: "Maths: Paper [2] / 2024 with a very long title indeed"}
	name := sheetName(p, 0)
	if len(name) > 31 {
		t.Errorf("sheet name %q exceeds 31 chars", name)
	}
	for _, c := range []string{":", "/", "[", "]"} {
		if strings.Contains(name, c) {
			t.Errorf("sheet name %q contains forbidden %q", name, c)
		}
	}
}
