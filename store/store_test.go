package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1"},
		{" 1 ", "1"},
		{"Question 1", "1"},
		{"Q1", "1"},
		{"q.1", "1"},
		{"Question 2(a)", "2a"},
		{"Q2a", "2a"},
		{" 2.A ", "2a"},
		{"10", "10"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeLabel(tt.in); got != tt.want {
			t.Errorf("NormalizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUpsertQuestionFullReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "doc-1", Title: "Paper 1"}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}

	id1, err := s.UpsertQuestion(ctx, Question{
		DocumentID:     "doc-1",
		QuestionNumber: "Question 1",
		QuestionText:   "old text",
		ImageRef:       "questions/doc-1/q-1.png",
		StartPage:      1,
		EndPage:        2,
		Pages:          []int{1, 2},
		DetectMode:     "pattern",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Reprocessing the same question replaces every field.
	id2, err := s.UpsertQuestion(ctx, Question{
		DocumentID:     "doc-1",
		QuestionNumber: "q1",
		QuestionText:   "new text",
		ImageRef:       "questions/doc-1/q-1-v2.png",
		StartPage:      1,
		EndPage:        3,
		Pages:          []int{1, 2, 3},
		DetectMode:     "merged",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert created a new row: id1=%d id2=%d", id1, id2)
	}

	got, err := s.LookupQuestion(ctx, "doc-1", "1")
	if err != nil {
		t.Fatalf("LookupQuestion: %v", err)
	}
	if got.QuestionText != "new text" {
		t.Errorf("QuestionText = %q, want %q", got.QuestionText, "new text")
	}
	if got.ImageRef != "questions/doc-1/q-1-v2.png" {
		t.Errorf("ImageRef = %q (stale value survived)", got.ImageRef)
	}
	if got.EndPage != 3 || len(got.Pages) != 3 {
		t.Errorf("span not replaced: end=%d pages=%v", got.EndPage, got.Pages)
	}
	if got.DetectMode != "merged" {
		t.Errorf("DetectMode = %q, want merged", got.DetectMode)
	}

	qs, err := s.QuestionsByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("QuestionsByDocument: %v", err)
	}
	if len(qs) != 1 {
		t.Errorf("got %d rows, want 1", len(qs))
	}
}

func TestLookupQuestionNormalizesLabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "doc-1", Title: "Paper 1"}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	if _, err := s.UpsertQuestion(ctx, Question{
		DocumentID: "doc-1", QuestionNumber: "1", QuestionText: "Calculate x.",
		StartPage: 1, EndPage: 1,
	}); err != nil {
		t.Fatalf("UpsertQuestion: %v", err)
	}

	for _, label := range []string{"1", "Question 1", "Q1", "q.1", " 1 "} {
		q, err := s.LookupQuestion(ctx, "doc-1", label)
		if err != nil {
			t.Errorf("LookupQuestion(%q): %v", label, err)
			continue
		}
		if q.QuestionNumber != "1" {
			t.Errorf("LookupQuestion(%q).QuestionNumber = %q, want 1", label, q.QuestionNumber)
		}
	}
}

func TestLookupQuestionNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "doc-1", Title: "Paper 1"}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	if _, err := s.LookupQuestion(ctx, "doc-1", "99"); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("got %v, want ErrQuestionNotFound", err)
	}
}

func TestUpsertQuestionRejectsEmptyLabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "doc-1", Title: "Paper 1"}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	if _, err := s.UpsertQuestion(ctx, Question{
		DocumentID: "doc-1", QuestionNumber: "???", StartPage: 1, EndPage: 1,
	}); err == nil {
		t.Error("expected error for label that normalizes to empty")
	}
}

func TestPaperLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "exam-1", Title: "Maths 2024", Kind: KindExam}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}

	p, err := s.GetPaper(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if p.Status != StatusProcessing {
		t.Errorf("Status = %q, want %q", p.Status, StatusProcessing)
	}

	if err := s.SetPaperPageCount(ctx, "exam-1", 12); err != nil {
		t.Fatalf("SetPaperPageCount: %v", err)
	}
	if err := s.SetPaperStatus(ctx, "exam-1", StatusReady); err != nil {
		t.Fatalf("SetPaperStatus: %v", err)
	}

	p, err = s.GetPaper(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if p.PageCount != 12 || p.Status != StatusReady {
		t.Errorf("got pages=%d status=%q, want 12/ready", p.PageCount, p.Status)
	}

	papers, err := s.ListPapers(ctx)
	if err != nil {
		t.Fatalf("ListPapers: %v", err)
	}
	if len(papers) != 1 {
		t.Errorf("got %d papers, want 1", len(papers))
	}
}

func TestGetPaperNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetPaper(context.Background(), "nope"); !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("got %v, want ErrPaperNotFound", err)
	}
}

func TestLinkAnswerKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "exam-1", Title: "Maths 2024"}); err != nil {
		t.Fatalf("UpsertPaper exam: %v", err)
	}
	if err := s.UpsertPaper(ctx, Paper{ID: "ms-1", Title: "Maths 2024 MS", Kind: KindMarkingScheme}); err != nil {
		t.Fatalf("UpsertPaper scheme: %v", err)
	}

	if err := s.LinkAnswerKey(ctx, "exam-1", "ms-1"); err != nil {
		t.Fatalf("LinkAnswerKey: %v", err)
	}
	p, err := s.GetPaper(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if p.AnswerKeyID != "ms-1" {
		t.Errorf("AnswerKeyID = %q, want ms-1", p.AnswerKeyID)
	}

	if err := s.LinkAnswerKey(ctx, "exam-1", "missing"); !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("link to missing scheme: got %v, want ErrPaperNotFound", err)
	}
	if err := s.LinkAnswerKey(ctx, "missing", "ms-1"); !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("link from missing paper: got %v, want ErrPaperNotFound", err)
	}
}

func TestDeletePaperCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "exam-1", Title: "Maths 2024"}); err != nil {
		t.Fatalf("UpsertPaper exam: %v", err)
	}
	if err := s.UpsertPaper(ctx, Paper{ID: "ms-1", Title: "MS", Kind: KindMarkingScheme}); err != nil {
		t.Fatalf("UpsertPaper scheme: %v", err)
	}
	if err := s.LinkAnswerKey(ctx, "exam-1", "ms-1"); err != nil {
		t.Fatalf("LinkAnswerKey: %v", err)
	}

	id, err := s.UpsertQuestion(ctx, Question{
		DocumentID: "ms-1", QuestionNumber: "1", QuestionText: "Award 2 marks.",
		StartPage: 1, EndPage: 1,
	})
	if err != nil {
		t.Fatalf("UpsertQuestion: %v", err)
	}
	if s.VectorEnabled() {
		emb := make([]float32, s.EmbeddingDim())
		emb[0] = 1
		if err := s.InsertQuestionEmbedding(ctx, id, emb); err != nil {
			t.Fatalf("InsertQuestionEmbedding: %v", err)
		}
	}

	if err := s.DeletePaper(ctx, "ms-1"); err != nil {
		t.Fatalf("DeletePaper: %v", err)
	}

	if _, err := s.GetPaper(ctx, "ms-1"); !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("scheme still present: %v", err)
	}
	if _, err := s.LookupQuestion(ctx, "ms-1", "1"); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("question survived delete: %v", err)
	}

	// Exam is unlinked, not deleted.
	p, err := s.GetPaper(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetPaper exam: %v", err)
	}
	if p.AnswerKeyID != "" {
		t.Errorf("AnswerKeyID = %q, want empty after scheme delete", p.AnswerKeyID)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Embeddings != 0 {
		t.Errorf("embeddings = %d, want 0", stats.Embeddings)
	}
}

func TestSearchQuestions(t *testing.T) {
	s := newTestStore(t)
	if !s.SearchEnabled() {
		t.Skip("FTS5 not available; build with -tags sqlite_fts5")
	}
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "doc-1", Title: "Paper 1"}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	seed := []Question{
		{DocumentID: "doc-1", QuestionNumber: "1", QuestionText: "Differentiate the quadratic function.", StartPage: 1, EndPage: 1},
		{DocumentID: "doc-1", QuestionNumber: "2", QuestionText: "State Newton's second law.", StartPage: 2, EndPage: 2},
	}
	for _, q := range seed {
		if _, err := s.UpsertQuestion(ctx, q); err != nil {
			t.Fatalf("UpsertQuestion %s: %v", q.QuestionNumber, err)
		}
	}

	results, err := s.SearchQuestions(ctx, "quadratic", 10)
	if err != nil {
		t.Fatalf("SearchQuestions: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].QuestionNumber != "1" {
		t.Errorf("top result = %q, want question 1", results[0].QuestionNumber)
	}
	if results[0].Score <= 0 {
		t.Errorf("score = %f, want positive", results[0].Score)
	}
}

func TestUpsertKeepsSearchIndexInSync(t *testing.T) {
	s := newTestStore(t)
	if !s.SearchEnabled() {
		t.Skip("FTS5 not available; build with -tags sqlite_fts5")
	}
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "doc-1", Title: "Paper 1"}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	if _, err := s.UpsertQuestion(ctx, Question{
		DocumentID: "doc-1", QuestionNumber: "1",
		QuestionText: "Sketch the parabola.", StartPage: 1, EndPage: 1,
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// The replace takes the UPDATE branch of the upsert, which exercises
	// the FTS update trigger.
	if _, err := s.UpsertQuestion(ctx, Question{
		DocumentID: "doc-1", QuestionNumber: "1",
		QuestionText: "Integrate the polynomial.", StartPage: 1, EndPage: 1,
	}); err != nil {
		t.Fatalf("replacing upsert: %v", err)
	}

	results, err := s.SearchQuestions(ctx, "polynomial", 10)
	if err != nil {
		t.Fatalf("SearchQuestions: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("new text not indexed: got %d results, want 1", len(results))
	}

	stale, err := s.SearchQuestions(ctx, "parabola", 10)
	if err != nil {
		t.Fatalf("SearchQuestions stale: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("replaced text still indexed: %d results", len(stale))
	}
}

func TestSimilarQuestions(t *testing.T) {
	s := newTestStore(t)
	if !s.VectorEnabled() {
		t.Skip("sqlite-vec not available in this build")
	}
	ctx := context.Background()

	if err := s.UpsertPaper(ctx, Paper{ID: "doc-1", Title: "Paper 1"}); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}

	dim := s.EmbeddingDim()
	vecs := map[string][]float32{
		"1": unitVec(dim, 0),
		"2": unitVec(dim, 1),
	}
	for label, v := range vecs {
		id, err := s.UpsertQuestion(ctx, Question{
			DocumentID: "doc-1", QuestionNumber: label, QuestionText: "q" + label,
			StartPage: 1, EndPage: 1,
		})
		if err != nil {
			t.Fatalf("UpsertQuestion %s: %v", label, err)
		}
		if err := s.InsertQuestionEmbedding(ctx, id, v); err != nil {
			t.Fatalf("InsertQuestionEmbedding %s: %v", label, err)
		}
	}

	results, err := s.SimilarQuestions(ctx, unitVec(dim, 0), 1)
	if err != nil {
		t.Fatalf("SimilarQuestions: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].QuestionNumber != "1" {
		t.Errorf("nearest = %q, want question 1", results[0].QuestionNumber)
	}
}

func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}
