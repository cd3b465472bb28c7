package papertutor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/salmanmuddhoo/papertutor/composer"
	"github.com/salmanmuddhoo/papertutor/corpus"
	"github.com/salmanmuddhoo/papertutor/detector"
	"github.com/salmanmuddhoo/papertutor/llm"
	"github.com/salmanmuddhoo/papertutor/objstore"
	"github.com/salmanmuddhoo/papertutor/store"
)

type fakeRasterizer struct {
	pages []corpus.Page
	err   error
}

func (f *fakeRasterizer) Render(_ context.Context, _ []byte) ([]corpus.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

type fakeCompleter struct {
	content string
	err     error
	calls   int
}

func (f *fakeCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Content: f.content}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func examPages(t *testing.T) []corpus.Page {
	t.Helper()
	img := pngBytes(t, 100, 100)
	return []corpus.Page{
		{Number: 1, Image: img, MIME: "image/png", Text: "1 Calculate x.\nShow your working."},
		{Number: 2, Image: img, MIME: "image/png", Text: "continuation"},
		{Number: 3, Image: img, MIME: "image/png", Text: "2 Solve for y."},
	}
}

func newTestPipeline(t *testing.T, raster corpus.Rasterizer, comp llm.Completer, objects objstore.Store) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 8
	cfg.Detector = detector.Config{Mode: detector.ModePattern}
	cfg.Tutor.OptimizedMode = true

	p, err := New(context.Background(), cfg,
		WithRasterizer(raster),
		WithCompleter(comp),
		WithObjectStore(objects),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestIngestPaperEndToEnd(t *testing.T) {
	objects := objstore.NewMemory()
	p := newTestPipeline(t, &fakeRasterizer{pages: examPages(t)}, &fakeCompleter{content: "ok"}, objects)
	ctx := context.Background()

	res, err := p.IngestPaper(ctx, IngestRequest{ID: "exam-1", Title: "Maths 2024", Document: []byte("%PDF")})
	if err != nil {
		t.Fatalf("IngestPaper: %v", err)
	}
	if res.Stage != StageDone {
		t.Errorf("Stage = %q, want done", res.Stage)
	}
	if res.Pages != 3 || res.QuestionsDetected != 2 || res.QuestionsStored != 2 || res.QuestionsFailed != 0 {
		t.Errorf("result = %+v, want 3 pages, 2 detected, 2 stored", res)
	}

	q1, err := p.Store().LookupQuestion(ctx, "exam-1", "1")
	if err != nil {
		t.Fatalf("LookupQuestion 1: %v", err)
	}
	if len(q1.Pages) != 2 || q1.Pages[0] != 1 || q1.Pages[1] != 2 {
		t.Errorf("q1 pages = %v, want [1 2]", q1.Pages)
	}
	q2, err := p.Store().LookupQuestion(ctx, "exam-1", "2")
	if err != nil {
		t.Fatalf("LookupQuestion 2: %v", err)
	}
	if len(q2.Pages) != 1 || q2.Pages[0] != 3 {
		t.Errorf("q2 pages = %v, want [3]", q2.Pages)
	}

	// Question and page images are published.
	if _, err := objects.Get(ctx, q1.ImageRef); err != nil {
		t.Errorf("question image missing: %v", err)
	}
	for n := 1; n <= 3; n++ {
		if _, err := objects.Get(ctx, composer.PageKey("exam-1", n)); err != nil {
			t.Errorf("page %d image missing: %v", n, err)
		}
	}

	paper, err := p.Store().GetPaper(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if paper.Status != store.StatusReady || paper.PageCount != 3 {
		t.Errorf("paper = %+v, want ready with 3 pages", paper)
	}
}

func TestIngestPaperRasterizationFailure(t *testing.T) {
	p := newTestPipeline(t, &fakeRasterizer{err: errors.New("corrupt pdf")}, &fakeCompleter{}, objstore.NewMemory())
	ctx := context.Background()

	res, err := p.IngestPaper(ctx, IngestRequest{ID: "exam-1", Document: []byte("junk")})
	if !errors.Is(err, ErrRasterization) {
		t.Fatalf("got %v, want ErrRasterization", err)
	}
	if res.Stage != StageRasterize {
		t.Errorf("Stage = %q, want rasterize", res.Stage)
	}

	paper, err := p.Store().GetPaper(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if paper.Status != store.StatusError {
		t.Errorf("Status = %q, want error", paper.Status)
	}
}

func TestIngestPaperValidation(t *testing.T) {
	p := newTestPipeline(t, &fakeRasterizer{}, &fakeCompleter{}, objstore.NewMemory())
	ctx := context.Background()

	if _, err := p.IngestPaper(ctx, IngestRequest{Document: []byte("x")}); err == nil {
		t.Error("missing ID: expected error")
	}
	if _, err := p.IngestPaper(ctx, IngestRequest{ID: "x"}); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("got %v, want ErrEmptyDocument", err)
	}
}

func TestIngestPaperReprocessReplaces(t *testing.T) {
	objects := objstore.NewMemory()
	p := newTestPipeline(t, &fakeRasterizer{pages: examPages(t)}, &fakeCompleter{content: "ok"}, objects)
	ctx := context.Background()

	req := IngestRequest{ID: "exam-1", Document: []byte("%PDF")}
	if _, err := p.IngestPaper(ctx, req); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := p.IngestPaper(ctx, req); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	qs, err := p.Store().QuestionsByDocument(ctx, "exam-1")
	if err != nil {
		t.Fatalf("QuestionsByDocument: %v", err)
	}
	if len(qs) != 2 {
		t.Errorf("got %d records after reprocess, want 2", len(qs))
	}
}

func TestAskOptimizedAfterIngest(t *testing.T) {
	objects := objstore.NewMemory()
	comp := &fakeCompleter{content: "the worked answer"}
	p := newTestPipeline(t, &fakeRasterizer{pages: examPages(t)}, comp, objects)
	ctx := context.Background()

	if _, err := p.IngestPaper(ctx, IngestRequest{ID: "exam-1", Document: []byte("%PDF")}); err != nil {
		t.Fatalf("IngestPaper: %v", err)
	}

	ans, err := p.Ask(ctx, "exam-1", "help me with question 1")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Mode != "optimized" {
		t.Errorf("Mode = %q, want optimized", ans.Mode)
	}
	if ans.Content != "the worked answer" {
		t.Errorf("Content = %q", ans.Content)
	}
}

func TestAskUnknownPaper(t *testing.T) {
	p := newTestPipeline(t, &fakeRasterizer{}, &fakeCompleter{}, objstore.NewMemory())
	if _, err := p.Ask(context.Background(), "nope", "q1"); !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("got %v, want ErrPaperNotFound", err)
	}
}

func TestLinkAnswerKeyThroughPipeline(t *testing.T) {
	objects := objstore.NewMemory()
	p := newTestPipeline(t, &fakeRasterizer{pages: examPages(t)}, &fakeCompleter{content: "ok"}, objects)
	ctx := context.Background()

	if _, err := p.IngestPaper(ctx, IngestRequest{ID: "exam-1", Document: []byte("%PDF")}); err != nil {
		t.Fatalf("ingest exam: %v", err)
	}
	if _, err := p.IngestPaper(ctx, IngestRequest{ID: "ms-1", Kind: store.KindMarkingScheme, Document: []byte("%PDF")}); err != nil {
		t.Fatalf("ingest scheme: %v", err)
	}

	if err := p.LinkAnswerKey(ctx, "exam-1", "ms-1"); err != nil {
		t.Fatalf("LinkAnswerKey: %v", err)
	}
	if err := p.LinkAnswerKey(ctx, "exam-1", "missing"); !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("got %v, want ErrPaperNotFound", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Completion = llm.Config{Provider: "openai"} // missing API key

	if _, err := New(context.Background(), cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}
