// Package papertutor segments exam papers into per-question images and
// answers student questions about them. Ingestion renders a PDF to
// pages, detects question boundaries, composes one representative image
// per question, and upserts question records; query time resolves the
// asked question and delegates answering to a vision-capable provider.
package papertutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/salmanmuddhoo/papertutor/composer"
	"github.com/salmanmuddhoo/papertutor/corpus"
	"github.com/salmanmuddhoo/papertutor/detector"
	"github.com/salmanmuddhoo/papertutor/llm"
	"github.com/salmanmuddhoo/papertutor/objstore"
	"github.com/salmanmuddhoo/papertutor/report"
	"github.com/salmanmuddhoo/papertutor/resolver"
	"github.com/salmanmuddhoo/papertutor/store"
	"github.com/salmanmuddhoo/papertutor/tutor"
)

// IngestRequest describes one document to ingest.
type IngestRequest struct {
	// ID identifies the paper; re-ingesting the same ID replaces its
	// question records.
	ID string `json:"id"`
	// Title is a human-readable name. Defaults to the ID.
	Title string `json:"title,omitempty"`
	// Kind is store.KindExam (default) or store.KindMarkingScheme.
	Kind string `json:"kind,omitempty"`
	// Document is the raw PDF bytes.
	Document []byte `json:"-"`
}

// IngestResult reports what one ingestion run achieved. On failure the
// result is still returned so callers can tell which stage failed and
// how many questions made it in before.
type IngestResult struct {
	DocumentID        string        `json:"document_id"`
	Pages             int           `json:"pages"`
	QuestionsDetected int           `json:"questions_detected"`
	QuestionsStored   int           `json:"questions_stored"`
	QuestionsFailed   int           `json:"questions_failed"`
	Stage             string        `json:"stage"` // last stage reached
	Elapsed           time.Duration `json:"elapsed"`
}

// Ingestion stages, reported in IngestResult.Stage.
const (
	StageRasterize = "rasterize"
	StageDetect    = "detect"
	StageCompose   = "compose"
	StageStore     = "store"
	StageDone      = "done"
)

// Pipeline is the main entry point.
type Pipeline struct {
	cfg       Config
	store     *store.Store
	objects   objstore.Store
	completer llm.Completer
	embedder  llm.Embedder
	raster    corpus.Rasterizer
	detector  *detector.Detector
	composer  *composer.Composer
	tutor     *tutor.Tutor
}

// Option overrides a pipeline collaborator, mainly for tests.
type Option func(*Pipeline)

// WithRasterizer replaces the default PDF rasterizer.
func WithRasterizer(r corpus.Rasterizer) Option {
	return func(p *Pipeline) { p.raster = r }
}

// WithCompleter replaces the configured completion provider.
func WithCompleter(c llm.Completer) Option {
	return func(p *Pipeline) { p.completer = c }
}

// WithObjectStore replaces the configured object storage backend.
func WithObjectStore(s objstore.Store) Option {
	return func(p *Pipeline) { p.objects = s }
}

// New builds the pipeline. Configuration problems fail here, not later.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.ExtractConcurrency <= 0 {
		cfg.ExtractConcurrency = 4
	}

	p := &Pipeline{cfg: cfg, raster: corpus.NewPDFRasterizer()}
	for _, o := range opts {
		o(p)
	}

	if p.completer == nil {
		c, err := llm.NewCompleter(cfg.Completion)
		if err != nil {
			return nil, fmt.Errorf("creating completion provider: %w", err)
		}
		p.completer = c
	}

	if cfg.Embedding.Provider != "" {
		e, err := llm.NewEmbedder(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		p.embedder = e
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	p.store = s

	if p.objects == nil {
		o, err := objstore.New(ctx, cfg.Objects)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening object storage: %w", err)
		}
		p.objects = o
	}

	d, err := detector.New(cfg.Detector, p.completer)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	p.detector = d

	p.composer = composer.New(composer.Config{CropTopPercent: cfg.CropTopPercent})

	t, err := tutor.New(cfg.Tutor, p.completer, s, resolver.New(s), p.objects)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating tutor: %w", err)
	}
	p.tutor = t

	return p, nil
}

// IngestPaper runs the full per-document pipeline: rasterize, publish
// page images, detect boundaries, compose and store one record per
// question. Per-question failures are isolated; the paper only enters
// error status when a whole stage fails.
func (p *Pipeline) IngestPaper(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	started := time.Now()
	res := &IngestResult{DocumentID: req.ID, Stage: StageRasterize}

	if req.ID == "" {
		return res, fmt.Errorf("%w: paper ID is required", ErrInvalidConfig)
	}
	if len(req.Document) == 0 {
		return res, ErrEmptyDocument
	}
	if req.Title == "" {
		req.Title = req.ID
	}
	if req.Kind == "" {
		req.Kind = store.KindExam
	}

	if err := p.store.UpsertPaper(ctx, store.Paper{
		ID: req.ID, Title: req.Title, Kind: req.Kind, Status: store.StatusProcessing,
	}); err != nil {
		return res, fmt.Errorf("registering paper: %w", err)
	}

	slog.Info("ingest: rendering pages", "paper", req.ID, "bytes", len(req.Document))
	pages, err := p.raster.Render(ctx, req.Document)
	if err != nil {
		p.store.SetPaperStatus(ctx, req.ID, store.StatusError)
		return res, fmt.Errorf("%w: %v", ErrRasterization, err)
	}
	res.Pages = len(pages)
	if err := p.store.SetPaperPageCount(ctx, req.ID, len(pages)); err != nil {
		p.store.SetPaperStatus(ctx, req.ID, store.StatusError)
		return res, fmt.Errorf("%w: recording page count: %v", ErrStorage, err)
	}

	// Whole-page images back fallback-mode answering. Published before
	// detection so a detection failure still leaves an answerable paper.
	if err := p.publishPages(ctx, req.ID, pages); err != nil {
		p.store.SetPaperStatus(ctx, req.ID, store.StatusError)
		return res, fmt.Errorf("%w: publishing page images: %v", ErrStorage, err)
	}

	res.Stage = StageDetect
	slog.Info("ingest: detecting questions", "paper", req.ID, "pages", len(pages), "mode", p.detector.Mode())
	detectStart := time.Now()
	boundaries, err := p.detector.Detect(ctx, pages)
	if err != nil {
		p.store.SetPaperStatus(ctx, req.ID, store.StatusError)
		return res, fmt.Errorf("%w: %v", ErrDetection, err)
	}
	res.QuestionsDetected = len(boundaries)
	slog.Info("ingest: detection complete",
		"paper", req.ID, "questions", len(boundaries),
		"elapsed", time.Since(detectStart).Round(time.Millisecond))

	p.backfillText(ctx, req.ID, boundaries, pages)

	res.Stage = StageCompose
	stored := p.storeQuestions(ctx, req.ID, boundaries, pages, res)

	if res.QuestionsStored == 0 && len(boundaries) > 0 {
		p.store.SetPaperStatus(ctx, req.ID, store.StatusError)
		return res, fmt.Errorf("%w: all %d questions failed", ErrStorage, len(boundaries))
	}

	p.embedQuestions(ctx, req.ID, stored)

	res.Stage = StageDone
	res.Elapsed = time.Since(started)
	if err := p.store.SetPaperStatus(ctx, req.ID, store.StatusReady); err != nil {
		return res, fmt.Errorf("%w: marking paper ready: %v", ErrStorage, err)
	}
	slog.Info("ingest: paper ready",
		"paper", req.ID, "pages", res.Pages,
		"stored", res.QuestionsStored, "failed", res.QuestionsFailed,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// publishPages uploads every page image concurrently, bounded so a large
// paper doesn't flood the backend.
func (p *Pipeline) publishPages(ctx context.Context, docID string, pages []corpus.Page) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ExtractConcurrency)
	for _, page := range pages {
		page := page
		g.Go(func() error {
			_, err := p.objects.Put(gctx, composer.PageKey(docID, page.Number), page.Image, page.MIME)
			if err != nil {
				return fmt.Errorf("page %d: %w", page.Number, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// transcriptionInstruction asks the provider for the question text alone.
const transcriptionInstruction = `Transcribe the full text of the exam question shown in the attached page images. Preserve numbering and mathematical notation as plain text. Return only the transcription, with no commentary.`

// backfillText fills empty boundary text via per-question vision calls,
// in bounded batches with a pause between them to respect provider rate
// limits. One question's failure leaves its text empty and continues.
func (p *Pipeline) backfillText(ctx context.Context, docID string, boundaries []detector.Boundary, pages []corpus.Page) {
	var missing []int
	for i, b := range boundaries {
		if b.Text == "" {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return
	}

	slog.Info("ingest: extracting question text", "paper", docID,
		"questions", len(missing), "batch", p.cfg.ExtractConcurrency)

	const batchPause = 500 * time.Millisecond
	for start := 0; start < len(missing); start += p.cfg.ExtractConcurrency {
		end := start + p.cfg.ExtractConcurrency
		if end > len(missing) {
			end = len(missing)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, idx := range missing[start:end] {
			idx := idx
			g.Go(func() error {
				text, err := p.extractQuestionText(gctx, boundaries[idx], pages)
				if err != nil {
					slog.Warn("ingest: text extraction failed, leaving empty",
						"paper", docID, "question", boundaries[idx].Number, "error", err)
					return nil
				}
				boundaries[idx].Text = text
				return nil
			})
		}
		g.Wait()

		if end < len(missing) {
			time.Sleep(batchPause)
		}
	}
}

func (p *Pipeline) extractQuestionText(ctx context.Context, b detector.Boundary, pages []corpus.Page) (string, error) {
	byNumber := make(map[int]corpus.Page, len(pages))
	for _, pg := range pages {
		byNumber[pg.Number] = pg
	}

	parts := []llm.Part{llm.TextPart(transcriptionInstruction)}
	for _, n := range b.Pages {
		if pg, ok := byNumber[n]; ok {
			parts = append(parts, llm.ImagePart(pg.Image, pg.MIME))
		}
	}
	if len(parts) == 1 {
		return "", fmt.Errorf("no page images for question %s", b.Number)
	}

	comp, err := p.completer.Complete(ctx, llm.CompletionRequest{
		Model:       p.cfg.Detector.Model,
		Parts:       parts,
		Temperature: 0,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", err
	}
	return comp.Content, nil
}

// storeQuestions composes and persists one record per boundary. Failures
// are isolated per question and counted on the result. Returns the
// stored questions for embedding.
func (p *Pipeline) storeQuestions(ctx context.Context, docID string, boundaries []detector.Boundary, pages []corpus.Page, res *IngestResult) []store.Question {
	var stored []store.Question
	for _, b := range boundaries {
		img, mime, err := p.composer.Compose(b, pages)
		if err != nil {
			slog.Warn("ingest: composing question image failed, skipping",
				"paper", docID, "question", b.Number, "error", err)
			res.QuestionsFailed++
			continue
		}

		key := composer.ObjectKey(docID, b.Number)
		ref, err := p.objects.Put(ctx, key, img, mime)
		if err != nil {
			slog.Warn("ingest: storing question image failed, skipping",
				"paper", docID, "question", b.Number, "error", err)
			res.QuestionsFailed++
			continue
		}

		q := store.Question{
			DocumentID:     docID,
			QuestionNumber: b.Number,
			DisplayLabel:   b.Number,
			QuestionText:   b.Text,
			ImageRef:       ref,
			MIMEType:       mime,
			StartPage:      b.StartPage,
			EndPage:        b.EndPage,
			Pages:          b.Pages,
			DetectMode:     p.detector.Mode(),
		}
		id, err := p.store.UpsertQuestion(ctx, q)
		if err != nil {
			slog.Warn("ingest: upserting question failed, skipping",
				"paper", docID, "question", b.Number, "error", err)
			res.QuestionsFailed++
			continue
		}
		q.ID = id
		stored = append(stored, q)
		res.QuestionsStored++
	}
	return stored
}

// embedQuestions embeds stored question text for similar-question search.
// Entirely optional: no embedder or any failure just logs.
func (p *Pipeline) embedQuestions(ctx context.Context, docID string, questions []store.Question) {
	if p.embedder == nil {
		return
	}

	var texts []string
	var ids []int64
	for _, q := range questions {
		if q.QuestionText == "" {
			continue
		}
		texts = append(texts, q.QuestionText)
		ids = append(ids, q.ID)
	}
	if len(texts) == 0 {
		return
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Warn("ingest: embedding questions failed (non-fatal)", "paper", docID, "error", err)
		return
	}
	for i, emb := range embeddings {
		if i >= len(ids) {
			break
		}
		if err := p.store.InsertQuestionEmbedding(ctx, ids[i], emb); err != nil {
			slog.Warn("ingest: storing embedding failed (non-fatal)",
				"paper", docID, "question_id", ids[i], "error", err)
		}
	}
}

// Ask answers one student query about a paper.
func (p *Pipeline) Ask(ctx context.Context, docID, query string) (*tutor.Answer, error) {
	ans, err := p.tutor.Ask(ctx, docID, query)
	if errors.Is(err, store.ErrPaperNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPaperNotFound, docID)
	}
	return ans, err
}

// LinkAnswerKey marks schemeID as the marking scheme for paperID.
func (p *Pipeline) LinkAnswerKey(ctx context.Context, paperID, schemeID string) error {
	err := p.store.LinkAnswerKey(ctx, paperID, schemeID)
	if errors.Is(err, store.ErrPaperNotFound) {
		return fmt.Errorf("%w: %s or %s", ErrPaperNotFound, paperID, schemeID)
	}
	return err
}

// ListPapers returns all registered papers.
func (p *Pipeline) ListPapers(ctx context.Context) ([]store.Paper, error) {
	return p.store.ListPapers(ctx)
}

// DeletePaper removes a paper, its questions, and their embeddings.
func (p *Pipeline) DeletePaper(ctx context.Context, id string) error {
	return p.store.DeletePaper(ctx, id)
}

// SearchQuestions runs a full-text search over stored question text.
func (p *Pipeline) SearchQuestions(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	return p.store.SearchQuestions(ctx, query, limit)
}

// SimilarQuestions embeds the query and returns the k nearest stored
// questions. Requires an embedding provider.
func (p *Pipeline) SimilarQuestions(ctx context.Context, query string, k int) ([]store.SearchResult, error) {
	if p.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", ErrInvalidConfig)
	}
	embs, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embs) == 0 {
		return nil, fmt.Errorf("embedding query: empty response")
	}
	return p.store.SimilarQuestions(ctx, embs[0], k)
}

// HybridQuestions fuses full-text and vector search rankings with RRF.
// Without an embedding provider it degrades to plain full-text search.
func (p *Pipeline) HybridQuestions(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	fts, err := p.store.SearchQuestions(ctx, query, limit*2)
	if err != nil {
		return nil, err
	}
	if p.embedder == nil {
		if limit > 0 && len(fts) > limit {
			fts = fts[:limit]
		}
		return fts, nil
	}
	vec, err := p.SimilarQuestions(ctx, query, limit*2)
	if err != nil {
		slog.Warn("search: vector leg failed, using full-text only", "error", err)
		vec = nil
	}
	return fuseRRF(fts, vec, 1.0, 1.0, limit), nil
}

// ExportWorkbook writes an xlsx review report of all stored questions.
func (p *Pipeline) ExportWorkbook(ctx context.Context, path string) error {
	return report.WriteWorkbook(ctx, p.store, path)
}

// Store returns the underlying store for diagnostic access.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Close shuts down the pipeline.
func (p *Pipeline) Close() error {
	return p.store.Close()
}
