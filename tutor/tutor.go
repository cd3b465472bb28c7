// Package tutor answers student questions about ingested exam papers.
// Per request it selects content in one of two terminal modes: optimized
// (the single resolved question's image) or fallback (every page image of
// the paper, plus the linked marking scheme's pages when present), then
// delegates generation to the completion provider.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/salmanmuddhoo/papertutor/composer"
	"github.com/salmanmuddhoo/papertutor/llm"
	"github.com/salmanmuddhoo/papertutor/objstore"
	"github.com/salmanmuddhoo/papertutor/resolver"
	"github.com/salmanmuddhoo/papertutor/store"
)

// ErrNoContent means fallback was reached but the paper has no page
// images at all. User-facing as "paper still processing"; not retried.
var ErrNoContent = errors.New("tutor: no page images available for paper")

// Content-selection modes recorded on each answer.
const (
	ModeOptimized = "optimized"
	ModeFallback  = "fallback"
)

// PaperStore is the slice of the store the orchestrator needs.
type PaperStore interface {
	GetPaper(ctx context.Context, id string) (*store.Paper, error)
	LogAsk(ctx context.Context, a store.AskLog) error
}

// ContentResolver maps a query to a stored question, or nil on miss.
type ContentResolver interface {
	Resolve(ctx context.Context, query, docID, answerKeyID string) (*resolver.Resolved, error)
}

// Config holds tunables for the orchestrator.
type Config struct {
	// Model passed to the completion provider; empty uses its default.
	Model string `json:"model,omitempty"`
	// OptimizedMode enables single-question content selection. When
	// false every request uses whole-document fallback.
	OptimizedMode bool `json:"optimized_mode"`
	// MaxTokens caps the generated answer. Defaults to 4096.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Timeout bounds the completion call. Defaults to 2 minutes.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Tutor orchestrates content selection and answer generation.
type Tutor struct {
	cfg       Config
	completer llm.Completer
	papers    PaperStore
	resolver  ContentResolver
	objects   objstore.Store
}

// Answer is the result of one Ask call.
type Answer struct {
	Content          string `json:"content"`
	Mode             string `json:"mode"`
	QuestionNumber   string `json:"question_number,omitempty"`
	Model            string `json:"model,omitempty"`
	ImagesSent       int    `json:"images_sent"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
}

// New returns a Tutor. All collaborators are required.
func New(cfg Config, completer llm.Completer, papers PaperStore, res ContentResolver, objects objstore.Store) (*Tutor, error) {
	if completer == nil {
		return nil, fmt.Errorf("tutor: completer is required")
	}
	if papers == nil || res == nil || objects == nil {
		return nil, fmt.Errorf("tutor: store, resolver, and object storage are required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Tutor{cfg: cfg, completer: completer, papers: papers, resolver: res, objects: objects}, nil
}

// systemPrompt is the fixed structured-output instruction. Keeping
// marking-scheme content out of the visible answer is a prompt-level
// contract; nothing downstream re-checks it.
const systemPrompt = `You are a patient tutor helping a student work through an exam paper. Answer using the attached images of the paper.

Structure every answer with exactly these four sections, in this order:

## Understanding the Question
## Approach
## Worked Solution
## Key Points

If marking-scheme material is attached, use it only to check your solution. Never quote, paraphrase, or otherwise reveal marking-scheme content to the student.`

// Ask answers one student query about the given paper.
func (t *Tutor) Ask(ctx context.Context, docID, query string) (*Answer, error) {
	started := time.Now()

	paper, err := t.papers.GetPaper(ctx, docID)
	if err != nil {
		return nil, err
	}

	ans := &Answer{Mode: ModeFallback}
	var parts []llm.Part

	if t.cfg.OptimizedMode {
		res, err := t.resolver.Resolve(ctx, query, docID, paper.AnswerKeyID)
		if err != nil {
			return nil, fmt.Errorf("resolving question: %w", err)
		}
		if res != nil {
			if p, ok := t.optimizedParts(ctx, res); ok {
				parts = p
				ans.Mode = ModeOptimized
				ans.QuestionNumber = res.Question.QuestionNumber
			}
		}
	}

	if ans.Mode == ModeFallback {
		p, err := t.fallbackParts(ctx, paper)
		if err != nil {
			return nil, err
		}
		parts = p
	}

	for _, p := range parts {
		if len(p.Image) > 0 {
			ans.ImagesSent++
		}
	}
	parts = append(parts, llm.TextPart("Student's question: "+query))

	cctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	comp, err := t.completer.Complete(cctx, llm.CompletionRequest{
		Model:       t.cfg.Model,
		System:      systemPrompt,
		Parts:       parts,
		Temperature: 0.3,
		MaxTokens:   t.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	ans.Content = comp.Content
	ans.Model = comp.Model
	ans.PromptTokens = comp.PromptTokens
	ans.CompletionTokens = comp.CompletionTokens
	ans.TotalTokens = comp.TotalTokens

	if err := t.papers.LogAsk(ctx, store.AskLog{
		Query:            query,
		DocumentID:       docID,
		QuestionNumber:   ans.QuestionNumber,
		Mode:             ans.Mode,
		Answer:           ans.Content,
		ModelUsed:        ans.Model,
		PromptTokens:     ans.PromptTokens,
		CompletionTokens: ans.CompletionTokens,
		TotalTokens:      ans.TotalTokens,
	}); err != nil {
		slog.Warn("recording ask log failed", "document", docID, "error", err)
	}

	slog.Info("answered question",
		"document", docID,
		"mode", ans.Mode,
		"question", ans.QuestionNumber,
		"images", ans.ImagesSent,
		"elapsed", time.Since(started).Round(time.Millisecond))

	return ans, nil
}

// optimizedParts assembles the single-question content. Any image fetch
// failure abandons optimized mode so the caller can fall back.
func (t *Tutor) optimizedParts(ctx context.Context, res *resolver.Resolved) ([]llm.Part, bool) {
	if res.Question.ImageRef == "" {
		return nil, false
	}
	img, err := t.objects.Get(ctx, res.Question.ImageRef)
	if err != nil {
		slog.Warn("question image fetch failed, falling back",
			"ref", res.Question.ImageRef, "error", err)
		return nil, false
	}

	parts := []llm.Part{
		llm.TextPart(fmt.Sprintf("Attached is question %s from the exam paper.", res.Question.DisplayLabel)),
		llm.ImagePart(img, res.Question.MIMEType),
	}
	if res.Question.QuestionText != "" {
		parts = append(parts, llm.TextPart("Extracted question text:\n"+res.Question.QuestionText))
	}

	if res.AnswerKey != nil && res.AnswerKey.ImageRef != "" {
		key, err := t.objects.Get(ctx, res.AnswerKey.ImageRef)
		if err != nil {
			// Marking-scheme material is optional in optimized mode.
			slog.Warn("marking scheme image fetch failed, omitting",
				"ref", res.AnswerKey.ImageRef, "error", err)
		} else {
			parts = append(parts,
				llm.TextPart("Marking-scheme notes for this question (tutor reference only):"),
				llm.ImagePart(key, res.AnswerKey.MIMEType))
		}
	}
	return parts, true
}

// fallbackParts assembles every page image of the paper, plus the linked
// marking scheme's pages when one exists. Individual missing pages are
// skipped; zero exam pages is ErrNoContent.
func (t *Tutor) fallbackParts(ctx context.Context, paper *store.Paper) ([]llm.Part, error) {
	parts := []llm.Part{llm.TextPart("Attached are all pages of the exam paper in order.")}

	got := t.appendPages(ctx, &parts, paper.ID, paper.PageCount)
	if got == 0 {
		return nil, ErrNoContent
	}

	if paper.AnswerKeyID != "" {
		scheme, err := t.papers.GetPaper(ctx, paper.AnswerKeyID)
		if err != nil {
			slog.Warn("linked marking scheme lookup failed, omitting",
				"scheme", paper.AnswerKeyID, "error", err)
			return parts, nil
		}
		if scheme.PageCount > 0 {
			parts = append(parts, llm.TextPart("Attached are the marking-scheme pages (tutor reference only)."))
			t.appendPages(ctx, &parts, scheme.ID, scheme.PageCount)
		}
	}
	return parts, nil
}

func (t *Tutor) appendPages(ctx context.Context, parts *[]llm.Part, docID string, pageCount int) int {
	got := 0
	for n := 1; n <= pageCount; n++ {
		img, err := t.objects.Get(ctx, composer.PageKey(docID, n))
		if err != nil {
			slog.Warn("page image fetch failed, skipping",
				"document", docID, "page", n, "error", err)
			continue
		}
		*parts = append(*parts, llm.ImagePart(img, "image/png"))
		got++
	}
	return got
}
