// Package detector partitions an exam paper's page corpus into question
// boundaries. Two strategies are available, a deterministic text-pattern
// scan over each page's text layer and a generative vision extraction,
// reconciled by a merge policy that trusts the deterministic signal and
// uses the generative one only to fill gaps.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/salmanmuddhoo/papertutor/corpus"
	"github.com/salmanmuddhoo/papertutor/llm"
)

var (
	// ErrEmptyCorpus is returned when Detect is called with no pages.
	ErrEmptyCorpus = errors.New("detector: empty page corpus")

	// ErrExtractionFailed is returned when the generative strategy yields
	// zero valid questions after all salvage attempts.
	ErrExtractionFailed = errors.New("detector: generative extraction failed")

	// ErrMisformattedResponse is returned when the model responds with
	// valid JSON that is not an array.
	ErrMisformattedResponse = errors.New("detector: misformatted model response")
)

// Boundary is a detected question: its label and the page span it occupies.
// Transient: produced here, consumed by the composer, never persisted.
type Boundary struct {
	// Number is the question label ("1", "2a"), lowercased and trimmed.
	Number string
	// StartPage and EndPage bound the question's span, 1-indexed,
	// StartPage <= EndPage.
	StartPage int
	EndPage   int
	// Pages lists every page the question touches, ascending. Usually
	// contiguous but not required to be.
	Pages []int
	// Text is the question's extracted text. May be empty when only the
	// generative strategy located the question and its output was sparse.
	Text string
}

// Mode selects which strategies run.
const (
	ModePattern    = "pattern"
	ModeGenerative = "generative"
	ModeMerged     = "merged"
)

// Config configures a Detector.
type Config struct {
	// Mode is one of pattern, generative, merged. Defaults to merged.
	Mode string `json:"mode"`
	// Model overrides the provider's default model for extraction calls.
	Model string `json:"model,omitempty"`
	// ScanWindow limits marker detection to the first N lines of each
	// page's text. Zero scans every line.
	ScanWindow int `json:"scan_window,omitempty"`
	// MaxPages caps how many page images are sent to the generative
	// strategy. Zero sends all of them.
	MaxPages int `json:"max_pages,omitempty"`
	// MaxTokens bounds the extraction response size.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Detector proposes question boundaries for a page corpus.
type Detector struct {
	cfg       Config
	completer llm.Completer
}

// New creates a Detector. The completer may be nil only in pattern mode.
func New(cfg Config, completer llm.Completer) (*Detector, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeMerged
	}
	switch cfg.Mode {
	case ModePattern:
	case ModeGenerative, ModeMerged:
		if completer == nil {
			return nil, fmt.Errorf("detector: mode %q requires a completion provider", cfg.Mode)
		}
	default:
		return nil, fmt.Errorf("detector: unknown mode: %s", cfg.Mode)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	return &Detector{cfg: cfg, completer: completer}, nil
}

// Mode reports the configured detection mode.
func (d *Detector) Mode() string {
	return d.cfg.Mode
}

// Detect partitions the corpus into boundaries according to the configured
// mode. Output preserves first-seen order.
func (d *Detector) Detect(ctx context.Context, pages []corpus.Page) ([]Boundary, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyCorpus
	}

	start := time.Now()

	switch d.cfg.Mode {
	case ModePattern:
		found := detectPattern(pages, d.cfg.ScanWindow)
		slog.Info("detector: pattern scan complete",
			"pages", len(pages), "questions", len(found),
			"elapsed", time.Since(start).Round(time.Millisecond))
		return found, nil

	case ModeGenerative:
		found, err := d.detectGenerative(ctx, pages)
		if err != nil {
			return nil, err
		}
		slog.Info("detector: generative extraction complete",
			"pages", len(pages), "questions", len(found),
			"elapsed", time.Since(start).Round(time.Millisecond))
		return found, nil

	default: // ModeMerged
		patternFound := detectPattern(pages, d.cfg.ScanWindow)

		genFound, err := d.detectGenerative(ctx, pages)
		if err != nil {
			// The deterministic signal can stand alone; a generative
			// failure only matters when pattern found nothing.
			if len(patternFound) == 0 {
				return nil, err
			}
			slog.Warn("detector: generative strategy failed, keeping pattern results",
				"questions", len(patternFound), "error", err)
			genFound = nil
		}

		merged := merge(patternFound, genFound)
		slog.Info("detector: merged detection complete",
			"pages", len(pages), "pattern", len(patternFound),
			"generative", len(genFound), "merged", len(merged),
			"elapsed", time.Since(start).Round(time.Millisecond))
		return merged, nil
	}
}

// merge reconciles the two strategies: pattern results win for any label
// they cover, generative results fill in only labels absent from the
// pattern set. First writer wins within each list.
func merge(pattern, generative []Boundary) []Boundary {
	seen := make(map[string]bool, len(pattern))
	merged := make([]Boundary, 0, len(pattern)+len(generative))

	for _, b := range pattern {
		key := normalize(b.Number)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, b)
	}
	for _, b := range generative {
		key := normalize(b.Number)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, b)
	}
	return merged
}

// normalize lowercases and trims a question label for dedup purposes.
// The store applies the same rules (plus alphanumeric filtering) at its
// key boundary.
func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
