package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/salmanmuddhoo/papertutor/corpus"
	"github.com/salmanmuddhoo/papertutor/llm"
)

const extractionInstruction = `You are given the pages of a scanned exam paper, in order. Identify every question on the paper.

Respond with a JSON array and nothing else. Each element must be:
{"questionNumber": "<label such as 1 or 2a>", "startPage": <first page number>, "endPage": <last page number>, "fullText": "<the complete text of the question>"}

Rules:
- Page numbers are 1-indexed and refer to the order the pages were given.
- Treat each distinct label (including sub-parts like 3a, 3b) as its own element.
- Include instructions, data tables, and diagrams descriptions in fullText.
- Do not wrap the array in markdown fences or add commentary.`

// genItem is the wire shape the extraction instruction requests.
type genItem struct {
	QuestionNumber string `json:"questionNumber"`
	StartPage      int    `json:"startPage"`
	EndPage        int    `json:"endPage"`
	FullText       string `json:"fullText"`
}

// detectGenerative submits the page images with the extraction instruction
// and parses the response defensively. Model output is never trusted:
// fences are stripped, truncated arrays are salvaged object by object, and
// malformed items are dropped.
func (d *Detector) detectGenerative(ctx context.Context, pages []corpus.Page) ([]Boundary, error) {
	sample := pages
	if d.cfg.MaxPages > 0 && len(sample) > d.cfg.MaxPages {
		sample = sample[:d.cfg.MaxPages]
	}

	parts := make([]llm.Part, 0, len(sample)+1)
	parts = append(parts, llm.TextPart(extractionInstruction))
	for _, p := range sample {
		parts = append(parts, llm.ImagePart(p.Image, p.MIME))
	}

	resp, err := d.completer.Complete(ctx, llm.CompletionRequest{
		Model:       d.cfg.Model,
		Parts:       parts,
		Temperature: 0,
		MaxTokens:   d.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrExtractionFailed)
	}

	items, err := parseExtraction(resp.Content)
	if err != nil {
		return nil, err
	}

	boundaries := make([]Boundary, 0, len(items))
	for _, it := range items {
		start, end := it.StartPage, it.EndPage
		if end > len(pages) {
			end = len(pages)
		}
		if start < 1 || start > end {
			continue
		}
		nums := make([]int, 0, end-start+1)
		for n := start; n <= end; n++ {
			nums = append(nums, n)
		}
		boundaries = append(boundaries, Boundary{
			Number:    normalize(it.QuestionNumber),
			StartPage: start,
			EndPage:   end,
			Pages:     nums,
			Text:      it.FullText,
		})
	}
	if len(boundaries) == 0 {
		return nil, fmt.Errorf("%w: no valid questions in response", ErrExtractionFailed)
	}
	return boundaries, nil
}

// codeFenceRe strips markdown code fences from model output.
var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// objectRe matches individually well-formed flat JSON objects, used to
// reassemble an array from a truncated response.
var objectRe = regexp.MustCompile(`\{[^{}]*\}`)

// parseExtraction turns raw model output into validated items.
//
// Recovery ladder: strip fences; if the text doesn't start with '[', locate
// the outermost [...] span; parse as an array; on failure, salvage every
// {...} object that parses on its own and keep the valid ones. A response
// that is valid JSON but not an array is a contract violation
// (ErrMisformattedResponse); zero valid items after salvage is
// ErrExtractionFailed.
func parseExtraction(raw string) ([]genItem, error) {
	if m := codeFenceRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	if !strings.HasPrefix(raw, "[") {
		start := strings.Index(raw, "[")
		end := strings.LastIndex(raw, "]")
		if start >= 0 && end > start {
			raw = raw[start : end+1]
		}
	}

	var items []genItem
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		items = filterValid(items)
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: array contained no valid items", ErrExtractionFailed)
		}
		return items, nil
	}

	// Valid JSON of the wrong shape means the model ignored the contract;
	// salvage would only dredge up fragments of whatever it sent instead.
	var probe interface{}
	if err := json.Unmarshal([]byte(raw), &probe); err == nil {
		if _, ok := probe.([]interface{}); !ok {
			return nil, fmt.Errorf("%w: top-level value is %T", ErrMisformattedResponse, probe)
		}
	}

	// Truncated or dirty array: recover whole objects individually.
	var salvaged []genItem
	for _, frag := range objectRe.FindAllString(raw, -1) {
		var it genItem
		if err := json.Unmarshal([]byte(frag), &it); err != nil {
			continue
		}
		salvaged = append(salvaged, it)
	}
	salvaged = filterValid(salvaged)
	if len(salvaged) == 0 {
		return nil, fmt.Errorf("%w: nothing salvageable in response", ErrExtractionFailed)
	}
	return salvaged, nil
}

// filterValid drops items missing a label, numeric page span, or text.
func filterValid(items []genItem) []genItem {
	valid := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it.QuestionNumber) == "" {
			continue
		}
		if it.StartPage <= 0 || it.EndPage <= 0 {
			continue
		}
		if strings.TrimSpace(it.FullText) == "" {
			continue
		}
		valid = append(valid, it)
	}
	return valid
}
