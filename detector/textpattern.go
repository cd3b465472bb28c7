package detector

import (
	"regexp"
	"sort"
	"strings"

	"github.com/salmanmuddhoo/papertutor/corpus"
)

// markerPatterns match a line that opens a new question. Ordered: the first
// pattern to match a line wins. Submatch 1 is the question label.
var markerPatterns = []*regexp.Regexp{
	// "Question 3", "Q3", "Q.3", "q 12b", anchored at line start.
	regexp.MustCompile(`(?i)^\s*(?:question|q\.?)\s*(\d+[a-z]?)\b`),
	// Bare leading number followed by a punctuation or space delimiter:
	// "3. Solve", "3) Solve", "3 Solve", "3: Solve".
	regexp.MustCompile(`^\s*(\d+[a-z]?)[.):\s]`),
}

// matchMarker reports the question label opened by a line, if any.
func matchMarker(line string) (string, bool) {
	for _, re := range markerPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return normalize(m[1]), true
		}
	}
	return "", false
}

// run accumulates one question's lines and pages as the scan proceeds.
type run struct {
	label string
	pages map[int]bool
	lines []string
}

// detectPattern scans each page's text layer line by line for question
// markers. A run begins at the first matching line and accumulates all
// subsequent lines, across pages, until the next marker. Pages with no
// marker attach to the currently open run. Content arriving before any
// marker opens an implicit run labelled "1". A marker repeating an
// already-seen label re-opens that run rather than creating a duplicate,
// which matches the store's one-record-per-label contract.
//
// scanWindow limits marker detection to the first N lines of a page; zero
// means every line is a marker candidate. Lines past the window still
// accumulate into the open run.
func detectPattern(pages []corpus.Page, scanWindow int) []Boundary {
	var order []*run
	byLabel := make(map[string]*run)
	var current *run

	open := func(label string) *run {
		if r, ok := byLabel[label]; ok {
			return r
		}
		r := &run{label: label, pages: make(map[int]bool)}
		byLabel[label] = r
		order = append(order, r)
		return r
	}

	for _, page := range pages {
		pageTouched := false
		lines := strings.Split(page.Text, "\n")

		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}

			if scanWindow == 0 || i < scanWindow {
				if label, ok := matchMarker(trimmed); ok {
					current = open(label)
				}
			}

			if current == nil {
				// Content before any marker: implicit question "1".
				current = open("1")
			}

			current.lines = append(current.lines, trimmed)
			current.pages[page.Number] = true
			pageTouched = true
		}

		// A page with no usable text still belongs to the open question.
		if !pageTouched && current != nil {
			current.pages[page.Number] = true
		}
	}

	boundaries := make([]Boundary, 0, len(order))
	for _, r := range order {
		nums := make([]int, 0, len(r.pages))
		for n := range r.pages {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		if len(nums) == 0 {
			continue
		}
		boundaries = append(boundaries, Boundary{
			Number:    r.label,
			StartPage: nums[0],
			EndPage:   nums[len(nums)-1],
			Pages:     nums,
			Text:      strings.Join(r.lines, "\n"),
		})
	}
	return boundaries
}
