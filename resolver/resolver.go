// Package resolver maps a student's free-form query to a stored question
// record. A query that names no question, or names one that was never
// segmented, resolves to nothing rather than an error: the caller falls
// back to whole-document answering.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"github.com/salmanmuddhoo/papertutor/store"
)

// QuestionLookup is the slice of the store the resolver needs.
type QuestionLookup interface {
	LookupQuestion(ctx context.Context, docID, label string) (*store.Question, error)
}

// Resolved carries the matched question and, when available, the
// corresponding entry from the linked marking scheme.
type Resolved struct {
	Label     string          // label as extracted from the query
	Question  *store.Question // from the exam paper
	AnswerKey *store.Question // from the marking scheme, nil if absent
}

// Resolver resolves queries against segmented questions.
type Resolver struct {
	lookup QuestionLookup
}

// New returns a Resolver backed by the given lookup.
func New(lookup QuestionLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Mention patterns, tried in order. The first match wins, so an explicit
// "question 3" beats a stray leading digit. A trailing lowercase letter is
// part of the label ("2a").
var mentionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bquestion\s*(\d+[a-z]?)\b`),
	regexp.MustCompile(`(?i)\bq\.?\s*(\d+[a-z]?)\b`),
	regexp.MustCompile(`^\s*(\d+[a-z]?)\b`),
}

// ExtractLabel pulls a question label out of a query, or "" when the
// query mentions no question.
func ExtractLabel(query string) string {
	for _, re := range mentionPatterns {
		if m := re.FindStringSubmatch(query); m != nil {
			return m[1]
		}
	}
	return ""
}

// Resolve matches the query to a question in docID. It returns (nil, nil)
// when the query names no question or the named question is not stored;
// both are control flow, not failures. When answerKeyID is set, the
// matching marking-scheme entry is attached best-effort.
func (r *Resolver) Resolve(ctx context.Context, query, docID, answerKeyID string) (*Resolved, error) {
	label := ExtractLabel(query)
	if label == "" {
		return nil, nil
	}

	q, err := r.lookup.LookupQuestion(ctx, docID, label)
	if errors.Is(err, store.ErrQuestionNotFound) {
		slog.Debug("no stored question for label", "document", docID, "label", label)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := &Resolved{Label: label, Question: q}

	if answerKeyID != "" {
		key, err := r.lookup.LookupQuestion(ctx, answerKeyID, label)
		if err != nil {
			// Marking-scheme material is an enrichment, never a blocker.
			slog.Debug("answer key lookup failed", "scheme", answerKeyID, "label", label, "error", err)
		} else {
			res.AnswerKey = key
		}
	}

	return res, nil
}
