// Package store wraps the SQLite database that holds the paper registry
// and the segmented question records, including sqlite-vec and FTS5
// virtual tables for similarity and full-text search.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Sentinel errors for lookups. Callers that treat a miss as control flow
// rather than failure check for these with errors.Is.
var (
	ErrPaperNotFound    = errors.New("store: paper not found")
	ErrQuestionNotFound = errors.New("store: question not found")

	// ErrSearchUnavailable is returned when the build lacks the SQLite
	// module a search index needs (FTS5 requires the sqlite_fts5 build
	// tag on mattn/go-sqlite3).
	ErrSearchUnavailable = errors.New("store: search index unavailable")
)

// Paper kinds.
const (
	KindExam          = "exam"
	KindMarkingScheme = "marking_scheme"
)

// Paper statuses.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Paper represents a row in the papers table: either an exam paper or a
// marking scheme. AnswerKeyID links an exam to its marking scheme.
type Paper struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Kind        string `json:"kind"`
	PageCount   int    `json:"page_count"`
	Status      string `json:"status"`
	AnswerKeyID string `json:"answer_key_id,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Question represents a segmented question record. QuestionNumber is the
// normalized label; DisplayLabel preserves the label as detected.
type Question struct {
	ID             int64  `json:"id"`
	DocumentID     string `json:"document_id"`
	QuestionNumber string `json:"question_number"`
	DisplayLabel   string `json:"display_label"`
	QuestionText   string `json:"question_text,omitempty"`
	ImageRef       string `json:"image_ref,omitempty"`
	MIMEType       string `json:"mime_type,omitempty"`
	StartPage      int    `json:"start_page"`
	EndPage        int    `json:"end_page"`
	Pages          []int  `json:"pages,omitempty"`
	DetectMode     string `json:"detect_mode,omitempty"`
}

// SearchResult holds a question with its full-text search score.
type SearchResult struct {
	Question
	Score float64 `json:"score"`
}

// AskLog represents a row in the ask audit log.
type AskLog struct {
	Query            string `json:"query"`
	DocumentID       string `json:"document_id"`
	QuestionNumber   string `json:"question_number"`
	Mode             string `json:"mode"`
	Answer           string `json:"answer"`
	ModelUsed        string `json:"model_used"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// NormalizeLabel canonicalises a question label for storage and lookup:
// lowercased, trimmed, and stripped of everything but letters and digits,
// so "Question 2(a)", "Q2a" and " 2.A " all collapse to "2a".
func NormalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	s = strings.TrimPrefix(s, "question")
	s = strings.TrimPrefix(s, "q")
	return s
}

// Store wraps the SQLite database for all papertutor persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
	ftsEnabled   bool
	vecEnabled   bool
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema. The sqlite-vec and FTS5 virtual tables are
// created best-effort; SearchEnabled and VectorEnabled report whether
// the build supports them.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	// Search indexes depend on optional SQLite modules; a build without
	// them still gets a working store, just without search.
	if _, err := db.Exec(ftsSchemaSQL); err != nil {
		slog.Warn("store: full-text index unavailable, build with -tags sqlite_fts5 to enable", "error", err)
	} else {
		s.ftsEnabled = true
	}
	if _, err := db.Exec(vecSchemaSQL(embeddingDim)); err != nil {
		slog.Warn("store: vector index unavailable", "error", err)
	} else {
		s.vecEnabled = true
	}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// SearchEnabled reports whether the FTS5 full-text index is available.
func (s *Store) SearchEnabled() bool { return s.ftsEnabled }

// VectorEnabled reports whether the sqlite-vec index is available.
func (s *Store) VectorEnabled() bool { return s.vecEnabled }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Paper operations ---

// UpsertPaper inserts or updates a paper record keyed by its ID.
func (s *Store) UpsertPaper(ctx context.Context, p Paper) error {
	if p.Kind == "" {
		p.Kind = KindExam
	}
	if p.Status == "" {
		p.Status = StatusProcessing
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO papers (id, title, kind, page_count, status, answer_key_id, metadata)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			kind = excluded.kind,
			page_count = excluded.page_count,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Title, p.Kind, p.PageCount, p.Status, p.AnswerKeyID, p.Metadata)
	return err
}

// GetPaper retrieves a paper by ID.
func (s *Store) GetPaper(ctx context.Context, id string) (*Paper, error) {
	p := &Paper{}
	var answerKey, metadata sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, kind, page_count, status, answer_key_id, metadata, created_at, updated_at
		FROM papers WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &p.Kind, &p.PageCount, &p.Status,
		&answerKey, &metadata, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaperNotFound
	}
	if err != nil {
		return nil, err
	}
	p.AnswerKeyID = answerKey.String
	p.Metadata = metadata.String
	return p, nil
}

// ListPapers returns all papers ordered by creation time, newest first.
func (s *Store) ListPapers(ctx context.Context) ([]Paper, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, kind, page_count, status, answer_key_id, metadata, created_at, updated_at
		FROM papers ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []Paper
	for rows.Next() {
		var p Paper
		var answerKey, metadata sql.NullString
		if err := rows.Scan(&p.ID, &p.Title, &p.Kind, &p.PageCount, &p.Status,
			&answerKey, &metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.AnswerKeyID = answerKey.String
		p.Metadata = metadata.String
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// SetPaperStatus updates just the status field.
func (s *Store) SetPaperStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE papers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// SetPaperPageCount updates just the page_count field.
func (s *Store) SetPaperPageCount(ctx context.Context, id string, pages int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE papers SET page_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		pages, id)
	return err
}

// LinkAnswerKey records that schemeID is the marking scheme for paperID.
// Both papers must exist.
func (s *Store) LinkAnswerKey(ctx context.Context, paperID, schemeID string) error {
	if _, err := s.GetPaper(ctx, paperID); err != nil {
		return err
	}
	if _, err := s.GetPaper(ctx, schemeID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE papers SET answer_key_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		schemeID, paperID)
	return err
}

// DeletePaper removes a paper and cascades to its questions and embeddings.
// Papers that reference it as an answer key are unlinked, not deleted.
func (s *Store) DeletePaper(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if s.vecEnabled {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM vec_questions WHERE question_id IN (
					SELECT id FROM questions WHERE document_id = ?
				)`, id); err != nil {
				return err
			}
		}

		// Deleting questions fires the FTS cleanup triggers.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM questions WHERE document_id = ?", id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE papers SET answer_key_id = NULL WHERE answer_key_id = ?", id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM papers WHERE id = ?", id); err != nil {
			return err
		}

		return nil
	})
}

// --- Question operations ---

// UpsertQuestion inserts or fully replaces the question record for
// (document_id, normalized question_number). Reprocessing a paper is
// therefore idempotent: stale text, spans, and image refs never survive.
// Returns the question's row ID.
func (s *Store) UpsertQuestion(ctx context.Context, q Question) (int64, error) {
	norm := NormalizeLabel(q.QuestionNumber)
	if norm == "" {
		return 0, fmt.Errorf("store: question label %q normalizes to empty", q.QuestionNumber)
	}
	if q.DisplayLabel == "" {
		q.DisplayLabel = q.QuestionNumber
	}
	pagesJSON, err := json.Marshal(q.Pages)
	if err != nil {
		return 0, fmt.Errorf("store: encoding pages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO questions (document_id, question_number, display_label, question_text,
			image_ref, mime_type, start_page, end_page, pages, detect_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, question_number) DO UPDATE SET
			display_label = excluded.display_label,
			question_text = excluded.question_text,
			image_ref = excluded.image_ref,
			mime_type = excluded.mime_type,
			start_page = excluded.start_page,
			end_page = excluded.end_page,
			pages = excluded.pages,
			detect_mode = excluded.detect_mode,
			updated_at = CURRENT_TIMESTAMP
	`, q.DocumentID, norm, q.DisplayLabel, q.QuestionText,
		q.ImageRef, q.MIMEType, q.StartPage, q.EndPage, string(pagesJSON), q.DetectMode)
	if err != nil {
		return 0, err
	}

	// If UPSERT did an UPDATE, LastInsertId does not reflect the existing
	// row, so resolve the ID by key.
	var id int64
	row := s.db.QueryRowContext(ctx,
		"SELECT id FROM questions WHERE document_id = ? AND question_number = ?",
		q.DocumentID, norm)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

const questionColumns = `id, document_id, question_number, display_label,
	COALESCE(question_text, ''), COALESCE(image_ref, ''), COALESCE(mime_type, ''),
	start_page, end_page, COALESCE(pages, '[]'), COALESCE(detect_mode, '')`

// questionColumnsQ is questionColumns qualified for joins against alias q.
const questionColumnsQ = `q.id, q.document_id, q.question_number, q.display_label,
	COALESCE(q.question_text, ''), COALESCE(q.image_ref, ''), COALESCE(q.mime_type, ''),
	q.start_page, q.end_page, COALESCE(q.pages, '[]'), COALESCE(q.detect_mode, '')`

func scanQuestion(scan func(dest ...interface{}) error) (Question, error) {
	var q Question
	var pagesJSON string
	err := scan(&q.ID, &q.DocumentID, &q.QuestionNumber, &q.DisplayLabel,
		&q.QuestionText, &q.ImageRef, &q.MIMEType,
		&q.StartPage, &q.EndPage, &pagesJSON, &q.DetectMode)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(pagesJSON), &q.Pages); err != nil {
		return q, fmt.Errorf("store: decoding pages: %w", err)
	}
	return q, nil
}

// LookupQuestion retrieves a question by document ID and label. The label
// is normalized before lookup. A miss returns ErrQuestionNotFound.
func (s *Store) LookupQuestion(ctx context.Context, docID, label string) (*Question, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+questionColumns+" FROM questions WHERE document_id = ? AND question_number = ?",
		docID, NormalizeLabel(label))
	q, err := scanQuestion(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// QuestionsByDocument returns all questions for a document ordered by
// their starting page.
func (s *Store) QuestionsByDocument(ctx context.Context, docID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+questionColumns+" FROM questions WHERE document_id = ? ORDER BY start_page, question_number",
		docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// --- Search operations ---

// SearchQuestions performs a full-text search over question text using
// FTS5 BM25 ranking.
func (s *Store) SearchQuestions(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if !s.ftsEnabled {
		return nil, fmt.Errorf("%w: fts5", ErrSearchUnavailable)
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumnsQ+`, f.rank
		FROM questions_fts f
		JOIN questions q ON q.id = f.rowid
		WHERE questions_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var pagesJSON string
		var rank float64
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.QuestionNumber, &r.DisplayLabel,
			&r.QuestionText, &r.ImageRef, &r.MIMEType,
			&r.StartPage, &r.EndPage, &pagesJSON, &r.DetectMode, &rank); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pagesJSON), &r.Pages); err != nil {
			return nil, fmt.Errorf("store: decoding pages: %w", err)
		}
		// FTS5 rank is negative (lower = better), convert to positive score
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertQuestionEmbedding stores a vector embedding for a question.
func (s *Store) InsertQuestionEmbedding(ctx context.Context, questionID int64, embedding []float32) error {
	if !s.vecEnabled {
		return fmt.Errorf("%w: vec0", ErrSearchUnavailable)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_questions (question_id, embedding) VALUES (?, ?)",
		questionID, serializeFloat32(embedding))
	return err
}

// SimilarQuestions performs a KNN search returning the top-k questions
// nearest the query embedding.
func (s *Store) SimilarQuestions(ctx context.Context, queryEmbedding []float32, k int) ([]SearchResult, error) {
	if !s.vecEnabled {
		return nil, fmt.Errorf("%w: vec0", ErrSearchUnavailable)
	}
	if k <= 0 {
		k = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumnsQ+`, v.distance
		FROM vec_questions v
		JOIN questions q ON q.id = v.question_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var pagesJSON string
		var distance float64
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.QuestionNumber, &r.DisplayLabel,
			&r.QuestionText, &r.ImageRef, &r.MIMEType,
			&r.StartPage, &r.EndPage, &pagesJSON, &r.DetectMode, &distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pagesJSON), &r.Pages); err != nil {
			return nil, fmt.Errorf("store: decoding pages: %w", err)
		}
		// Convert distance to similarity score (1 - distance for cosine)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Ask log ---

// LogAsk writes an entry to the ask audit log.
func (s *Store) LogAsk(ctx context.Context, a AskLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ask_log (query, document_id, question_number, mode, answer, model_used, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Query, a.DocumentID, a.QuestionNumber, a.Mode, a.Answer, a.ModelUsed,
		a.PromptTokens, a.CompletionTokens, a.TotalTokens)
	return err
}

// --- Diagnostics ---

// DBStats holds counts of key database objects.
type DBStats struct {
	Papers     int `json:"papers"`
	Questions  int `json:"questions"`
	Embeddings int `json:"embeddings"`
	Asks       int `json:"asks"`
}

// Stats returns counts of papers, questions, embeddings, and logged asks.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM papers", &stats.Papers},
		{"SELECT COUNT(*) FROM questions", &stats.Questions},
		{"SELECT COUNT(*) FROM ask_log", &stats.Asks},
	}
	if s.vecEnabled {
		queries = append(queries, struct {
			query string
			dest  *int
		}{"SELECT COUNT(*) FROM vec_questions", &stats.Embeddings})
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
