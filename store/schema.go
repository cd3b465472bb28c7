package store

import "fmt"

// schemaSQL is the DDL for the core tables. It requires nothing beyond
// plain SQLite; the search indexes below are created separately because
// they depend on optional modules.
const schemaSQL = `
-- Paper registry: exam papers and their marking schemes
CREATE TABLE IF NOT EXISTS papers (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'exam',
    page_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'processing',
    answer_key_id TEXT REFERENCES papers(id),
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Segmented questions, one row per (document, normalized label)
CREATE TABLE IF NOT EXISTS questions (
    id INTEGER PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    question_number TEXT NOT NULL,
    display_label TEXT NOT NULL,
    question_text TEXT,
    image_ref TEXT,
    mime_type TEXT,
    start_page INTEGER NOT NULL,
    end_page INTEGER NOT NULL,
    pages JSON,
    detect_mode TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(document_id, question_number)
);

-- Ask audit log
CREATE TABLE IF NOT EXISTS ask_log (
    id INTEGER PRIMARY KEY,
    query TEXT NOT NULL,
    document_id TEXT,
    question_number TEXT,
    mode TEXT,
    answer TEXT,
    model_used TEXT,
    prompt_tokens INTEGER DEFAULT 0,
    completion_tokens INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_questions_document ON questions(document_id);
CREATE INDEX IF NOT EXISTS idx_papers_kind ON papers(kind);
CREATE INDEX IF NOT EXISTS idx_papers_status ON papers(status);
`

// ftsSchemaSQL is the FTS5 index and its sync triggers. FTS5 is only
// compiled into mattn/go-sqlite3 under the sqlite_fts5 build tag, so
// this DDL can fail on a default build.
const ftsSchemaSQL = `
-- Full-text search via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS questions_fts USING fts5(
    question_text,
    display_label,
    content='questions',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- FTS triggers to keep index in sync
CREATE TRIGGER IF NOT EXISTS questions_ai AFTER INSERT ON questions BEGIN
    INSERT INTO questions_fts(rowid, question_text, display_label) VALUES (new.id, new.question_text, new.display_label);
END;
CREATE TRIGGER IF NOT EXISTS questions_ad AFTER DELETE ON questions BEGIN
    INSERT INTO questions_fts(questions_fts, rowid, question_text, display_label) VALUES ('delete', old.id, old.question_text, old.display_label);
END;
CREATE TRIGGER IF NOT EXISTS questions_au AFTER UPDATE ON questions BEGIN
    INSERT INTO questions_fts(questions_fts, rowid, question_text, display_label) VALUES ('delete', old.id, old.question_text, old.display_label);
    INSERT INTO questions_fts(rowid, question_text, display_label) VALUES (new.id, new.question_text, new.display_label);
END;
`

// vecSchemaSQL returns the sqlite-vec virtual table DDL. embeddingDim
// controls the vec0 vector dimension.
func vecSchemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Vector embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_questions USING vec0(
    question_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, embeddingDim)
}
