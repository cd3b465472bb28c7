// Package corpus holds the per-document page set handed to the detector and
// composer. A corpus is scoped to one ingestion run and discarded afterwards;
// nothing in it is persisted directly.
package corpus

import "context"

// Page is one page of an exam paper: its raster image plus whatever text
// layer (embedded PDF text or OCR output) was available. Immutable once
// produced.
type Page struct {
	// Number is 1-indexed and contiguous within a document.
	Number int
	// Image holds the page's raster bytes.
	Image []byte
	// MIME is the content type of Image.
	MIME string
	// Text is the page's text layer. May be empty for scanned papers.
	Text string
}

// Rasterizer turns document bytes into one page per raster image, in order.
type Rasterizer interface {
	Render(ctx context.Context, doc []byte) ([]Page, error)
}

// TextExtractor supplies a text layer for a page image. Optional input to
// the detector; implementations may wrap an OCR service or a vision model.
type TextExtractor interface {
	ExtractText(ctx context.Context, page Page) (string, error)
}
