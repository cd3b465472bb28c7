package corpus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFRasterizer splits a PDF into single-page documents and pairs each page
// with its embedded text layer. The per-page bytes are themselves PDFs;
// vision providers accept them inline the same way they accept raster
// images, so no separate raster step is needed for the generative path.
// Scanned papers without a text layer simply yield pages with empty Text.
type PDFRasterizer struct{}

// NewPDFRasterizer returns a Rasterizer backed by pdfcpu page extraction.
func NewPDFRasterizer() *PDFRasterizer {
	return &PDFRasterizer{}
}

// Render implements Rasterizer.
func (r *PDFRasterizer) Render(ctx context.Context, doc []byte) ([]Page, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(doc), conf)
	if err != nil {
		return nil, fmt.Errorf("reading pdf: %w", err)
	}

	pageCount := pdfCtx.PageCount
	if pageCount == 0 {
		return nil, nil
	}

	texts := extractTextLayer(doc, pageCount)

	pages := make([]Page, 0, pageCount)
	for n := 1; n <= pageCount; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reader, err := api.ExtractPage(pdfCtx, n)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d: %w", n, err)
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("reading page %d: %w", n, err)
		}

		pages = append(pages, Page{
			Number: n,
			Image:  data,
			MIME:   "application/pdf",
			Text:   texts[n-1],
		})
	}
	return pages, nil
}

// extractTextLayer pulls per-page plain text from the PDF's text layer.
// Failures here are recovered: a page without extractable text gets an
// empty string and the detector falls back to the generative strategy.
func extractTextLayer(doc []byte, pageCount int) []string {
	texts := make([]string, pageCount)

	reader, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		slog.Warn("corpus: no readable text layer", "error", err)
		return texts
	}

	total := reader.NumPage()
	if total > pageCount {
		total = pageCount
	}
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		texts[i-1] = strings.TrimSpace(text)
	}
	return texts
}
