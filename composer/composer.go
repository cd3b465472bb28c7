// Package composer produces one representative image per detected question:
// the page image with its top banner cropped away for single-page questions,
// or the cropped pages stitched vertically for multi-page spans.
package composer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/salmanmuddhoo/papertutor/corpus"
	"github.com/salmanmuddhoo/papertutor/detector"
)

// DefaultCropTopPercent removes the header/barcode band printed across the
// top of most exam pages.
const DefaultCropTopPercent = 12

// Config configures a Composer.
type Config struct {
	// CropTopPercent is the percentage of image height removed from the
	// top of every contributing page. Zero applies the default; negative
	// disables cropping.
	CropTopPercent int `json:"crop_top_percent,omitempty"`
}

// Composer builds representative question images.
type Composer struct {
	cropPercent int
}

// New creates a Composer.
func New(cfg Config) *Composer {
	crop := cfg.CropTopPercent
	if crop == 0 {
		crop = DefaultCropTopPercent
	}
	if crop < 0 {
		crop = 0
	}
	return &Composer{cropPercent: crop}
}

// Compose returns the representative image bytes for a boundary. Image
// decoding failures never fail the pipeline: the original page bytes are
// returned unchanged and the error is logged.
func (c *Composer) Compose(b detector.Boundary, pages []corpus.Page) ([]byte, string, error) {
	contributing := pagesFor(b, pages)
	if len(contributing) == 0 {
		return nil, "", fmt.Errorf("composer: boundary %q touches no pages in corpus", b.Number)
	}

	if len(contributing) == 1 {
		return c.cropTop(contributing[0]), "image/png", nil
	}
	return c.stitch(b, contributing), "image/png", nil
}

// pagesFor selects the boundary's contributing pages in page order.
func pagesFor(b detector.Boundary, pages []corpus.Page) []corpus.Page {
	want := make(map[int]bool, len(b.Pages))
	for _, n := range b.Pages {
		want[n] = true
	}
	var out []corpus.Page
	for _, p := range pages {
		if want[p.Number] {
			out = append(out, p)
		}
	}
	return out
}

// cropTop removes the configured top band from one page image. On any
// decode failure the original bytes come back unchanged.
func (c *Composer) cropTop(p corpus.Page) []byte {
	if c.cropPercent == 0 {
		return p.Image
	}

	img, _, err := image.Decode(bytes.NewReader(p.Image))
	if err != nil {
		slog.Warn("composer: cannot decode page image, keeping original",
			"page", p.Number, "error", err)
		return p.Image
	}

	cropped := cropImageTop(img, c.cropPercent)
	out, err := encodePNG(cropped)
	if err != nil {
		slog.Warn("composer: cannot re-encode cropped page, keeping original",
			"page", p.Number, "error", err)
		return p.Image
	}
	return out
}

// stitch crops the top band from every contributing page and stacks the
// results vertically on a white canvas as wide as the widest page, each
// narrower page horizontally centered. If any page fails to decode, the
// stitch is abandoned and the first page's original bytes stand in.
func (c *Composer) stitch(b detector.Boundary, contributing []corpus.Page) []byte {
	images := make([]image.Image, 0, len(contributing))
	maxWidth, totalHeight := 0, 0

	for _, p := range contributing {
		img, _, err := image.Decode(bytes.NewReader(p.Image))
		if err != nil {
			slog.Warn("composer: cannot decode page for stitch, keeping first page",
				"question", b.Number, "page", p.Number, "error", err)
			return contributing[0].Image
		}
		img = cropImageTop(img, c.cropPercent)
		bounds := img.Bounds()
		if bounds.Dx() > maxWidth {
			maxWidth = bounds.Dx()
		}
		totalHeight += bounds.Dy()
		images = append(images, img)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, maxWidth, totalHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	y := 0
	for _, img := range images {
		bounds := img.Bounds()
		x := (maxWidth - bounds.Dx()) / 2
		dst := image.Rect(x, y, x+bounds.Dx(), y+bounds.Dy())
		xdraw.Draw(canvas, dst, img, bounds.Min, xdraw.Over)
		y += bounds.Dy()
	}

	out, err := encodePNG(canvas)
	if err != nil {
		slog.Warn("composer: cannot encode stitched image, keeping first page",
			"question", b.Number, "error", err)
		return contributing[0].Image
	}
	return out
}

// cropImageTop drops the top percent of an image's height.
func cropImageTop(img image.Image, percent int) image.Image {
	bounds := img.Bounds()
	offset := bounds.Dy() * percent / 100
	if offset <= 0 || offset >= bounds.Dy() {
		return img
	}
	cropped := image.Rect(bounds.Min.X, bounds.Min.Y+offset, bounds.Max.X, bounds.Max.Y)

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(cropped)
	}

	// Decoders that don't expose SubImage get copied through an RGBA.
	dst := image.NewRGBA(image.Rect(0, 0, cropped.Dx(), cropped.Dy()))
	draw.Draw(dst, dst.Bounds(), img, cropped.Min, draw.Src)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ObjectKey derives the deterministic storage key for a question's
// representative image. Reprocessing a document writes to the same key,
// overwriting the previous image. The label must already be normalized.
func ObjectKey(documentID, label string) string {
	return fmt.Sprintf("questions/%s/q-%s.png", documentID, sanitize(label))
}

// PageKey derives the storage key for a whole page image, used by the
// fallback answering mode.
func PageKey(documentID string, pageNumber int) string {
	return fmt.Sprintf("pages/%s/page-%03d.png", documentID, pageNumber)
}

// sanitize keeps keys filesystem- and URL-safe.
func sanitize(label string) string {
	var sb strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
		}
	}
	if sb.Len() == 0 {
		return "unlabelled"
	}
	return sb.String()
}
