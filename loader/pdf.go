// Package loader turns a PDF into page text, falling back to OCR for pages
// without a text layer, and cuts text into overlapping chunks.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is the text of one 1-based PDF page.
type Page struct {
	Number int
	Text   string
	OCR    bool
}

// PageReader returns the raw text layer of every page, in order.
type PageReader interface {
	ReadPages(path string) ([]string, error)
}

// Recognizer reads the text off a rendered page image.
type Recognizer interface {
	Recognize(ctx context.Context, pdfPath string, page int) (string, error)
}

type PDFLoader struct {
	reader     PageReader
	ocr        Recognizer
	cropTop    float64
	cropBottom float64
	logger     *slog.Logger
}

type Option func(*PDFLoader)

func WithPageReader(r PageReader) Option { return func(l *PDFLoader) { l.reader = r } }

// WithCrop removes top and bottom margins, in points, before reading.
func WithCrop(top, bottom float64) Option {
	return func(l *PDFLoader) { l.cropTop, l.cropBottom = top, bottom }
}

func NewPDFLoader(ocr Recognizer, opts ...Option) *PDFLoader {
	l := &PDFLoader{
		reader: plainTextReader{},
		ocr:    ocr,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Pages extracts the text of every page. Pages whose text layer is blank are
// sent to OCR; an OCR failure leaves that page empty and is logged.
func (l *PDFLoader) Pages(ctx context.Context, path string) ([]Page, error) {
	n, err := validatePDF(path)
	if err != nil {
		return nil, err
	}
	logger := l.logger.With("file", filepath.Base(path))

	src := path
	if l.cropTop > 0 || l.cropBottom > 0 {
		tmp, err := os.CreateTemp("", "crop-*.pdf")
		if err != nil {
			return nil, fmt.Errorf("crop temp file: %w", err)
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := cropHeaderFooter(path, tmp.Name(), l.cropTop, l.cropBottom); err != nil {
			return nil, err
		}
		src = tmp.Name()
	}

	texts, err := l.reader.ReadPages(src)
	if err != nil {
		return nil, fmt.Errorf("read pages %s: %w", path, err)
	}
	if len(texts) != n {
		logger.Warn("text reader page count differs", "pdfcpu", n, "reader", len(texts))
	}

	return l.fillPages(ctx, logger, src, texts)
}

func (l *PDFLoader) fillPages(ctx context.Context, logger *slog.Logger, src string, texts []string) ([]Page, error) {
	pages := make([]Page, 0, len(texts))
	ocrCount := 0
	for i, text := range texts {
		p := Page{Number: i + 1, Text: text}
		if strings.TrimSpace(text) == "" && l.ocr != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t, err := l.ocr.Recognize(ctx, src, p.Number)
			if err != nil {
				logger.Warn("ocr failed, page left empty", "page", p.Number, "error", err)
			} else {
				p.Text, p.OCR = t, true
				ocrCount++
			}
		}
		pages = append(pages, p)
	}

	logger.Info("pdf pages extracted", "pages", len(pages), "ocr_pages", ocrCount)
	return pages, nil
}

type plainTextReader struct{}

func (plainTextReader) ReadPages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make([]string, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("failed to extract text from page", "page", i, "error", err)
			continue
		}
		out[i-1] = text
	}
	return out, nil
}
