package loader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ImageReader turns a rendered page image into text.
type ImageReader interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// OCR renders one PDF page to PNG with pdftoppm and reads it with tesseract,
// or with Vision when one is set.
type OCR struct {
	Runner    Runner
	Vision    ImageReader
	Pdftoppm  string
	Tesseract string
	DPI       int
	Lang      string
}

func NewOCR(runner Runner, dpi int, lang string) *OCR {
	if runner == nil {
		runner = ExecRunner{}
	}
	if dpi <= 0 {
		dpi = 300
	}
	if lang == "" {
		lang = "eng"
	}
	return &OCR{Runner: runner, Pdftoppm: "pdftoppm", Tesseract: "tesseract", DPI: dpi, Lang: lang}
}

// Recognize returns the text tesseract reads on the given 1-based page.
func (o *OCR) Recognize(ctx context.Context, pdfPath string, page int) (string, error) {
	p := strconv.Itoa(page)

	// pdftoppm -f N -l N -r DPI -png <in.pdf> writes the image to stdout
	img, errb, err := o.Runner.Run(ctx, nil, o.Pdftoppm,
		"-f", p, "-l", p, "-r", strconv.Itoa(o.DPI), "-png", pdfPath)
	if err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(string(errb)))
	}
	if len(img) == 0 {
		return "", fmt.Errorf("pdftoppm page %d: no image rendered", page)
	}

	if o.Vision != nil {
		text, err := o.Vision.Recognize(ctx, img)
		if err != nil {
			return "", fmt.Errorf("vision page %d: %w", page, err)
		}
		return text, nil
	}

	out, errb, err := o.Runner.Run(ctx, img, o.Tesseract, "stdin", "stdout", "-l", o.Lang)
	if err != nil {
		return "", fmt.Errorf("tesseract page %d: %w: %s", page, err, strings.TrimSpace(string(errb)))
	}
	return string(out), nil
}
