// Package export writes datasets to CSV files, optionally gzip-compressed,
// and optionally copies them to an S3 bucket.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"docetl/extract"
	"docetl/types"
)

// Uploader stores a finished export under key.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

type Exporter struct {
	gzip     bool
	uploader Uploader
	prefix   string
	logger   *slog.Logger
}

type Option func(*Exporter)

func WithGzip(on bool) Option { return func(e *Exporter) { e.gzip = on } }

// WithUploader copies every written file to u under prefix/<file name>.
func WithUploader(u Uploader, prefix string) Option {
	return func(e *Exporter) { e.uploader, e.prefix = u, prefix }
}

func New(opts ...Option) *Exporter {
	e := &Exporter{logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// WriteDataset writes d as CSV to path (path.gz when compression is on) and
// returns the file actually written.
func (e *Exporter) WriteDataset(ctx context.Context, path string, d *types.Dataset) (string, error) {
	if e.gzip && !strings.HasSuffix(path, ".gz") {
		path += ".gz"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create export dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := e.write(f, d); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	e.logger.Info("dataset exported", "path", path, "rows", len(d.Rows), "columns", len(d.Columns))

	if e.uploader != nil {
		if err := e.upload(ctx, path); err != nil {
			return path, err
		}
	}
	return path, nil
}

func (e *Exporter) write(w io.Writer, d *types.Dataset) error {
	if !e.gzip {
		return extract.WriteCSV(w, d)
	}
	zw := gzip.NewWriter(w)
	if err := extract.WriteCSV(zw, d); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (e *Exporter) upload(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open export for upload: %w", err)
	}
	defer f.Close()

	contentType := "text/csv"
	if e.gzip {
		contentType = "application/gzip"
	}
	key := path.Join(e.prefix, filepath.Base(file))
	if err := e.uploader.Upload(ctx, key, f, contentType); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	e.logger.Info("export uploaded", "key", key)
	return nil
}

// OpenDataset reads a CSV export, transparently decompressing .gz files.
func OpenDataset(path string, opts ...extract.ReadOption) (*types.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open dataset %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	return extract.ReadCSV(r, opts...)
}
