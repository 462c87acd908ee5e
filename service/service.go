// Package service runs the pipeline phases: config maintenance, extraction,
// transform, table load, embedding sync and the book path.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docetl/export"
	"docetl/extract"
	"docetl/mapping"
	"docetl/store"
	"docetl/transform"
	"docetl/types"
)

// ErrBusy is returned when a run is requested while another one is active.
var ErrBusy = errors.New("a pipeline run is already in progress")

// Extractor reads the requested fields of a source table.
type Extractor interface {
	Extract(ctx context.Context, table string, fields []string, limit int) (*types.Dataset, error)
	Close() error
}

// SourceOpener connects to the tabular source. Called once per extract phase.
type SourceOpener func(ctx context.Context) (Extractor, error)

// DatasetWriter persists a dataset and returns the path actually written.
type DatasetWriter interface {
	WriteDataset(ctx context.Context, path string, d *types.Dataset) (string, error)
}

// Embedder is what the embedding and book phases need from the producer.
type Embedder interface {
	Vectorizer
	RecordEmbedder
}

// Deps are the collaborators of a Service. Only the ones a phase uses have
// to be set for that phase.
type Deps struct {
	OpenSource SourceOpener
	Sink       store.TableSink
	Embeddings store.EmbeddingStorer
	Embedder   Embedder
	Pages      PageLoader
	Exporter   DatasetWriter
}

type Service struct {
	cfg     *types.Config
	deps    Deps
	running sync.Mutex
	logger  *slog.Logger
}

func New(cfg *types.Config, deps Deps) *Service {
	if deps.Exporter == nil {
		deps.Exporter = export.New()
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default(),
	}
}

func (s *Service) Config() *types.Config { return s.cfg }

func (s *Service) Stop() {
	s.logger.Info("pipeline service stopped")
}

// Run executes one phase. Only one run may be active at a time; a second
// caller gets ErrBusy instead of waiting.
func (s *Service) Run(ctx context.Context, params types.RunParams) (types.RunResult, error) {
	if !s.running.TryLock() {
		return types.RunResult{Phase: params.Phase}, ErrBusy
	}
	defer s.running.Unlock()

	start := time.Now()
	logger := s.logger.With("phase", params.Phase)
	logger.Info("phase started")

	res, err := s.dispatch(ctx, params)
	res.Phase = params.Phase
	res.Duration = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		logger.Error("phase failed", "error", err, "took", res.Duration)
		return res, err
	}
	logger.Info("phase finished", "rows", res.Rows, "skipped", res.Skipped, "failed", res.Failed, "took", res.Duration)
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, p types.RunParams) (types.RunResult, error) {
	switch p.Phase {
	case types.PhaseConfig:
		return types.RunResult{}, s.UpdateConfig(ctx)
	case types.PhaseExtract:
		d, err := s.Extract(ctx, p.Table)
		return rowsResult(d), err
	case types.PhaseTransform:
		d, rep, err := s.Transform(ctx)
		res := rowsResult(d)
		res.Skipped = len(rep.SkippedSources)
		res.Failed = rep.CoercionFailures
		return res, err
	case types.PhaseLoad:
		n, err := s.Load(ctx, p.Table, p.Replace)
		return types.RunResult{Rows: int(n)}, err
	case types.PhaseEmbed:
		rep, err := s.Embed(ctx, p.Table)
		return types.RunResult{Rows: rep.Embedded, Failed: rep.Failed}, err
	case types.PhaseBook:
		chunks, err := s.Book(ctx, p.PDFPath, p.Table)
		return types.RunResult{Rows: len(chunks)}, err
	case types.PhaseAll:
		return s.RunAll(ctx, p.Table)
	default:
		return types.RunResult{}, types.ConfigErrorf("run", "unknown phase %q", p.Phase)
	}
}

func rowsResult(d *types.Dataset) types.RunResult {
	if d == nil {
		return types.RunResult{}
	}
	return types.RunResult{Rows: len(d.Rows)}
}

// UpdateConfig applies sentinel and prefix maintenance to the mapping file.
func (s *Service) UpdateConfig(_ context.Context) error {
	return mapping.UpdateConfig(s.cfg.MappingFile)
}

// Extract pulls the mapped source fields and writes them to the extracted file.
func (s *Service) Extract(ctx context.Context, table string) (*types.Dataset, error) {
	if s.deps.OpenSource == nil {
		return nil, types.ConfigErrorf("extract", "no data source configured")
	}
	table = orDefault(table, s.cfg.Source.Table)
	if table == "" {
		return nil, types.ConfigErrorf("extract", "SOURCE_TABLE is not set")
	}

	raw, err := mapping.ReadTableFile(s.cfg.MappingFile)
	if err != nil {
		return nil, err
	}
	fields, err := mapping.RequestedFields(raw, s.cfg.Source.FieldLimit)
	if err != nil {
		return nil, err
	}

	src, err := s.deps.OpenSource(ctx)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	d, err := src.Extract(ctx, table, fields, s.cfg.Source.RowLimit)
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Exporter.WriteDataset(ctx, s.cfg.ExtractedFile, d); err != nil {
		return d, err
	}
	return d, nil
}

// Transform applies the mapping to the extracted file and writes the result.
func (s *Service) Transform(ctx context.Context) (*types.Dataset, transform.Report, error) {
	mappings, err := mapping.LoadFile(s.cfg.MappingFile)
	if err != nil {
		return nil, transform.Report{}, err
	}
	in, err := s.readDataset(s.cfg.ExtractedFile)
	if err != nil {
		return nil, transform.Report{}, err
	}

	out, rep := transform.New(s.logger).Transform(in, mappings)
	if _, err := s.deps.Exporter.WriteDataset(ctx, s.cfg.TransformedFile, out); err != nil {
		return out, rep, err
	}
	return out, rep, nil
}

// Load copies the transformed file into the destination table.
func (s *Service) Load(ctx context.Context, table string, replace bool) (int64, error) {
	if s.deps.Sink == nil {
		return 0, types.ConfigErrorf("load", "no table sink configured")
	}
	d, err := s.readDataset(s.cfg.TransformedFile, extract.VerbatimHeader())
	if err != nil {
		return 0, err
	}
	mode := store.LoadAppend
	if replace {
		mode = store.LoadReplace
	}
	return s.deps.Sink.LoadDataset(ctx, orDefault(table, s.cfg.Sink.Table), d, mode)
}

// Embed fills missing embeddings in the destination table.
func (s *Service) Embed(ctx context.Context, table string) (SyncReport, error) {
	if s.deps.Embeddings == nil || s.deps.Embedder == nil {
		return SyncReport{}, types.ConfigErrorf("embed", "embedding store or oracle not configured")
	}
	cfg := s.cfg.Sink
	cfg.Table = orDefault(table, cfg.Table)
	return NewSynchronizer(s.deps.Embeddings, s.deps.Embedder, cfg).
		WithDescriptionAliases(s.descriptionTargets()...).
		Run(ctx)
}

// descriptionTargets lists the target names the mapping gives the description
// source field, so a table loaded through the mapping still resolves it.
func (s *Service) descriptionTargets() []string {
	if s.cfg.MappingFile == "" {
		return nil
	}
	mappings, err := mapping.LoadFile(s.cfg.MappingFile)
	if err != nil {
		s.logger.Debug("mapping file not readable, no description aliases", "error", err)
		return nil
	}
	want := s.cfg.Sink.DescriptionColumn
	var out []string
	for _, m := range mappings {
		if strings.EqualFold(m.SourceField, want) && !strings.EqualFold(m.TargetField, want) {
			out = append(out, m.TargetField)
		}
	}
	return out
}

// Book embeds a PDF, writes the book CSV and, when a destination table is
// known and an embedding store is configured, stores the chunk collection.
func (s *Service) Book(ctx context.Context, pdfPath, table string) ([]types.BookChunk, error) {
	if pdfPath == "" {
		return nil, types.ConfigErrorf("book", "pdf path is empty")
	}
	if s.deps.Pages == nil || s.deps.Embedder == nil {
		return nil, types.ConfigErrorf("book", "pdf loader or oracle not configured")
	}

	chunks, err := BuildBook(ctx, s.deps.Pages, s.deps.Embedder, pdfPath, s.cfg.Chunk.Size, s.cfg.Chunk.Overlap)
	if err != nil {
		return nil, err
	}
	s.logger.Info("book embedded", "pdf", pdfPath, "chunks", len(chunks))

	if _, err := s.deps.Exporter.WriteDataset(ctx, s.cfg.BookOutputFile, BookDataset(chunks)); err != nil {
		return chunks, err
	}

	table = orDefault(table, s.cfg.Sink.Table)
	if table == "" || s.deps.Embeddings == nil {
		s.logger.Info("no destination table, book chunks not stored")
		return chunks, nil
	}
	if _, err := NewBookSynchronizer(s.deps.Embeddings, table, s.cfg.Sink.BookColumn).Run(ctx, chunks); err != nil {
		return chunks, err
	}
	return chunks, nil
}

// RunAll runs config maintenance, extract, transform, a replacing load and
// the embedding sync, stopping at the first failure.
func (s *Service) RunAll(ctx context.Context, table string) (types.RunResult, error) {
	var res types.RunResult
	if err := s.UpdateConfig(ctx); err != nil {
		return res, fmt.Errorf("config: %w", err)
	}
	if _, err := s.Extract(ctx, ""); err != nil {
		return res, fmt.Errorf("extract: %w", err)
	}
	_, rep, err := s.Transform(ctx)
	if err != nil {
		return res, fmt.Errorf("transform: %w", err)
	}
	res.Skipped = len(rep.SkippedSources)
	n, err := s.Load(ctx, table, true)
	if err != nil {
		return res, fmt.Errorf("load: %w", err)
	}
	res.Rows = int(n)
	sr, err := s.Embed(ctx, table)
	res.Failed = sr.Failed
	if err != nil {
		return res, fmt.Errorf("embed: %w", err)
	}
	return res, nil
}

// readDataset opens a file written by the exporter, which appends .gz when
// compression is on.
func (s *Service) readDataset(path string, opts ...extract.ReadOption) (*types.Dataset, error) {
	if s.cfg.Export.Gzip && !strings.HasSuffix(path, ".gz") {
		path += ".gz"
	}
	return export.OpenDataset(path, opts...)
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
