package main

import (
	"context"
	"errors"
	"log/slog"

	"docetl/export"
	"docetl/extract"
	"docetl/loader"
	"docetl/model"
	"docetl/service"
	"docetl/store"
	"docetl/types"
)

// pipeline is a wired Service plus the resources to release after it.
type pipeline struct {
	svc     *service.Service
	closers []func() error
}

func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

type wireOptions struct {
	store  bool // open the Postgres pool
	tokens bool // load the tokenizer used to flag over-long texts
}

// wire builds the service. The embedding oracle and the source database
// connect on first use.
func wire(ctx context.Context, cfg *types.Config, wo wireOptions) (*pipeline, error) {
	p := &pipeline{}
	deps := service.Deps{}

	deps.OpenSource = func(ctx context.Context) (service.Extractor, error) {
		dsn := cfg.Source.DSN
		if dsn == "" && cfg.Source.Driver == "pgx" {
			dsn = cfg.Postgres.ConnString()
		}
		return extract.Open(ctx, cfg.Source.Driver, dsn)
	}

	oracle := model.LazyFromConfig(cfg.Embed)
	p.closers = append(p.closers, oracle.Close)
	popts := []model.ProducerOption{model.WithBatchSize(cfg.Embed.BatchSize)}
	if wo.tokens && cfg.Embed.MaxTokens > 0 {
		counter, err := model.NewTokenCounter("")
		if err != nil {
			slog.Warn("token counter unavailable, long texts will not be flagged", "error", err)
		} else {
			popts = append(popts, model.WithTokenLimit(counter, cfg.Embed.MaxTokens))
		}
	}
	deps.Embedder = model.NewProducer(oracle, popts...)

	ocr := loader.NewOCR(loader.ExecRunner{}, cfg.OCR.DPI, cfg.OCR.Lang)
	if cfg.OCR.Engine == "llava" {
		ocr.Vision = model.NewLLaVA(cfg.OCR.VisionURL, cfg.OCR.VisionModel, 0)
	}
	deps.Pages = loader.NewPDFLoader(ocr, loader.WithCrop(cfg.OCR.CropTop, cfg.OCR.CropBottom))

	eopts := []export.Option{export.WithGzip(cfg.Export.Gzip)}
	if cfg.Export.S3Bucket != "" {
		up, err := export.NewS3Uploader(ctx, cfg.Export)
		if err != nil {
			return nil, err
		}
		eopts = append(eopts, export.WithUploader(up, cfg.Export.S3Prefix))
	}
	deps.Exporter = export.New(eopts...)

	if wo.store {
		pg, err := store.NewPostgresStore(ctx, cfg.Postgres.ConnString())
		if err != nil {
			p.Close()
			return nil, err
		}
		p.closers = append(p.closers, pg.Close)
		if err := pg.Init(ctx); err != nil {
			p.Close()
			return nil, err
		}
		deps.Sink = pg
		deps.Embeddings = pg
	}

	p.svc = service.New(cfg, deps)
	return p, nil
}
