// Package transform applies a field mapping to an extracted dataset:
// default fill, best-effort type coercion, then column rename.
package transform

import (
	"log/slog"

	"docetl/types"
)

// Report summarizes what a transform did beyond the happy path.
type Report struct {
	Applied          int      `json:"applied"`
	SkippedSources   []string `json:"skipped_sources,omitempty"`
	DefaultsFilled   int      `json:"defaults_filled"`
	CoercionFailures int      `json:"coercion_failures"`
}

type Engine struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Transform returns a new dataset; in is not modified. Mappings whose source
// column is absent are skipped with a warning. When two mappings share a
// source column the first one in file order wins and the later ones are
// reported as skipped, rather than the last one silently overriding it.
func (e *Engine) Transform(in *types.Dataset, mappings []types.FieldMapping) (*types.Dataset, Report) {
	out := in.Clone()
	var rep Report

	claimed := make(map[int]string, len(mappings))
	renames := make(map[int]string, len(mappings))

	for _, m := range mappings {
		idx := out.Index(m.SourceField)
		if idx < 0 {
			idx = out.IndexFold(m.SourceField)
		}
		if idx < 0 {
			e.logger.Warn("column not found in data, skipping", "source", m.SourceField, "target", m.TargetField)
			rep.SkippedSources = append(rep.SkippedSources, m.SourceField)
			continue
		}
		if prev, ok := claimed[idx]; ok {
			e.logger.Warn("source already mapped, skipping", "source", m.SourceField, "target", m.TargetField, "mapped_to", prev)
			rep.SkippedSources = append(rep.SkippedSources, m.SourceField)
			continue
		}
		claimed[idx] = m.TargetField

		defaultFailed := false
		for _, row := range out.Rows {
			if idx >= len(row) {
				continue
			}
			v := row[idx]
			filled := false
			if m.DefaultValue != "" && isMissing(v) {
				v = m.DefaultValue
				filled = true
				rep.DefaultsFilled++
			}

			switch m.TargetType {
			case types.TargetDate:
				c := CoerceDate(v)
				if c == nil && !isMissing(v) {
					rep.CoercionFailures++
					if filled {
						defaultFailed = true
					}
				}
				v = c
			case types.TargetString:
				v = CoerceString(v)
			}
			row[idx] = v
		}
		if defaultFailed {
			e.logger.Warn("default value is not a date, filled cells left null", "source", m.SourceField, "default", m.DefaultValue)
		}

		renames[idx] = m.TargetField
		rep.Applied++
	}

	for idx, name := range renames {
		out.Columns[idx] = name
	}

	e.logger.Info("transform complete",
		"rows", len(out.Rows),
		"applied", rep.Applied,
		"skipped", len(rep.SkippedSources),
		"defaults_filled", rep.DefaultsFilled,
		"coercion_failures", rep.CoercionFailures,
	)
	return out, rep
}
