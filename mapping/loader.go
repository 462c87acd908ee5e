// Package mapping loads the field-mapping configuration that drives the
// schema transform.
package mapping

import (
	"log/slog"
	"strings"

	"docetl/types"
)

// Required configuration headers, matched case-insensitively.
const (
	ColSource  = "Source FieldName"
	ColTarget  = "Target FieldName"
	ColType    = "Target DataType"
	ColDefault = "Target Default Value"
)

// LoadFile reads and normalizes a mapping resource.
func LoadFile(path string) ([]types.FieldMapping, error) {
	t, err := ReadTableFile(path)
	if err != nil {
		return nil, err
	}
	return Load(t)
}

// Load normalizes the raw configuration into an ordered mapping list:
// source and type are trimmed and lower-cased, target and default are
// trimmed, an empty target falls back to the default value, rows still
// lacking a target or a type are dropped, and duplicate targets keep the
// first occurrence in file order.
func Load(t *RawTable) ([]types.FieldMapping, error) {
	cols, err := requireColumns(t, ColSource, ColTarget, ColType, ColDefault)
	if err != nil {
		return nil, err
	}
	src, tgt, typ, def := cols[0], cols[1], cols[2], cols[3]

	seen := make(map[string]struct{}, len(t.Rows))
	out := make([]types.FieldMapping, 0, len(t.Rows))
	dropped, dupes := 0, 0

	for i := range t.Rows {
		m := types.FieldMapping{
			SourceField:  types.NormalizeColumnName(t.Cell(i, src)),
			TargetField:  strings.TrimSpace(t.Cell(i, tgt)),
			TargetType:   types.TargetType(types.NormalizeColumnName(t.Cell(i, typ))),
			DefaultValue: strings.TrimSpace(t.Cell(i, def)),
		}
		if m.TargetField == "" {
			m.TargetField = m.DefaultValue
		}
		if m.TargetField == "" || m.TargetType == "" {
			dropped++
			continue
		}
		if _, ok := seen[m.TargetField]; ok {
			dupes++
			slog.Debug("duplicate target field ignored", "target", m.TargetField, "row", i+2)
			continue
		}
		seen[m.TargetField] = struct{}{}
		out = append(out, m)
	}

	slog.Info("mapping loaded", "mappings", len(out), "dropped", dropped, "duplicates", dupes)
	return out, nil
}

// RequestedFields lists the source fields to extract: non-empty Source
// FieldName values, trimmed and lower-cased, at most limit of them (0 = all).
func RequestedFields(t *RawTable, limit int) ([]string, error) {
	cols, err := requireColumns(t, ColSource)
	if err != nil {
		return nil, err
	}
	var fields []string
	for i := range t.Rows {
		f := types.NormalizeColumnName(t.Cell(i, cols[0]))
		if f == "" {
			continue
		}
		fields = append(fields, f)
		if limit > 0 && len(fields) == limit {
			break
		}
	}
	return fields, nil
}

func requireColumns(t *RawTable, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	var missing []string
	for i, n := range names {
		idx[i] = t.Col(n)
		if idx[i] < 0 {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, types.ConfigErrorf("load mapping", "missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}
