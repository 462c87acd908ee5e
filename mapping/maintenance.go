package mapping

import (
	"log/slog"
	"regexp"
	"strings"

	"docetl/types"
)

// Sentinel row prepended to the configuration resource.
var sentinelRow = []string{"DataDescription", "Text", "Description"}

var targetPrefixRe = regexp.MustCompile(`(?i)^(ironmountain_im|im_)`)

// EnsureSentinel prepends the DataDescription row unless the first column
// already holds it. Reports whether t changed.
func EnsureSentinel(t *RawTable) (bool, error) {
	if len(t.Header) < len(sentinelRow) {
		return false, types.ConfigErrorf("ensure sentinel", "need at least %d columns, have %d", len(sentinelRow), len(t.Header))
	}
	for i := range t.Rows {
		if strings.TrimSpace(t.Cell(i, 0)) == sentinelRow[0] {
			return false, nil
		}
	}
	row := make([]string, len(t.Header))
	copy(row, sentinelRow)
	t.Rows = append([][]string{row}, t.Rows...)
	return true, nil
}

// StripTargetPrefixes removes the im_ / ironmountain_im prefixes from every
// Target FieldName. Returns the number of cells rewritten; found is false when
// the column does not exist.
func StripTargetPrefixes(t *RawTable) (changed int, found bool) {
	col := t.Col(ColTarget)
	if col < 0 {
		return 0, false
	}
	for i := range t.Rows {
		v := t.Cell(i, col)
		if nv := targetPrefixRe.ReplaceAllString(v, ""); nv != v {
			t.set(i, col, nv)
			changed++
		}
	}
	return changed, true
}

// UpdateConfig runs the configuration hygiene steps on the resource at path
// and writes it back when anything changed.
func UpdateConfig(path string) error {
	t, err := ReadTableFile(path)
	if err != nil {
		return err
	}
	logger := slog.Default().With("path", path)

	added, err := EnsureSentinel(t)
	if err != nil {
		return err
	}
	if added {
		logger.Info("sentinel row prepended to config")
	} else {
		logger.Info("sentinel row already present, no action taken")
	}

	changed, found := StripTargetPrefixes(t)
	if !found {
		logger.Warn("target field column not found, prefixes left as is")
	} else {
		logger.Info("target field prefixes cleaned", "cells", changed)
	}

	if !added && changed == 0 {
		return nil
	}
	if err := WriteTableFile(path, t); err != nil {
		return types.NewError(types.ErrConfig, "write mapping file", err)
	}
	return nil
}
