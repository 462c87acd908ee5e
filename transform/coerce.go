package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateLayout is how date values are rendered when written as text.
const DateLayout = "2006-01-02 15:04:05"

func isMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []byte:
		return strings.TrimSpace(string(x)) == ""
	}
	return false
}

// CoerceDate parses v into a time.Time. Anything that cannot be read as a
// date, missing values included, becomes nil; failure is never an error.
func CoerceDate(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	if isMissing(v) {
		return nil
	}
	s := strings.TrimSpace(toText(v))
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil
	}
	return t
}

// CoerceString renders v as text. A null stays null.
func CoerceString(v any) any {
	if v == nil {
		return nil
	}
	return toText(v)
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(DateLayout)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// FormatValue renders a cell for text output. Null becomes the empty string.
func FormatValue(v any) string {
	if v == nil {
		return ""
	}
	return toText(v)
}
