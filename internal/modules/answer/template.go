package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\[\[([A-Za-z0-9_]+)\]\]`)

// RenderTemplate fills [[column]] placeholders from the first result row.
// [[row_count]] expands to the row count. Unknown placeholders render as "-"
// so a half-right template still yields readable output.
func RenderTemplate(template string, res ExecutionResult) string {
	if strings.TrimSpace(template) == "" {
		return ""
	}

	var first map[string]any
	if len(res.Rows) > 0 {
		first = res.Rows[0]
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if name == "row_count" {
			return strconv.Itoa(res.RowCount)
		}
		if first != nil {
			if v, ok := first[name]; ok {
				return formatValue(v)
			}
		}
		return "-"
	})
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', 2, 64)
	case float32:
		return formatValue(float64(t))
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "ya"
		}
		return "tidak"
	default:
		return fmt.Sprintf("%v", t)
	}
}
