package index

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// dateLiteralRe matches the date forms accepted in front matter: a bare
// ISO date or a full timestamp.
var dateLiteralRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?)?$`)

// dateLayouts are tried in order when decoding a stored date value.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// EncodeValue flattens a Value to its stored text plus type tag. Dates keep
// the text form they were written with; arrays serialize as JSON.
func EncodeValue(v models.Value) (string, models.ValueType) {
	switch v.Type {
	case models.ValueNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64), models.ValueNumber
	case models.ValueBoolean:
		return strconv.FormatBool(v.Bool), models.ValueBoolean
	case models.ValueDate:
		if v.Raw != "" {
			return v.Raw, models.ValueDate
		}
		return v.Date.Format(time.RFC3339), models.ValueDate
	case models.ValueArray:
		list := v.List
		if list == nil {
			list = []string{}
		}
		raw, err := json.Marshal(list)
		if err != nil {
			return "[]", models.ValueArray
		}
		return string(raw), models.ValueArray
	default:
		return v.Str, models.ValueString
	}
}

// DecodeValue reverses EncodeValue. Malformed stored text never fails:
// numbers decode to zero, arrays to the empty list, and unknown tags fall
// back to string, so a damaged index row degrades instead of erroring.
func DecodeValue(raw string, vt models.ValueType) models.Value {
	switch vt {
	case models.ValueNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.NumberValue(0)
		}
		return models.NumberValue(f)
	case models.ValueBoolean:
		return models.BoolValue(raw == "true")
	case models.ValueDate:
		t, ok := parseDateLiteral(raw)
		if !ok {
			return models.Value{Type: models.ValueDate, Raw: raw}
		}
		return models.DateValue(t, raw)
	case models.ValueArray:
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err != nil || list == nil {
			return models.ListValue([]string{})
		}
		return models.ListValue(list)
	default:
		return models.StringValue(raw)
	}
}

// DetectValue classifies a raw front-matter value (as decoded by the YAML
// parser) into a typed Value.
func DetectValue(raw any) models.Value {
	switch v := raw.(type) {
	case nil:
		return models.StringValue("")
	case bool:
		return models.BoolValue(v)
	case int:
		return models.NumberValue(float64(v))
	case int64:
		return models.NumberValue(float64(v))
	case uint64:
		return models.NumberValue(float64(v))
	case float64:
		return models.NumberValue(v)
	case time.Time:
		return models.DateValue(v, "")
	case string:
		if dateLiteralRe.MatchString(v) {
			if t, ok := parseDateLiteral(v); ok {
				return models.DateValue(t, v)
			}
		}
		return models.StringValue(v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, stringify(item))
		}
		return models.ListValue(items)
	case []string:
		return models.ListValue(v)
	default:
		return models.StringValue(stringify(v))
	}
}

func parseDateLiteral(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
