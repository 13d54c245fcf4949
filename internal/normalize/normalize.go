// Package normalize converts coerced row values into their canonical forms:
// the storage form persisted as JSON and the render form handed to templates.
// Missing values are imputed according to the declared field type.
package normalize

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"templr/internal/schema"
)

// Mode selects the output form.
type Mode int

const (
	// ModeStorage renders dates as ISO-8601 strings; every value is JSON-encodable.
	ModeStorage Mode = iota
	// ModeRender keeps dates as time.Time for template consumers.
	ModeRender
)

// Epoch is the imputed value for missing dates.
var Epoch = time.Unix(0, 0).UTC()

// nanSentinels are textual spellings of "not a number" produced by
// spreadsheet exports.
var nanSentinels = map[string]struct{}{
	"NaN":  {},
	"nan":  {},
	"<NA>": {},
}

// IsMissing reports whether v represents an absent value: nil, a typed nil,
// a NaN float, a NaN sentinel string, or a driver.Valuer reporting NULL.
func IsMissing(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	case string:
		_, ok := nanSentinels[x]
		return ok
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		if rv.IsNil() {
			return true
		}
	}

	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		return err == nil && dv == nil
	}
	return false
}

// Impute returns the substitute for a missing value of type t.
func Impute(t schema.FieldType, mode Mode) any {
	switch t {
	case schema.TypeNumber:
		return int64(-1)
	case schema.TypeDate:
		if mode == ModeRender {
			return Epoch
		}
		return FormatDate(Epoch)
	default:
		return ""
	}
}

// FormatDate renders t as an ISO-8601 string.
func FormatDate(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// Storage returns the JSON-ready form of row. types gives the declared type
// of each canonical field; keys without a type are imputed as strings.
func Storage(row map[string]any, types map[string]schema.FieldType) map[string]any {
	return normalizeRow(row, types, ModeStorage)
}

// Render returns the template-ready form of row. Date fields stay time.Time;
// string values of date fields (as read back from storage) are parsed again.
func Render(row map[string]any, types map[string]schema.FieldType) map[string]any {
	return normalizeRow(row, types, ModeRender)
}

func normalizeRow(row map[string]any, types map[string]schema.FieldType, mode Mode) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		t := types[k]
		if mode == ModeRender && t == schema.TypeDate {
			if s, ok := v.(string); ok && !IsMissing(s) {
				if parsed, err := ParseDate(s); err == nil {
					out[k] = parsed
					continue
				}
			}
		}
		out[k] = Value(v, t, mode)
	}
	return out
}

// Value normalizes a single value. Nested maps and slices are normalized
// recursively with no declared type.
func Value(v any, t schema.FieldType, mode Mode) any {
	if IsMissing(v) {
		return Impute(t, mode)
	}

	switch x := v.(type) {
	case string, bool, json.Number:
		return x
	case time.Time:
		if mode == ModeRender {
			return x
		}
		return FormatDate(x)
	case float64:
		// JSON has no representation for infinities.
		if math.IsInf(x, 0) {
			return Impute(t, mode)
		}
		return x
	case float32:
		if math.IsInf(float64(x), 0) {
			return Impute(t, mode)
		}
		return float64(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	case []byte:
		return string(x)
	case map[string]any:
		nested := make(map[string]any, len(x))
		for k, item := range x {
			nested[k] = Value(item, "", mode)
		}
		return nested
	case []any:
		nested := make([]any, len(x))
		for i, item := range x {
			nested[i] = Value(item, "", mode)
		}
		return nested
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return fmt.Sprint(x)
		}
		return Value(dv, t, mode)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		nested := make([]any, rv.Len())
		for i := range nested {
			nested[i] = Value(rv.Index(i).Interface(), "", mode)
		}
		return nested
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			nested := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				nested[iter.Key().String()] = Value(iter.Value().Interface(), "", mode)
			}
			return nested
		}
	case reflect.Ptr:
		return Value(rv.Elem().Interface(), t, mode)
	}
	return fmt.Sprint(v)
}

// dateLayouts are the ISO-8601 forms accepted for dates. Layouts without a
// zone are interpreted as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate parses an ISO-8601 date or date-time. A trailing Z means UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 date %q", s)
}
