// Package coerce validates mapped row values against schema field types and
// converts them in place.
package coerce

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"templr/internal/normalize"
	"templr/internal/schema"
)

// ValidationError reports a value that cannot be converted to its declared type.
type ValidationError struct {
	Field    string
	Expected schema.FieldType
	// Got is the offending raw value for parse failures, or the runtime type
	// name when the value's kind cannot be converted at all.
	Got       string
	typeError bool
}

func (e *ValidationError) Error() string {
	if e.typeError {
		return fmt.Sprintf("field '%s' should be %s, got %s", e.Field, e.Expected, e.Got)
	}
	return fmt.Sprintf("field '%s' should be %s, got invalid value: %s", e.Field, e.Expected, e.Got)
}

// Coerce converts the values of row whose keys are schema fields to the
// declared types. Missing and blank values are left for imputation. Keys that
// are not fields pass through untouched. The first failure is returned.
func Coerce(row map[string]any, fields []schema.FieldSpec) error {
	for _, f := range fields {
		v, ok := row[f.Name]
		if !ok || skip(v) {
			continue
		}

		var (
			out any
			err error
		)
		switch f.Type {
		case schema.TypeString:
			out, err = toString(f.Name, v)
		case schema.TypeNumber:
			out, err = toNumber(f.Name, v)
		case schema.TypeDate:
			out, err = toDate(f.Name, v)
		default:
			continue
		}
		if err != nil {
			return err
		}
		row[f.Name] = out
	}
	return nil
}

func skip(v any) bool {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return normalize.IsMissing(v)
}

func toString(field string, v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.Format(time.RFC3339), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(x), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return nil, &ValidationError{Field: field, Expected: schema.TypeString, Got: fmt.Sprintf("%T", v), typeError: true}
}

func toNumber(field string, v any) (any, error) {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(x)
		if strings.Contains(s, ".") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, &ValidationError{Field: field, Expected: schema.TypeNumber, Got: x}
			}
			return f, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, &ValidationError{Field: field, Expected: schema.TypeNumber, Got: x}
		}
		return n, nil
	}
	return nil, &ValidationError{Field: field, Expected: schema.TypeNumber, Got: fmt.Sprint(v)}
}

func toDate(field string, v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		t, err := normalize.ParseDate(x)
		if err != nil {
			return nil, &ValidationError{Field: field, Expected: schema.TypeDate, Got: x}
		}
		return t, nil
	}
	return nil, &ValidationError{Field: field, Expected: schema.TypeDate, Got: fmt.Sprintf("%T", v), typeError: true}
}
