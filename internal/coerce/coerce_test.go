package coerce

import (
	"errors"
	"math"
	"testing"
	"time"

	"templr/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fields = []schema.FieldSpec{
	{Name: "name", Type: schema.TypeString, Required: true},
	{Name: "amount", Type: schema.TypeNumber, Required: true},
	{Name: "due", Type: schema.TypeDate, Required: false},
}

func TestCoerce_Converts(t *testing.T) {
	row := map[string]any{
		"name":   int64(7),
		"amount": "1500.50",
		"due":    "2025-07-01T00:00:00Z",
		"region": "EU",
	}

	require.NoError(t, Coerce(row, fields))
	assert.Equal(t, "7", row["name"])
	assert.Equal(t, 1500.50, row["amount"])
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), row["due"])
	assert.Equal(t, "EU", row["region"])
}

func TestCoerce_IntegerLiteral(t *testing.T) {
	row := map[string]any{"amount": " 42 "}
	require.NoError(t, Coerce(row, fields))
	assert.Equal(t, int64(42), row["amount"])
}

func TestCoerce_SkipsMissingAndBlank(t *testing.T) {
	row := map[string]any{"name": nil, "amount": "  ", "due": math.NaN()}
	require.NoError(t, Coerce(row, fields))
	assert.Nil(t, row["name"])
	assert.Equal(t, "  ", row["amount"])
	assert.True(t, math.IsNaN(row["due"].(float64)))
}

func TestCoerce_Failures(t *testing.T) {
	tests := []struct {
		name    string
		row     map[string]any
		field   string
		message string
	}{
		{
			name:    "number",
			row:     map[string]any{"amount": "abc"},
			field:   "amount",
			message: "field 'amount' should be number, got invalid value: abc",
		},
		{
			name:    "number exponent without decimal point",
			row:     map[string]any{"amount": "1e5"},
			field:   "amount",
			message: "field 'amount' should be number, got invalid value: 1e5",
		},
		{
			name:    "date format",
			row:     map[string]any{"due": "07/01/2025"},
			field:   "due",
			message: "field 'due' should be date, got invalid value: 07/01/2025",
		},
		{
			name:    "date type",
			row:     map[string]any{"due": 45000.0},
			field:   "due",
			message: "field 'due' should be date, got float64",
		},
		{
			name:    "string type",
			row:     map[string]any{"name": struct{}{}},
			field:   "name",
			message: "field 'name' should be string, got struct {}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Coerce(tt.row, fields)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestCoerce_FirstFailureStops(t *testing.T) {
	row := map[string]any{"name": "ok", "amount": "x", "due": "bad"}
	err := Coerce(row, fields)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "amount", verr.Field)
	assert.Equal(t, "bad", row["due"])
}
