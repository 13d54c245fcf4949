package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceFields() []FieldSpec {
	return []FieldSpec{
		{Name: "customer_name", Type: TypeString, Required: true, Aliases: []string{"Customer_Name", "customerName", "Customer Name"}},
		{Name: "outstandingamount", Type: TypeNumber, Required: true, Aliases: []string{"Outstanding_amount", "OutstandingAmount"}},
		{Name: "duedate", Type: TypeDate, Required: true, Aliases: []string{"Due_Date", "due-date"}},
		{Name: "notes", Type: TypeString, Required: false},
	}
}

func TestMatch_CaseInsensitiveAndAliases(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		want    map[string]string
	}{
		{
			name:    "aliases",
			columns: []string{"Customer_Name", "Outstanding_amount", "Due_Date"},
			want: map[string]string{
				"Customer_Name":      "customer_name",
				"Outstanding_amount": "outstandingamount",
				"Due_Date":           "duedate",
			},
		},
		{
			name:    "mixed case",
			columns: []string{"CUSTOMER_NAME", "outstanding_amount", "DueDate"},
			want: map[string]string{
				"CUSTOMER_NAME":      "customer_name",
				"outstanding_amount": "outstandingamount",
				"DueDate":            "duedate",
			},
		},
		{
			name:    "unmatched columns omitted",
			columns: []string{"customer_name", "region"},
			want:    map[string]string{"customer_name": "customer_name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(invoiceFields(), tt.columns))
		})
	}
}

func TestMatch_FirstRegistrationWins(t *testing.T) {
	fields := []FieldSpec{
		{Name: "amount", Type: TypeNumber, Aliases: []string{"total"}},
		{Name: "total", Type: TypeNumber},
		{Name: "price", Type: TypeNumber, Aliases: []string{"AMOUNT", " "}},
	}

	got := Match(fields, []string{"Total", "Amount"})
	assert.Equal(t, "amount", got["Total"])
	assert.Equal(t, "amount", got["Amount"])
}

func TestMatch_Idempotent(t *testing.T) {
	columns := []string{"customerName", "OutstandingAmount", "due-date", "extra"}
	first := Match(invoiceFields(), columns)
	second := Match(invoiceFields(), columns)
	assert.Equal(t, first, second)
}

func TestValidateCoverage(t *testing.T) {
	ok, missing := ValidateCoverage(invoiceFields(), []string{"customerName", "OUTSTANDINGAMOUNT", "due-date"})
	assert.True(t, ok)
	assert.Empty(t, missing)

	ok, missing = ValidateCoverage(invoiceFields(), []string{"customerName"})
	assert.False(t, ok)
	assert.Equal(t, []string{"duedate", "outstandingamount"}, missing)
}

func TestValidateCoverage_OptionalFieldsNotRequired(t *testing.T) {
	fields := []FieldSpec{{Name: "notes", Type: TypeString, Required: false}}
	ok, missing := ValidateCoverage(fields, nil)
	assert.True(t, ok)
	assert.Empty(t, missing)
}

func TestMapRow(t *testing.T) {
	columns := []string{"Name", "Amount", "region"}
	mapping := map[string]string{"Name": "name", "Amount": "amount"}
	row := map[string]any{"Name": "Ada", "Amount": "12", "region": "EU"}

	got := MapRow(row, columns, mapping)
	assert.Equal(t, map[string]any{"name": "Ada", "amount": "12", "region": "EU"}, got)
	assert.Equal(t, "Ada", row["Name"], "input row must not be modified")
}

func TestMapRow_LaterColumnWins(t *testing.T) {
	columns := []string{"amount", "Amount"}
	mapping := map[string]string{"amount": "amount", "Amount": "amount"}
	row := map[string]any{"amount": "1", "Amount": "2"}

	got := MapRow(row, columns, mapping)
	assert.Equal(t, "2", got["amount"])
}

func TestFieldSpec_RequiredDefaultsTrue(t *testing.T) {
	var f FieldSpec
	require.NoError(t, json.Unmarshal([]byte(`{"name":"a","type":"NUMBER"}`), &f))
	assert.True(t, f.Required)
	assert.Equal(t, TypeNumber, f.Type)

	require.Error(t, json.Unmarshal([]byte(`{"name":"a","type":"blob"}`), &f))
}

func TestParse(t *testing.T) {
	data := []byte(`
schemas:
  - slug: invoice
    content: "Hi {{ name }}"
    fields:
      - name: name
        type: string
      - name: amount
        type: number
        required: false
        aliases: [Amount, total]
`)
	schemas, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "invoice", schemas[0].Slug)
	assert.True(t, schemas[0].Fields[0].Required)
	assert.False(t, schemas[0].Fields[1].Required)
	assert.Equal(t, []string{"Amount", "total"}, schemas[0].Fields[1].Aliases)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"empty":           `schemas: []`,
		"duplicate slug":  "schemas:\n  - slug: a\n  - slug: a\n",
		"duplicate field": "schemas:\n  - slug: a\n    fields:\n      - {name: x, type: string}\n      - {name: x, type: number}\n",
		"bad type":        "schemas:\n  - slug: a\n    fields:\n      - {name: x, type: blob}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
