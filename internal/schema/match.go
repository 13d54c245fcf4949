package schema

import (
	"sort"
	"strings"
)

// lookup builds the lowercase name/alias table. Fields are registered in
// declaration order, each name before its aliases, and the first
// registration of a key wins.
func lookup(fields []FieldSpec) map[string]string {
	table := make(map[string]string, len(fields)*2)
	register := func(key, canonical string) {
		key = strings.ToLower(key)
		if _, taken := table[key]; !taken {
			table[key] = canonical
		}
	}
	for _, f := range fields {
		register(f.Name, f.Name)
		for _, alias := range f.Aliases {
			if strings.TrimSpace(alias) == "" {
				continue
			}
			register(alias, f.Name)
		}
	}
	return table
}

// Match maps each input column that corresponds to a field (by name or alias,
// case-insensitively) to the field's canonical name. Unmatched columns are
// absent from the result.
func Match(fields []FieldSpec, columns []string) map[string]string {
	table := lookup(fields)
	mapping := make(map[string]string, len(columns))
	for _, col := range columns {
		if canonical, ok := table[strings.ToLower(col)]; ok {
			mapping[col] = canonical
		}
	}
	return mapping
}

// ValidateCoverage reports whether every required field is covered by at
// least one input column. Missing field names are returned sorted.
func ValidateCoverage(fields []FieldSpec, columns []string) (bool, []string) {
	covered := make(map[string]struct{})
	for _, canonical := range Match(fields, columns) {
		covered[canonical] = struct{}{}
	}

	var missing []string
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if _, ok := covered[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	sort.Strings(missing)
	return len(missing) == 0, missing
}

// MapRow renames the matched keys of row to their canonical names, visiting
// columns in input order so that when two columns resolve to the same field
// the later column wins. Unmatched keys are kept verbatim. The input row is
// not modified.
func MapRow(row map[string]any, columns []string, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(row))
	visited := make(map[string]struct{}, len(columns))
	put := func(col string, v any) {
		if canonical, ok := mapping[col]; ok {
			out[canonical] = v
			return
		}
		out[col] = v
	}
	for _, col := range columns {
		v, ok := row[col]
		if !ok {
			continue
		}
		visited[col] = struct{}{}
		put(col, v)
	}

	var extra []string
	for col := range row {
		if _, ok := visited[col]; !ok {
			extra = append(extra, col)
		}
	}
	sort.Strings(extra)
	for _, col := range extra {
		put(col, row[col])
	}
	return out
}
