// Package tabular implements a small flat-table store backed by an xlsx
// workbook. Each logical table is one sheet: row 1 is the header, data rows
// follow, and lookups are linear scans. Column names are resolved through a
// canonicalization function so that headers written by different producers
// (`case_id`, `caseId`, `CaseID`) address the same column. Headers only ever
// grow; missing required columns are appended before a write that needs them.
package tabular

import "strings"

// Canon normalizes a column name for alias-tolerant resolution: whitespace,
// underscores and hyphens are stripped and the result is lowercased.
// Canon("case_id") == Canon("caseId") == Canon("CaseID") == "caseid".
func Canon(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(name))
}

// Columns maps canonical column names to zero-based column indexes.
// It is rebuilt from the live header on every access and never cached across
// calls, so concurrent header growth elsewhere is tolerated.
type Columns map[string]int

// Col resolves a logical column name to its index.
func (c Columns) Col(name string) (int, bool) {
	i, ok := c[Canon(name)]
	return i, ok
}
