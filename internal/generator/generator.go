// Package generator compiles query documents and schema changes into CQL
// statement text with positional bound parameters.
package generator

import (
	"fmt"
	"strings"
)

// Statement is compiled CQL text and its bound parameters in placeholder
// order.
type Statement struct {
	Query  string
	Params []any
}

// GenerateScript renders statements as a CQL script, one statement per
// line. Bound parameters are listed in a trailing comment.
func GenerateScript(stmts []Statement) string {
	var lines []string
	for _, s := range stmts {
		if s.Query == "" {
			continue
		}
		line := s.Query
		if len(s.Params) > 0 {
			line += fmt.Sprintf(" -- params: %v", s.Params)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
