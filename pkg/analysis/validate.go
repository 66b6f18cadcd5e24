package analysis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chatbi-ai/chatbi/pkg/errs"
)

// readVerbs are the statement heads allowed in read-only scenes.
var readVerbs = map[string]bool{
	"select":   true,
	"with":     true,
	"show":     true,
	"explain":  true,
	"desc":     true,
	"describe": true,
}

var limitClause = regexp.MustCompile(`(?i)\blimit\s+(\d+)\s*$`)

// ValidateSQL checks a draft statement and returns the form that will be
// executed. Multi-statement input is rejected outright; writes are
// rejected in read-only scenes; the row ceiling is enforced by clamping
// an existing LIMIT or appending one.
func ValidateSQL(sqlText string, readOnly bool, maxRows int) (string, error) {
	s := strings.TrimSpace(sqlText)
	s = strings.TrimSuffix(s, ";")
	if s == "" {
		return "", errs.New(errs.KindValidation, "empty sql statement")
	}
	if strings.Contains(s, ";") {
		return "", errs.New(errs.KindValidation, "multi-statement sql is not allowed")
	}

	verb := strings.ToLower(firstWord(s))
	if readOnly && !readVerbs[verb] {
		return "", errs.New(errs.KindValidation,
			"statement %q is not allowed in a read-only scene", strings.ToUpper(verb))
	}

	if maxRows > 0 && verb != "show" && verb != "explain" {
		s = clampLimit(s, maxRows)
	}
	return s, nil
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '(' {
			return s[:i]
		}
	}
	return s
}

// clampLimit lowers an existing trailing LIMIT to the ceiling, or
// appends one when absent.
func clampLimit(s string, maxRows int) string {
	if m := limitClause.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n <= maxRows {
			return s
		}
		return limitClause.ReplaceAllString(s, fmt.Sprintf("LIMIT %d", maxRows))
	}
	return fmt.Sprintf("%s LIMIT %d", s, maxRows)
}
