package papersources

import (
	"regexp"
	"strings"
)

// fieldTagPattern matches portable field-prefixed terms of the form
// field:value or field:"quoted value".
var fieldTagPattern = regexp.MustCompile(`\b(title|author|journal|abstract|year):("[^"]*"|\S+)`)

// booleanPattern matches lowercase boolean operators between terms.
var booleanPattern = regexp.MustCompile(`\b(and|or|not)\b`)

// TranslateFields rewrites field-prefixed terms (title:, author:, journal:,
// abstract:, year:) using the supplied translate function, which receives the
// field name and its value (quotes preserved) and returns the replacement
// text. Returning field + ":" + value leaves a term untouched. Text outside
// recognized field terms passes through unchanged.
func TranslateFields(query string, translate func(field, value string) string) string {
	return fieldTagPattern.ReplaceAllStringFunc(query, func(match string) string {
		field, value, _ := strings.Cut(match, ":")
		return translate(field, value)
	})
}

// UppercaseBooleans uppercases the boolean operators and, or and not outside
// quoted phrases, since both PubMed and Europe PMC require them uppercase.
func UppercaseBooleans(query string) string {
	parts := strings.Split(query, `"`)
	for i := 0; i < len(parts); i += 2 {
		parts[i] = booleanPattern.ReplaceAllStringFunc(parts[i], strings.ToUpper)
	}
	return strings.Join(parts, `"`)
}

// QuoteTerm wraps a term in double quotes unless it is already quoted.
func QuoteTerm(value string) string {
	if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) && len(value) >= 2 {
		return value
	}
	return `"` + value + `"`
}
