package config

import (
	"strings"
	"unicode"
)

// SplitQuotedFields splits in around whitespace like strings.Fields,
// except that whitespace between two quote characters is kept. Inside a
// quoted area a backslash escapes the next character, so '\'' yields a
// single quote. Empty quoted areas produce empty fields.
//
// It is used for the interpreter options of a launch, which are a single
// string in the launch option syntax.
func SplitQuotedFields(in string, quote rune) []string {
	const (
		inSpace = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	fields := []string{}
	var cur strings.Builder
	started := false

	for _, ch := range in {
		switch state {
		case inSpace, inField:
			switch {
			case ch == quote:
				state, started = inQuote, true
			case unicode.IsSpace(ch):
				if started {
					fields = append(fields, cur.String())
					cur.Reset()
					started = false
				}
				state = inSpace
			default:
				cur.WriteRune(ch)
				state, started = inField, true
			}
		case inQuote:
			switch ch {
			case quote:
				state = inField
			case '\\':
				state = inQuoteEscaped
			default:
				cur.WriteRune(ch)
			}
		case inQuoteEscaped:
			cur.WriteRune(ch)
			state = inQuote
		}
	}
	if started {
		fields = append(fields, cur.String())
	}
	return fields
}
