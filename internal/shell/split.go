// Package shell provides bash-aware helpers for the terminal engine: safe
// statement splitting and the escaping needed to push literal command text
// through a terminal's key delivery.
package shell

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Split parses command as bash and returns its top-level statements, each
// printed back as source text. Quoting, heredocs, escapes, and operators
// like && and | are respected, so "echo 'a;b'" stays one statement while
// "echo a\necho b" splits into two.
//
// When command cannot be parsed at all, it is returned unchanged as a single
// statement: the shell itself will produce the authoritative error message.
func Split(command string) []string {
	parser := syntax.NewParser(syntax.KeepComments(false))
	printer := syntax.NewPrinter()

	var stmts []string
	err := parser.Stmts(strings.NewReader(command), func(stmt *syntax.Stmt) bool {
		var sb strings.Builder
		if err := printer.Print(&sb, stmt); err != nil {
			return false
		}
		stmts = append(stmts, strings.TrimSpace(sb.String()))
		return true
	})
	if err != nil || len(stmts) == 0 {
		return []string{command}
	}
	return stmts
}

// EscapeSpecialChars doubles backslash escape sequences that appear outside
// single quotes, so that text like `echo \n` survives terminal key delivery
// as the two characters the user typed instead of a rendered newline.
func EscapeSpecialChars(command string) string {
	var (
		sb       strings.Builder
		inSingle bool
		inDouble bool
	)
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			sb.WriteRune(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			sb.WriteRune(c)
		case c == '\\' && !inSingle && i+1 < len(runes):
			next := runes[i+1]
			if next == 'n' || next == 't' || next == 'r' || next == 'b' || next == 'a' || next == 'f' || next == 'v' {
				sb.WriteString(`\\`)
				sb.WriteRune(next)
				i++
				continue
			}
			sb.WriteRune(c)
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String()
}
