// Package sqlsplit splits SQL scripts into individual statements.
//
// Semicolons end statements except inside single-quoted strings (including
// E'...' strings with backslash escapes), double-quoted and backquoted
// identifiers, line and block comments, and PostgreSQL dollar-quoted bodies
// such as DO $$ BEGIN ... END $$. The MySQL option switches to MySQL's
// lexical rules.
package sqlsplit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnterminated is returned when a script ends inside a quote, comment or
// dollar-quoted body.
var ErrUnterminated = errors.New("unterminated")

// Option adjusts the lexical rules of Split.
type Option func(*rules)

type rules struct {
	backslash    bool
	hashComments bool
	dollarQuotes bool
}

// MySQL makes backslash an escape in every quoted string, starts line
// comments at '#' and disables dollar quoting.
func MySQL() Option {
	return func(r *rules) {
		r.backslash = true
		r.hashComments = true
		r.dollarQuotes = false
	}
}

// Split returns the statements of script, trimmed, without their
// terminating semicolons. Comments before a statement's first token are not
// part of it, and statements consisting only of comments are dropped.
func Split(script string, opts ...Option) ([]string, error) {
	r := rules{dollarQuotes: true}
	for _, opt := range opts {
		opt(&r)
	}

	var (
		stmts   []string
		start   = -1
		hasCode bool
		line    = 1
	)

	code := func(i int) {
		if !hasCode {
			start = i
			hasCode = true
		}
	}
	flush := func(end int) {
		if hasCode {
			stmts = append(stmts, strings.TrimSpace(script[start:end]))
		}
		hasCode = false
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\n':
			line++

		case c == '-' && peek(script, i+1) == '-', c == '#' && r.hashComments:
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = len(script)
				continue
			}
			i += end - 1

		case c == '/' && peek(script, i+1) == '*':
			end, lines, err := skipBlockComment(script, i)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			line += lines
			i = end

		case c == '\'':
			code(i)
			escapes := r.backslash || i > 0 && (script[i-1] == 'E' || script[i-1] == 'e') &&
				(i == 1 || !isIdentChar(script[i-2]))
			end, lines, err := skipQuoted(script, i, '\'', escapes)
			if err != nil {
				return nil, fmt.Errorf("line %d: string literal: %w", line, err)
			}
			line += lines
			i = end

		case c == '"':
			code(i)
			end, lines, err := skipQuoted(script, i, '"', r.backslash)
			if err != nil {
				return nil, fmt.Errorf("line %d: double-quoted token: %w", line, err)
			}
			line += lines
			i = end

		case c == '`':
			code(i)
			end, lines, err := skipQuoted(script, i, '`', false)
			if err != nil {
				return nil, fmt.Errorf("line %d: backquoted identifier: %w", line, err)
			}
			line += lines
			i = end

		case c == '$' && r.dollarQuotes:
			code(i)
			tag, ok := dollarTag(script, i)
			if !ok {
				continue
			}
			body := strings.Index(script[i+len(tag):], tag)
			if body < 0 {
				return nil, fmt.Errorf("line %d: dollar-quoted body %s: %w", line, tag, ErrUnterminated)
			}
			end := i + len(tag) + body + len(tag) - 1
			line += strings.Count(script[i:end+1], "\n")
			i = end

		case c == ';':
			flush(i)

		case c == ' ' || c == '\t' || c == '\r':

		default:
			code(i)
		}
	}
	flush(len(script))
	return stmts, nil
}

func peek(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// skipQuoted returns the index of the closing quote of the literal opened at
// s[start]. A doubled quote is an escaped quote.
func skipQuoted(s string, start int, quote byte, backslash bool) (int, int, error) {
	lines := 0
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\n':
			lines++
		case '\\':
			if backslash {
				i++
			}
		case quote:
			if peek(s, i+1) == quote {
				i++
				continue
			}
			return i, lines, nil
		}
	}
	return 0, 0, ErrUnterminated
}

// skipBlockComment handles nested /* */ comments and returns the index of
// the final '/'.
func skipBlockComment(s string, start int) (int, int, error) {
	depth, lines := 0, 0
	for i := start; i < len(s); i++ {
		switch {
		case s[i] == '\n':
			lines++
		case s[i] == '/' && peek(s, i+1) == '*':
			depth++
			i++
		case s[i] == '*' && peek(s, i+1) == '/':
			depth--
			i++
			if depth == 0 {
				return i, lines, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("block comment: %w", ErrUnterminated)
}

// dollarTag returns the tag ("$$" or "$name$") starting at s[i]. Positional
// parameters such as $1 are not tags.
func dollarTag(s string, i int) (string, bool) {
	if i > 0 && isIdentChar(s[i-1]) {
		return "", false
	}
	j := i + 1
	for j < len(s) && s[j] != '$' {
		c := s[j]
		if !(c == '_' || isLetter(c) || (j > i+1 && isDigit(c))) {
			return "", false
		}
		j++
	}
	if j >= len(s) {
		return "", false
	}
	return s[i : j+1], true
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80 }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

func isIdentChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_' || c == '$'
}
