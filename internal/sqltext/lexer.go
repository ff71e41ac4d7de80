package sqltext

import (
	"fmt"
	"strings"
)

type TokenKind int

const (
	Word TokenKind = iota + 1
	Number
	String
	QuotedIdent
	Symbol
)

type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// Tokenize splits sqlText into tokens, dropping whitespace and comments.
// String literals use standard SQL quoting ('' escapes a quote); a
// backslash has no special meaning. Unterminated literals, quoted
// identifiers and block comments are errors.
func Tokenize(sqlText string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		switch {
		case isSpace(c):
			i++
		case c == '-' && i+1 < len(sqlText) && sqlText[i+1] == '-':
			i = skipLine(sqlText, i)
		case c == '/' && i+1 < len(sqlText) && sqlText[i+1] == '*':
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				return tokens, fmt.Errorf("unterminated comment at position %d", i)
			}
			i += end + 4
		case c == '\'':
			end, err := scanQuoted(sqlText, i, '\'')
			if err != nil {
				return tokens, fmt.Errorf("unterminated string literal at position %d", i)
			}
			tokens = append(tokens, Token{Kind: String, Text: sqlText[i:end], Pos: i})
			i = end
		case c == '"' || c == '`':
			end, err := scanQuoted(sqlText, i, c)
			if err != nil {
				return tokens, fmt.Errorf("unterminated quoted identifier at position %d", i)
			}
			tokens = append(tokens, Token{Kind: QuotedIdent, Text: sqlText[i:end], Pos: i})
			i = end
		case c == '[':
			end := strings.IndexByte(sqlText[i:], ']')
			if end < 0 {
				return tokens, fmt.Errorf("unterminated quoted identifier at position %d", i)
			}
			tokens = append(tokens, Token{Kind: QuotedIdent, Text: sqlText[i : i+end+1], Pos: i})
			i += end + 1
		case isWordStart(c):
			start := i
			for i < len(sqlText) && isWordPart(sqlText[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: Word, Text: sqlText[start:i], Pos: start})
		case isDigit(c):
			start := i
			for i < len(sqlText) && (isDigit(sqlText[i]) || sqlText[i] == '.' || isWordPart(sqlText[i])) {
				i++
			}
			tokens = append(tokens, Token{Kind: Number, Text: sqlText[start:i], Pos: start})
		default:
			tokens = append(tokens, Token{Kind: Symbol, Text: string(c), Pos: i})
			i++
		}
	}
	return tokens, nil
}

// LeadingKeyword returns the first word of the statement in upper case,
// skipping comments and opening parentheses.
func LeadingKeyword(tokens []Token) string {
	for _, token := range tokens {
		if token.Kind == Symbol && token.Text == "(" {
			continue
		}
		if token.Kind == Word {
			return strings.ToUpper(token.Text)
		}
		return ""
	}
	return ""
}

// Statements splits tokens on top-level semicolons and drops empty statements.
func Statements(tokens []Token) [][]Token {
	var statements [][]Token
	var current []Token
	for _, token := range tokens {
		if token.Kind == Symbol && token.Text == ";" {
			if len(current) > 0 {
				statements = append(statements, current)
			}
			current = nil
			continue
		}
		current = append(current, token)
	}
	if len(current) > 0 {
		statements = append(statements, current)
	}
	return statements
}

// FindKeywords reports, in order of first appearance, which of keywords
// occur as bare words. Literals and quoted identifiers never match.
func FindKeywords(tokens []Token, keywords []string) []string {
	wanted := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		wanted[strings.ToUpper(keyword)] = struct{}{}
	}
	var found []string
	seen := map[string]struct{}{}
	for _, token := range tokens {
		if token.Kind != Word {
			continue
		}
		upper := strings.ToUpper(token.Text)
		if _, ok := wanted[upper]; !ok {
			continue
		}
		if _, dup := seen[upper]; dup {
			continue
		}
		seen[upper] = struct{}{}
		found = append(found, upper)
	}
	return found
}

func scanQuoted(s string, start int, quote byte) (int, error) {
	i := start + 1
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated")
}

func skipLine(s string, i int) int {
	for i < len(s) && s[i] != '\n' {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}
