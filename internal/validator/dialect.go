package validator

import (
	"strings"

	"github.com/askdb/askdb/internal/dbconn"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqltext"
)

// rules map a target dialect's syntax onto the grammar sqlparser accepts.
// Only name resolution depends on the rendered text, so constructs that
// carry no table or column references are dropped or replaced. The
// statement sent to the database is never rewritten.
type rules struct {
	// doubleQuotedStrings lets a double-quoted token compared against a
	// value fall back to a string literal when it names nothing known,
	// as SQLite does.
	doubleQuotedStrings bool
	castOperator        bool
	likeOperators       map[string]struct{}
}

func rulesFor(dialect dbconn.Dialect) rules {
	switch dialect {
	case dbconn.Postgres:
		return rules{castOperator: true, likeOperators: wordSet("ILIKE")}
	case dbconn.DuckDB:
		return rules{castOperator: true, likeOperators: wordSet("ILIKE", "GLOB")}
	default:
		return rules{doubleQuotedStrings: true, likeOperators: wordSet("GLOB")}
	}
}

var castTypeContinuations = wordSet("PRECISION", "VARYING", "WITH", "WITHOUT", "TIME", "ZONE")

var stringFallbackWords = wordSet("LIKE", "GLOB", "THEN", "ELSE")

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

type renderer struct {
	rules   rules
	names   map[string]struct{}
	tokens  []sqltext.Token
	out     strings.Builder
	prevEnd int
}

// render joins tokens back into one statement, keeping the original
// spacing so multi-character operators stay intact.
func (r rules) render(tokens []sqltext.Token, names map[string]struct{}) string {
	w := &renderer{rules: r, names: names, tokens: tokens, prevEnd: -1}
	depth := 0
	var castDepths []int
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case isSymbol(tok, "("):
			depth++
			w.emit(tok, tok.Text)
		case isSymbol(tok, ")"):
			if n := len(castDepths); n > 0 && castDepths[n-1] == depth {
				castDepths = castDepths[:n-1]
			}
			depth--
			w.emit(tok, tok.Text)
		case isWord(tok, "CAST") && isSymbol(w.at(i+1), "("):
			w.emit(tok, tok.Text)
			w.emit(tokens[i+1], "(")
			i++
			depth++
			castDepths = append(castDepths, depth)
		case isWord(tok, "AS") && len(castDepths) > 0 && castDepths[len(castDepths)-1] == depth:
			w.emit(tok, tok.Text)
			w.write("CHAR")
			i = closingParen(tokens, i+1) - 1
		case r.castOperator && isSymbol(tok, ":") && isSymbol(w.at(i+1), ":"):
			i = skipCastType(tokens, i+2) - 1
			w.gap()
		case isWord(tok, "NULLS") && (isWord(w.at(i+1), "FIRST") || isWord(w.at(i+1), "LAST")):
			i++
			w.gap()
		case isWord(tok, "OVER") && isSymbol(w.at(i+1), "("):
			i = closingParen(tokens, i+2)
			w.gap()
		case isWord(tok, "OVER") && w.at(i+1).Kind == sqltext.Word:
			i++
			w.gap()
		case isWord(tok, "FILTER") && isSymbol(w.at(i+1), "(") && isWord(w.at(i+2), "WHERE"):
			i = closingParen(tokens, i+2)
			w.gap()
		case isWord(tok, "IS") && isWord(w.at(i+1), "DISTINCT") && isWord(w.at(i+2), "FROM"):
			w.emit(tok, "<>")
			i += 2
			w.gap()
		case isWord(tok, "IS") && isWord(w.at(i+1), "NOT") && isWord(w.at(i+2), "DISTINCT") && isWord(w.at(i+3), "FROM"):
			w.emit(tok, "<=>")
			i += 3
			w.gap()
		case tok.Kind == sqltext.Word && r.isLikeOperator(tok.Text):
			w.emit(tok, "LIKE")
		case tok.Kind == sqltext.QuotedIdent:
			w.emit(tok, w.quoted(i))
		default:
			w.emit(tok, tok.Text)
		}
	}
	return w.out.String()
}

func (r rules) isLikeOperator(word string) bool {
	_, ok := r.likeOperators[strings.ToUpper(word)]
	return ok
}

func (w *renderer) at(i int) sqltext.Token {
	if i < 0 || i >= len(w.tokens) {
		return sqltext.Token{}
	}
	return w.tokens[i]
}

func (w *renderer) emit(tok sqltext.Token, text string) {
	if w.out.Len() > 0 && tok.Pos != w.prevEnd {
		w.out.WriteByte(' ')
	}
	w.out.WriteString(text)
	w.prevEnd = tok.Pos + len(tok.Text)
}

func (w *renderer) write(text string) {
	w.out.WriteByte(' ')
	w.out.WriteString(text)
	w.gap()
}

func (w *renderer) gap() {
	w.prevEnd = -1
}

// quoted renders a quoted identifier in backticks, or as a string literal
// under the SQLite fallback.
func (w *renderer) quoted(i int) string {
	tok := w.tokens[i]
	name := unquoteIdent(tok.Text)
	if w.rules.doubleQuotedStrings && strings.HasPrefix(tok.Text, `"`) && w.comparedValue(i) {
		if _, known := w.names[strings.ToLower(name)]; !known {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (w *renderer) comparedValue(i int) bool {
	prev := w.at(i - 1)
	if isSymbol(w.at(i+1), ".") || isSymbol(prev, ".") {
		return false
	}
	switch prev.Kind {
	case sqltext.Symbol:
		return prev.Text == "=" || prev.Text == "<" || prev.Text == ">"
	case sqltext.Word:
		_, ok := stringFallbackWords[strings.ToUpper(prev.Text)]
		return ok
	}
	return false
}

// closingParen returns the index of the parenthesis closing the group
// that starts at tokens[from], or len(tokens) when it is unbalanced.
func closingParen(tokens []sqltext.Token, from int) int {
	level := 0
	for k := from; k < len(tokens); k++ {
		switch {
		case isSymbol(tokens[k], "("):
			level++
		case isSymbol(tokens[k], ")"):
			if level == 0 {
				return k
			}
			level--
		}
	}
	return len(tokens)
}

// skipCastType returns the index after a postgres style type name such as
// numeric(10,2), double precision or int[].
func skipCastType(tokens []sqltext.Token, from int) int {
	j := from
	if j < len(tokens) && (tokens[j].Kind == sqltext.Word || tokens[j].Kind == sqltext.QuotedIdent) {
		j++
	}
	for j < len(tokens) {
		tok := tokens[j]
		switch {
		case tok.Kind == sqltext.Word:
			if _, ok := castTypeContinuations[strings.ToUpper(tok.Text)]; !ok {
				return j
			}
			j++
		case isSymbol(tok, "("):
			j = closingParen(tokens, j+1) + 1
		case tok.Kind == sqltext.QuotedIdent && strings.HasPrefix(tok.Text, "["):
			j++
		default:
			return j
		}
	}
	return j
}

// knownNames collects every table and column name in desc plus names
// introduced with AS, lower-cased.
func knownNames(desc *schema.Descriptor, tokens []sqltext.Token) map[string]struct{} {
	names := map[string]struct{}{}
	if desc != nil {
		for _, table := range desc.Tables() {
			names[strings.ToLower(table.Name)] = struct{}{}
			for _, column := range table.Columns {
				names[strings.ToLower(column.Name)] = struct{}{}
			}
		}
	}
	for i, tok := range tokens {
		if i > 0 && isWord(tokens[i-1], "AS") && (tok.Kind == sqltext.Word || tok.Kind == sqltext.QuotedIdent) {
			names[strings.ToLower(unquoteIdent(tok.Text))] = struct{}{}
		}
		if i+1 < len(tokens) && isWord(tokens[i+1], "AS") && (tok.Kind == sqltext.Word || tok.Kind == sqltext.QuotedIdent) {
			names[strings.ToLower(unquoteIdent(tok.Text))] = struct{}{}
		}
	}
	return names
}

func unquoteIdent(text string) string {
	if len(text) < 2 {
		return text
	}
	switch text[0] {
	case '"':
		return strings.ReplaceAll(text[1:len(text)-1], `""`, `"`)
	case '`':
		return strings.ReplaceAll(text[1:len(text)-1], "``", "`")
	case '[':
		return text[1 : len(text)-1]
	}
	return text
}

func isWord(tok sqltext.Token, word string) bool {
	return tok.Kind == sqltext.Word && strings.EqualFold(tok.Text, word)
}

func isSymbol(tok sqltext.Token, symbol string) bool {
	return tok.Kind == sqltext.Symbol && tok.Text == symbol
}
