package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/askdb/askdb/internal/sqltext"
)

type commonTable struct {
	name    string
	columns []string
	body    []sqltext.Token
}

// splitWith separates a leading WITH clause into its common table
// expressions and the main query.
func splitWith(tokens []sqltext.Token) ([]commonTable, bool, []sqltext.Token, error) {
	var (
		tables    []commonTable
		recursive bool
	)
	i := 1
	if i < len(tokens) && isWord(tokens[i], "RECURSIVE") {
		recursive = true
		i++
	}
	for {
		if i >= len(tokens) || !isName(tokens[i]) {
			return nil, false, nil, errors.New("expected a table name")
		}
		table := commonTable{name: unquoteIdent(tokens[i].Text)}
		i++
		if i < len(tokens) && isSymbol(tokens[i], "(") {
			end := closingParen(tokens, i+1)
			if end >= len(tokens) {
				return nil, false, nil, fmt.Errorf("unbalanced column list for %q", table.name)
			}
			for _, tok := range tokens[i+1 : end] {
				if isName(tok) {
					table.columns = append(table.columns, unquoteIdent(tok.Text))
				}
			}
			i = end + 1
		}
		if i >= len(tokens) || !isWord(tokens[i], "AS") {
			return nil, false, nil, fmt.Errorf("expected AS after %q", table.name)
		}
		i++
		if i < len(tokens) && isWord(tokens[i], "NOT") {
			i++
		}
		if i < len(tokens) && isWord(tokens[i], "MATERIALIZED") {
			i++
		}
		if i >= len(tokens) || !isSymbol(tokens[i], "(") {
			return nil, false, nil, fmt.Errorf("expected a parenthesised query for %q", table.name)
		}
		end := closingParen(tokens, i+1)
		if end >= len(tokens) {
			return nil, false, nil, fmt.Errorf("unbalanced query for %q", table.name)
		}
		table.body = tokens[i+1 : end]
		tables = append(tables, table)
		i = end + 1
		if i < len(tokens) && isSymbol(tokens[i], ",") {
			i++
			continue
		}
		break
	}
	if i >= len(tokens) {
		return nil, false, nil, errors.New("missing main query")
	}
	return tables, recursive, tokens[i:], nil
}

// bindingFor exposes a common table with the columns its query names.
// A star or an unnamed expression leaves the columns unknown.
func bindingFor(table commonTable, stmt sqlparser.SelectStatement) binding {
	if len(table.columns) > 0 {
		columns := make(map[string]struct{}, len(table.columns))
		for _, column := range table.columns {
			columns[strings.ToLower(column)] = struct{}{}
		}
		return binding{table: table.name, columns: columns}
	}
	columns, ok := outputColumns(stmt)
	if !ok {
		return binding{}
	}
	return binding{table: table.name, columns: columns}
}

func outputColumns(stmt sqlparser.SelectStatement) (map[string]struct{}, bool) {
	switch node := stmt.(type) {
	case *sqlparser.Union:
		return outputColumns(node.Left)
	case *sqlparser.ParenSelect:
		return outputColumns(node.Select)
	case *sqlparser.Select:
		columns := map[string]struct{}{}
		for _, selectExpr := range node.SelectExprs {
			aliased, ok := selectExpr.(*sqlparser.AliasedExpr)
			if !ok {
				return nil, false
			}
			if !aliased.As.IsEmpty() {
				columns[strings.ToLower(aliased.As.String())] = struct{}{}
				continue
			}
			col, ok := aliased.Expr.(*sqlparser.ColName)
			if !ok {
				return nil, false
			}
			columns[strings.ToLower(col.Name.String())] = struct{}{}
		}
		return columns, true
	}
	return nil, false
}

func isName(tok sqltext.Token) bool {
	return tok.Kind == sqltext.Word || tok.Kind == sqltext.QuotedIdent
}
