package validator

import (
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/askdb/askdb/internal/dbconn"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqltext"
)

type Kind string

const (
	KindSyntax             Kind = "syntax"
	KindUnknownTable       Kind = "unknown_table"
	KindUnknownColumn      Kind = "unknown_column"
	KindForbiddenConstruct Kind = "forbidden_construct"
)

type Violation struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

// Verdict is OK exactly when it carries no violations.
type Verdict struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations"`
}

func NewVerdict(violations []Violation) Verdict {
	if len(violations) == 0 {
		return Verdict{OK: true, Violations: []Violation{}}
	}
	return Verdict{OK: false, Violations: violations}
}

type Options struct {
	// Dialect selects how dialect-only syntax is read. The zero value is
	// SQLite.
	Dialect dbconn.Dialect
	// StrictColumns also flags unqualified columns in multi-table queries
	// when no table in scope has them.
	StrictColumns bool
	// AllowedStatements lists the leading keywords the execution policy
	// accepts. A read statement led by any other keyword is flagged so the
	// repair loop can rewrite it. Empty allows SELECT and WITH.
	AllowedStatements []string
}

type Validator struct {
	opts  Options
	rules rules
}

func New(opts Options) *Validator {
	return &Validator{opts: opts, rules: rulesFor(opts.Dialect)}
}

// Validate checks sqlText against desc without touching a database.
// Violations are reported in order of first appearance.
func Validate(sqlText string, desc *schema.Descriptor) Verdict {
	return New(Options{}).Validate(sqlText, desc)
}

func (v *Validator) Validate(sqlText string, desc *schema.Descriptor) Verdict {
	tokens, err := sqltext.Tokenize(sqlText)
	if err != nil {
		return NewVerdict([]Violation{{Kind: KindSyntax, Detail: err.Error()}})
	}
	statements := sqltext.Statements(tokens)
	switch {
	case len(statements) == 0:
		return NewVerdict([]Violation{{Kind: KindSyntax, Detail: "empty statement"}})
	case len(statements) > 1:
		return NewVerdict([]Violation{{
			Kind:   KindForbiddenConstruct,
			Detail: fmt.Sprintf("expected exactly one statement, found %d", len(statements)),
		}})
	}
	tokens = statements[0]
	names := knownNames(desc, tokens)

	a := &analyzer{
		desc:        desc,
		strict:      v.opts.StrictColumns,
		ctes:        map[string]binding{},
		seenTables:  map[string]struct{}{},
		seenColumns: map[string]struct{}{},
	}

	if leading := strings.ToUpper(tokens[0].Text); !v.allowed(leading) {
		a.add(KindForbiddenConstruct, fmt.Sprintf("%s statements are not allowed by the execution policy (allowed: %s)", leading, strings.Join(v.opts.AllowedStatements, ", ")))
	}

	main := tokens
	if isWord(tokens[0], "WITH") {
		tables, recursive, rest, err := splitWith(tokens)
		if err != nil {
			return NewVerdict([]Violation{{Kind: KindSyntax, Detail: "malformed WITH clause: " + err.Error()}})
		}
		for _, table := range tables {
			key := strings.ToLower(table.name)
			if recursive {
				a.ctes[key] = binding{}
			}
			stmt, violation := v.parse(table.body, names)
			if violation != nil {
				return NewVerdict([]Violation{*violation})
			}
			sel, ok := stmt.(sqlparser.SelectStatement)
			if !ok {
				a.add(KindForbiddenConstruct, fmt.Sprintf("%s statements are not allowed; only SELECT is permitted", statementKind(stmt)))
				a.ctes[key] = binding{}
				continue
			}
			a.selectStatement(sel, nil)
			a.ctes[key] = bindingFor(table, sel)
		}
		main = rest
	}

	stmt, violation := v.parse(main, names)
	if violation != nil {
		return NewVerdict([]Violation{*violation})
	}
	switch node := stmt.(type) {
	case sqlparser.SelectStatement:
		a.selectStatement(node, nil)
	default:
		a.add(KindForbiddenConstruct, fmt.Sprintf("%s statements are not allowed; only SELECT is permitted", statementKind(stmt)))
	}
	return NewVerdict(a.violations)
}

func (v *Validator) allowed(leading string) bool {
	if len(v.opts.AllowedStatements) == 0 || (leading != "SELECT" && leading != "WITH") {
		return true
	}
	for _, kind := range v.opts.AllowedStatements {
		if strings.EqualFold(kind, leading) {
			return true
		}
	}
	return false
}

func (v *Validator) parse(tokens []sqltext.Token, names map[string]struct{}) (sqlparser.Statement, *Violation) {
	stmt, err := sqlparser.Parse(v.rules.render(tokens, names))
	if err != nil {
		return nil, &Violation{Kind: KindSyntax, Detail: err.Error()}
	}
	return stmt, nil
}

func statementKind(stmt sqlparser.Statement) string {
	switch node := stmt.(type) {
	case *sqlparser.Insert:
		return strings.ToUpper(node.Action)
	case *sqlparser.Update:
		return "UPDATE"
	case *sqlparser.Delete:
		return "DELETE"
	case *sqlparser.DDL:
		return strings.ToUpper(node.Action)
	case *sqlparser.DBDDL:
		return strings.ToUpper(node.Action) + " DATABASE"
	case *sqlparser.Set:
		return "SET"
	case *sqlparser.Show:
		return "SHOW"
	case *sqlparser.Use:
		return "USE"
	case *sqlparser.Begin, *sqlparser.Commit, *sqlparser.Rollback:
		return "transaction control"
	default:
		return "non-SELECT"
	}
}
