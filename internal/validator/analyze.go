package validator

import (
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/askdb/askdb/internal/schema"
)

// binding is one FROM entry visible in a scope. table is empty for
// derived tables and for tables the catalog does not know. columns is set
// for common tables, whose columns come from their query rather than the
// catalog.
type binding struct {
	table   string
	columns map[string]struct{}
}

type scope struct {
	parent   *scope
	bindings map[string]binding
	order    []string
	aliases  map[string]struct{}
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, bindings: map[string]binding{}, aliases: map[string]struct{}{}}
}

func (s *scope) bind(name string, b binding) {
	key := strings.ToLower(name)
	if _, ok := s.bindings[key]; !ok {
		s.order = append(s.order, key)
	}
	s.bindings[key] = b
}

func (s *scope) lookup(name string) (binding, bool) {
	key := strings.ToLower(name)
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.bindings[key]; ok {
			return b, true
		}
	}
	return binding{}, false
}

// resolved reports whether every binding in the scope is a catalog table.
func (s *scope) resolved() bool {
	for _, b := range s.bindings {
		if b.table == "" {
			return false
		}
	}
	return true
}

type analyzer struct {
	desc        *schema.Descriptor
	strict      bool
	violations  []Violation
	ctes        map[string]binding
	seenTables  map[string]struct{}
	seenColumns map[string]struct{}
	anonymous   int
}

func (a *analyzer) hasColumn(b binding, column string) bool {
	if b.columns != nil {
		_, ok := b.columns[strings.ToLower(column)]
		return ok
	}
	return a.desc.HasColumn(b.table, column)
}

func (a *analyzer) add(kind Kind, detail string) {
	a.violations = append(a.violations, Violation{Kind: kind, Detail: detail})
}

func (a *analyzer) unknownTable(name string) {
	key := strings.ToLower(name)
	if _, ok := a.seenTables[key]; ok {
		return
	}
	a.seenTables[key] = struct{}{}
	a.add(KindUnknownTable, fmt.Sprintf("table %q does not exist", name))
}

func (a *analyzer) unknownColumn(column, table string) {
	key := strings.ToLower(table) + "." + strings.ToLower(column)
	if _, ok := a.seenColumns[key]; ok {
		return
	}
	a.seenColumns[key] = struct{}{}
	if table == "" {
		a.add(KindUnknownColumn, fmt.Sprintf("column %q does not exist on any table in scope", column))
		return
	}
	a.add(KindUnknownColumn, fmt.Sprintf("column %q does not exist on table %q", column, table))
}

func (a *analyzer) selectStatement(stmt sqlparser.SelectStatement, parent *scope) {
	switch node := stmt.(type) {
	case *sqlparser.Select:
		a.selectQuery(node, parent)
	case *sqlparser.Union:
		a.selectStatement(node.Left, parent)
		a.selectStatement(node.Right, parent)
		if node.Lock != "" {
			a.add(KindForbiddenConstruct, "locking clauses are not allowed")
		}
	case *sqlparser.ParenSelect:
		a.selectStatement(node.Select, parent)
	}
}

func (a *analyzer) selectQuery(sel *sqlparser.Select, parent *scope) {
	if sel.Lock != "" {
		a.add(KindForbiddenConstruct, "locking clauses are not allowed")
	}

	sc := newScope(parent)
	var joinConditions []sqlparser.Expr
	for _, tableExpr := range sel.From {
		joinConditions = a.tableExpr(tableExpr, sc, parent, joinConditions)
	}
	for _, selectExpr := range sel.SelectExprs {
		if aliased, ok := selectExpr.(*sqlparser.AliasedExpr); ok && !aliased.As.IsEmpty() {
			sc.aliases[strings.ToLower(identString(aliased.As.String()))] = struct{}{}
		}
	}

	for _, selectExpr := range sel.SelectExprs {
		switch node := selectExpr.(type) {
		case *sqlparser.StarExpr:
			a.starQualifier(node, sc)
		case *sqlparser.AliasedExpr:
			a.expr(node.Expr, sc)
		}
	}
	for _, cond := range joinConditions {
		a.expr(cond, sc)
	}
	if sel.Where != nil {
		a.expr(sel.Where.Expr, sc)
	}
	for _, group := range sel.GroupBy {
		a.expr(group, sc)
	}
	if sel.Having != nil {
		a.expr(sel.Having.Expr, sc)
	}
	for _, order := range sel.OrderBy {
		a.expr(order.Expr, sc)
	}
}

// tableExpr binds FROM entries into sc. Derived tables are analysed in
// the enclosing scope because they cannot see their siblings.
func (a *analyzer) tableExpr(node sqlparser.TableExpr, sc, parent *scope, conds []sqlparser.Expr) []sqlparser.Expr {
	switch te := node.(type) {
	case *sqlparser.AliasedTableExpr:
		alias := identString(te.As.String())
		switch expr := te.Expr.(type) {
		case sqlparser.TableName:
			name := identString(expr.Name.String())
			if alias == "" {
				alias = name
			}
			if expr.Qualifier.IsEmpty() {
				if b, ok := a.ctes[strings.ToLower(name)]; ok {
					sc.bind(alias, b)
					return conds
				}
			}
			if strings.EqualFold(name, "dual") && expr.Qualifier.IsEmpty() && !a.desc.HasTable(name) {
				return conds
			}
			if table, ok := a.desc.Table(name); ok {
				sc.bind(alias, binding{table: table.Name})
				return conds
			}
			a.unknownTable(name)
			sc.bind(alias, binding{})
		case *sqlparser.Subquery:
			a.selectStatement(expr.Select, parent)
			if alias == "" {
				a.anonymous++
				alias = fmt.Sprintf("#derived%d", a.anonymous)
			}
			sc.bind(alias, binding{})
		}
	case *sqlparser.ParenTableExpr:
		for _, inner := range te.Exprs {
			conds = a.tableExpr(inner, sc, parent, conds)
		}
	case *sqlparser.JoinTableExpr:
		conds = a.tableExpr(te.LeftExpr, sc, parent, conds)
		conds = a.tableExpr(te.RightExpr, sc, parent, conds)
		if te.Condition.On != nil {
			conds = append(conds, te.Condition.On)
		}
	}
	return conds
}

func (a *analyzer) starQualifier(star *sqlparser.StarExpr, sc *scope) {
	if star.TableName.IsEmpty() {
		return
	}
	name := identString(star.TableName.Name.String())
	if _, ok := sc.lookup(name); ok {
		return
	}
	if _, ok := a.ctes[strings.ToLower(name)]; ok {
		return
	}
	if !a.desc.HasTable(name) {
		a.unknownTable(name)
	}
}

func (a *analyzer) expr(node sqlparser.Expr, sc *scope) {
	if node == nil {
		return
	}
	_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
		switch child := n.(type) {
		case *sqlparser.Subquery:
			a.selectStatement(child.Select, sc)
			return false, nil
		case *sqlparser.ColName:
			a.column(child, sc)
			return false, nil
		}
		return true, nil
	}, node)
}

func (a *analyzer) column(col *sqlparser.ColName, sc *scope) {
	name := identString(col.Name.String())
	if !col.Qualifier.IsEmpty() {
		qualifier := identString(col.Qualifier.Name.String())
		b, ok := sc.lookup(qualifier)
		if !ok || b.table == "" {
			return
		}
		if !a.hasColumn(b, name) {
			a.unknownColumn(name, b.table)
		}
		return
	}

	if _, ok := sc.aliases[strings.ToLower(name)]; ok {
		return
	}
	if a.visibleInAnyScope(name, sc) {
		return
	}
	if !a.chainResolved(sc) {
		return
	}
	if len(sc.bindings) == 1 {
		a.unknownColumn(name, sc.bindings[sc.order[0]].table)
		return
	}
	if a.strict && len(sc.bindings) > 1 {
		a.unknownColumn(name, "")
	}
}

func (a *analyzer) visibleInAnyScope(column string, sc *scope) bool {
	for cur := sc; cur != nil; cur = cur.parent {
		for _, b := range cur.bindings {
			if b.table != "" && a.hasColumn(b, column) {
				return true
			}
		}
	}
	return false
}

func (a *analyzer) chainResolved(sc *scope) bool {
	for cur := sc; cur != nil; cur = cur.parent {
		if !cur.resolved() {
			return false
		}
	}
	return true
}

func identString(s string) string {
	return strings.Trim(s, "`")
}
