package parser

import (
	"fmt"
	"strings"
	"sync"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/nethalo/sqlforge/internal/model"
)

// Statement exposes the node kinds of a parsed SELECT that the decomposer
// needs. Each method finds the nodes of one kind in the outermost query.
type Statement interface {
	FromTables() []TableRef
	Projection() []Projection
	Joins() []JoinNode
	Predicates() []PredicateNode
	GroupBy() []string
	OrderBy() []string
	// Unmodeled lists clauses present in the statement that the structural
	// model does not carry, such as DISTINCT, HAVING and LIMIT.
	Unmodeled() []string
	String() string
}

// TableRef is a table reference with its optional alias.
type TableRef struct {
	Name  string
	Alias string
}

// Text renders the reference as "<name> <alias>".
func (t TableRef) Text() string {
	if t.Alias == "" {
		return t.Name
	}
	return t.Name + " " + t.Alias
}

// Projection is one select expression.
type Projection struct {
	Expr       string
	Alias      string // explicit AS alias, empty when absent
	Star       bool
	IsColumn   bool // bare column reference
	Column     string
	Qualifier  string
	Aggregates []string // aggregation function names in walk order, upper case
}

// JoinNode is one explicit JOIN.
type JoinNode struct {
	Kind  string // INNER, LEFT, RIGHT, CROSS, STRAIGHT_JOIN, NATURAL, ...
	Table TableRef
	On    string
	Using string
}

// PredicateShape identifies the syntactic form of a WHERE predicate.
type PredicateShape int

const (
	ShapeComparison PredicateShape = iota
	ShapeBetween
	ShapeIn
)

// PredicateNode is a comparison, range or set-membership node found in WHERE.
type PredicateNode struct {
	Shape    PredicateShape
	Left     string
	Operator string
	Right    string   // comparison right side, or IN subquery text
	Low      string   // BETWEEN
	High     string   // BETWEEN
	Values   []string // IN value list
}

var (
	parserOnce      sync.Once
	globalParser    *sqlparser.Parser
	globalParserErr error
)

func getParser() (*sqlparser.Parser, error) {
	parserOnce.Do(func() {
		globalParser, globalParserErr = sqlparser.New(sqlparser.Options{})
	})
	return globalParser, globalParserErr
}

// splitQualified splits a possibly-qualified name (db.table or table) into (db, name).
func splitQualified(name string) (string, string) {
	name = strings.Trim(name, "`")
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return strings.Trim(name[:idx], "`"), strings.Trim(name[idx+1:], "`")
	}
	return "", name
}

// Parse parses exactly one SELECT statement.
func Parse(sql string) (Statement, error) {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if sql == "" {
		return nil, model.ErrEmptyInput
	}

	p, err := getParser()
	if err != nil {
		return nil, fmt.Errorf("creating parser: %w", err)
	}

	pieces, err := p.SplitStatementToPieces(sql)
	if err != nil {
		return nil, &model.ParseError{SQL: sql, Reason: "splitting statements", Err: err}
	}
	if len(pieces) > 1 {
		return nil, &model.ParseError{SQL: sql, Reason: fmt.Sprintf("expected a single statement, found %d", len(pieces))}
	}

	stmt, err := p.Parse(sql)
	if err != nil {
		return nil, &model.ParseError{SQL: sql, Reason: "parsing SQL", Err: err}
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, &model.ParseError{SQL: sql, Reason: fmt.Sprintf("not a single SELECT (got %T)", stmt)}
	}
	return &selectStatement{sel: sel}, nil
}

// TableName splits a rendered table reference into database and table.
func TableName(ref string) (string, string) {
	name := ref
	if idx := strings.IndexByte(ref, ' '); idx >= 0 {
		name = ref[:idx]
	}
	return splitQualified(name)
}

type selectStatement struct {
	sel *sqlparser.Select
}

func (s *selectStatement) String() string {
	return sqlparser.String(s.sel)
}

func (s *selectStatement) FromTables() []TableRef {
	var refs []TableRef
	for _, te := range s.sel.From {
		if ref, ok := leftmostTable(te); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// leftmostTable descends the left side of a join tree to its first leaf.
func leftmostTable(te sqlparser.TableExpr) (TableRef, bool) {
	switch t := te.(type) {
	case *sqlparser.AliasedTableExpr:
		return aliasedTableRef(t), true
	case *sqlparser.JoinTableExpr:
		return leftmostTable(t.LeftExpr)
	case nil:
		return TableRef{}, false
	default:
		return TableRef{Name: sqlparser.String(t)}, true
	}
}

func aliasedTableRef(t *sqlparser.AliasedTableExpr) TableRef {
	ref := TableRef{Name: sqlparser.String(t.Expr)}
	if !t.As.IsEmpty() {
		ref.Alias = t.As.String()
	}
	return ref
}

func (s *selectStatement) Projection() []Projection {
	var out []Projection
	for _, se := range s.sel.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			out = append(out, Projection{Expr: sqlparser.String(e), Star: true})
		case *sqlparser.AliasedExpr:
			p := Projection{
				Expr:       sqlparser.String(e.Expr),
				Aggregates: aggregates(e.Expr),
			}
			if !e.As.IsEmpty() {
				p.Alias = e.As.String()
			}
			if col, ok := e.Expr.(*sqlparser.ColName); ok {
				p.IsColumn = true
				p.Column = col.Name.String()
				if !col.Qualifier.IsEmpty() {
					p.Qualifier = sqlparser.String(col.Qualifier)
				}
			}
			out = append(out, p)
		default:
			out = append(out, Projection{Expr: sqlparser.String(se)})
		}
	}
	return out
}

// aggregates lists aggregation function names inside expr in walk order.
func aggregates(expr sqlparser.Expr) []string {
	var names []string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.Count, *sqlparser.CountStar:
			names = append(names, "COUNT")
		case *sqlparser.Sum:
			names = append(names, "SUM")
		case *sqlparser.Avg:
			names = append(names, "AVG")
		case *sqlparser.Max:
			names = append(names, "MAX")
		case *sqlparser.Min:
			names = append(names, "MIN")
		case *sqlparser.GroupConcatExpr:
			names = append(names, "GROUP_CONCAT")
		case sqlparser.AggrFunc:
			names = append(names, funcName(sqlparser.String(n)))
		}
		return true, nil
	}, expr)
	return names
}

func funcName(rendered string) string {
	if idx := strings.IndexByte(rendered, '('); idx > 0 {
		rendered = rendered[:idx]
	}
	return strings.ToUpper(strings.TrimSpace(rendered))
}

func (s *selectStatement) Joins() []JoinNode {
	var out []JoinNode
	for _, te := range s.sel.From {
		out = appendJoins(out, te)
	}
	return out
}

// appendJoins walks a left-deep join tree so joins come out in statement order.
func appendJoins(out []JoinNode, te sqlparser.TableExpr) []JoinNode {
	jt, ok := te.(*sqlparser.JoinTableExpr)
	if !ok {
		return out
	}
	out = appendJoins(out, jt.LeftExpr)

	node := JoinNode{Kind: joinKind(jt)}
	if right, ok := leftmostTable(jt.RightExpr); ok {
		if _, nested := jt.RightExpr.(*sqlparser.JoinTableExpr); nested {
			node.Table = TableRef{Name: "(" + sqlparser.String(jt.RightExpr) + ")"}
		} else {
			node.Table = right
		}
	}
	if jt.Condition != nil {
		if jt.Condition.On != nil {
			node.On = sqlparser.String(jt.Condition.On)
		}
		if len(jt.Condition.Using) > 0 {
			node.Using = "USING " + sqlparser.String(jt.Condition.Using)
		}
	}
	return append(out, node)
}

func joinKind(jt *sqlparser.JoinTableExpr) string {
	switch jt.Join {
	case sqlparser.LeftJoinType:
		return "LEFT"
	case sqlparser.RightJoinType:
		return "RIGHT"
	case sqlparser.StraightJoinType:
		return "STRAIGHT_JOIN"
	case sqlparser.NaturalJoinType:
		return "NATURAL"
	case sqlparser.NaturalLeftJoinType:
		return "NATURAL LEFT"
	case sqlparser.NaturalRightJoinType:
		return "NATURAL RIGHT"
	}
	if jt.Condition == nil || (jt.Condition.On == nil && len(jt.Condition.Using) == 0) {
		return "CROSS"
	}
	return "INNER"
}

var comparisonOps = map[sqlparser.ComparisonExprOperator]string{
	sqlparser.EqualOp:         "=",
	sqlparser.NotEqualOp:      "<>",
	sqlparser.LessThanOp:      "<",
	sqlparser.GreaterThanOp:   ">",
	sqlparser.LessEqualOp:     "<=",
	sqlparser.GreaterEqualOp:  ">=",
	sqlparser.NullSafeEqualOp: "<=>",
	sqlparser.InOp:            "IN",
	sqlparser.NotInOp:         "NOT IN",
	sqlparser.LikeOp:          "LIKE",
	sqlparser.NotLikeOp:       "NOT LIKE",
	sqlparser.RegexpOp:        "REGEXP",
	sqlparser.NotRegexpOp:     "NOT REGEXP",
}

func (s *selectStatement) Predicates() []PredicateNode {
	if s.sel.Where == nil || s.sel.Where.Expr == nil {
		return nil
	}
	var out []PredicateNode
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.ComparisonExpr:
			op, known := comparisonOps[n.Operator]
			if !known {
				op = strings.ToUpper(n.Operator.ToString())
			}
			pn := PredicateNode{Shape: ShapeComparison, Left: sqlparser.String(n.Left), Operator: op}
			if n.Operator == sqlparser.InOp || n.Operator == sqlparser.NotInOp {
				pn.Shape = ShapeIn
				if tuple, ok := n.Right.(sqlparser.ValTuple); ok {
					for _, v := range tuple {
						pn.Values = append(pn.Values, sqlparser.String(v))
					}
				} else {
					pn.Right = sqlparser.String(n.Right)
				}
			} else {
				pn.Right = sqlparser.String(n.Right)
			}
			out = append(out, pn)
		case *sqlparser.BetweenExpr:
			op := "BETWEEN"
			if !n.IsBetween {
				op = "NOT BETWEEN"
			}
			out = append(out, PredicateNode{
				Shape:    ShapeBetween,
				Left:     sqlparser.String(n.Left),
				Operator: op,
				Low:      sqlparser.String(n.From),
				High:     sqlparser.String(n.To),
			})
		}
		return true, nil
	}, s.sel.Where.Expr)
	return out
}

func (s *selectStatement) GroupBy() []string {
	if s.sel.GroupBy == nil {
		return nil
	}
	var out []string
	for _, e := range s.sel.GroupBy.Exprs {
		out = append(out, sqlparser.String(e))
	}
	return out
}

func (s *selectStatement) OrderBy() []string {
	var out []string
	for _, o := range s.sel.OrderBy {
		out = append(out, sqlparser.String(o))
	}
	return out
}

func (s *selectStatement) Unmodeled() []string {
	var out []string
	if s.sel.Distinct {
		out = append(out, "DISTINCT")
	}
	if s.sel.Having != nil && s.sel.Having.Expr != nil {
		out = append(out, "HAVING "+sqlparser.String(s.sel.Having.Expr))
	}
	if l := s.sel.Limit; l != nil && l.Rowcount != nil {
		clause := "LIMIT " + sqlparser.String(l.Rowcount)
		if l.Offset != nil {
			clause += " OFFSET " + sqlparser.String(l.Offset)
		}
		out = append(out, clause)
	}
	if s.sel.Lock != sqlparser.NoLock {
		out = append(out, strings.ToUpper(strings.TrimSpace(s.sel.Lock.ToString())))
	}
	return out
}

// NestedWhere reports whether WHERE contains OR, XOR or NOT nodes, whose
// structure is lost when predicates are flattened.
func (s *selectStatement) NestedWhere() bool {
	if s.sel.Where == nil || s.sel.Where.Expr == nil {
		return false
	}
	nested := false
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlparser.OrExpr, *sqlparser.XorExpr, *sqlparser.NotExpr:
			nested = true
			return false, nil
		}
		return true, nil
	}, s.sel.Where.Expr)
	return nested
}

// HasNestedWhere reports whether stmt exposes WHERE nesting and has any.
func HasNestedWhere(stmt Statement) bool {
	n, ok := stmt.(interface{ NestedWhere() bool })
	return ok && n.NestedWhere()
}

// whereTerms counts the top-level AND terms of WHERE and reports whether
// each is a plain comparison or BETWEEN.
func (s *selectStatement) whereTerms() (int, bool) {
	if s.sel.Where == nil || s.sel.Where.Expr == nil {
		return 0, true
	}
	var terms []sqlparser.Expr
	var split func(e sqlparser.Expr)
	split = func(e sqlparser.Expr) {
		if and, ok := e.(*sqlparser.AndExpr); ok {
			split(and.Left)
			split(and.Right)
			return
		}
		terms = append(terms, e)
	}
	split(s.sel.Where.Expr)

	for _, t := range terms {
		switch t.(type) {
		case *sqlparser.ComparisonExpr, *sqlparser.BetweenExpr:
		default:
			return len(terms), false
		}
	}
	return len(terms), true
}

// FlatWhere reports whether the WHERE of stmt is an AND chain of exactly n
// comparison or BETWEEN terms.
func FlatWhere(stmt Statement, n int) bool {
	w, ok := stmt.(interface{ whereTerms() (int, bool) })
	if !ok {
		return false
	}
	got, flat := w.whereTerms()
	return flat && got == n
}
