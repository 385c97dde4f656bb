// Package query builds declarative graph-pattern queries and evaluates them
// against any statement source. Queries render to SPARQL text for logging and
// debugging; evaluation happens in-process over basic graph patterns.
package query

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/models"
)

// Node is either a variable or a fixed value
type Node struct {
	Var   string
	Value models.Value
}

// Var creates a variable node. A leading '?' is stripped.
func Var(name string) Node {
	return Node{Var: strings.TrimPrefix(name, "?")}
}

// IRI creates a fixed resource node
func IRI(iri models.IRI) Node {
	return Node{Value: models.NewLink(iri)}
}

// Literal creates a fixed value node
func Literal(v models.Value) Node {
	return Node{Value: v}
}

// String creates a fixed plain literal node
func String(s string) Node {
	return Node{Value: models.NewLiteral(s)}
}

// IsVar reports whether the node is a variable
func (n Node) IsVar() bool {
	return n.Var != ""
}

func (n Node) String() string {
	if n.IsVar() {
		return "?" + n.Var
	}
	return n.Value.String()
}

// Has starts a graph pattern with n as subject
func (n Node) Has(predicate models.IRI, object Node) GraphPattern {
	return GraphPattern{{Subject: n, Predicate: IRI(predicate), Object: object}}
}

// IsA starts a graph pattern asserting the type of n
func (n Node) IsA(class models.IRI) GraphPattern {
	return n.Has(models.RDFType, IRI(class))
}

// Pattern is one triple pattern
type Pattern struct {
	Subject   Node
	Predicate Node
	Object    Node
}

func (p Pattern) String() string {
	return p.Subject.String() + " " + p.Predicate.String() + " " + p.Object.String() + " ."
}

func (p Pattern) vars() []string {
	var out []string
	for _, n := range []Node{p.Subject, p.Predicate, p.Object} {
		if n.IsVar() {
			out = append(out, n.Var)
		}
	}
	return out
}

// GraphPattern is a conjunction of triple patterns
type GraphPattern []Pattern

// AndHas adds a pattern sharing the subject of the last pattern
func (g GraphPattern) AndHas(predicate models.IRI, object Node) GraphPattern {
	if len(g) == 0 {
		return g
	}
	return append(g, Pattern{Subject: g[len(g)-1].Subject, Predicate: IRI(predicate), Object: object})
}

// And joins further patterns
func (g GraphPattern) And(others ...GraphPattern) GraphPattern {
	out := append(GraphPattern{}, g...)
	for _, o := range others {
		out = append(out, o...)
	}
	return out
}

func (g GraphPattern) vars() map[string]bool {
	out := make(map[string]bool)
	for _, p := range g {
		for _, v := range p.vars() {
			out[v] = true
		}
	}
	return out
}

func (g GraphPattern) render(b *strings.Builder) {
	b.WriteString("{ ")
	for _, p := range g {
		b.WriteString(p.String())
		b.WriteString(" ")
	}
	b.WriteString("}")
}

func validVarName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func validateWhere(where GraphPattern) error {
	if len(where) == 0 {
		return errors.Wrap(models.ErrMalformedQuery, "empty WHERE clause")
	}
	for i, p := range where {
		if err := validatePattern(p); err != nil {
			return errors.Wrapf(err, "pattern %d", i)
		}
	}
	return nil
}

func validatePattern(p Pattern) error {
	for _, n := range []Node{p.Subject, p.Predicate, p.Object} {
		if n.IsVar() && !validVarName(n.Var) {
			return errors.Wrapf(models.ErrMalformedQuery, "invalid variable name %q", n.Var)
		}
		if !n.IsVar() && n.Value.Kind == "" {
			return errors.Wrap(models.ErrMalformedQuery, "pattern term is neither variable nor value")
		}
	}
	if !p.Subject.IsVar() && !p.Subject.Value.IsLink() {
		return errors.Wrapf(models.ErrMalformedQuery, "subject %s must be a variable or resource", p.Subject)
	}
	if !p.Predicate.IsVar() && !p.Predicate.Value.IsLink() {
		return errors.Wrapf(models.ErrMalformedQuery, "predicate %s must be a variable or resource", p.Predicate)
	}
	return nil
}

// SelectQuery projects variable bindings out of a graph pattern
type SelectQuery struct {
	projection []string
	where      GraphPattern
	limit      int
}

// Select starts a select query. Without arguments every variable of the
// WHERE clause is projected.
func Select(vars ...Node) *SelectQuery {
	q := &SelectQuery{}
	for _, v := range vars {
		q.projection = append(q.projection, v.Var)
	}
	return q
}

// Where appends graph patterns
func (q *SelectQuery) Where(patterns ...GraphPattern) *SelectQuery {
	for _, p := range patterns {
		q.where = append(q.where, p...)
	}
	return q
}

// Limit caps the number of solutions; zero means unbounded
func (q *SelectQuery) Limit(n int) *SelectQuery {
	q.limit = n
	return q
}

// Patterns returns the WHERE clause
func (q *SelectQuery) Patterns() GraphPattern {
	return append(GraphPattern{}, q.where...)
}

// Variables returns the projected variables
func (q *SelectQuery) Variables() []string {
	if len(q.projection) > 0 {
		return append([]string{}, q.projection...)
	}
	var out []string
	seen := make(map[string]bool)
	for _, p := range q.where {
		for _, v := range p.vars() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Validate reports structural problems as ErrMalformedQuery
func (q *SelectQuery) Validate() error {
	if q.limit < 0 {
		return errors.Wrapf(models.ErrMalformedQuery, "negative limit %d", q.limit)
	}
	if err := validateWhere(q.where); err != nil {
		return err
	}
	bound := q.where.vars()
	for _, v := range q.projection {
		if !validVarName(v) {
			return errors.Wrapf(models.ErrMalformedQuery, "invalid variable name %q", v)
		}
		if !bound[v] {
			return errors.Wrapf(models.ErrMalformedQuery, "projected variable ?%s does not occur in WHERE", v)
		}
	}
	return nil
}

// String renders the query as SPARQL
func (q *SelectQuery) String() string {
	var b strings.Builder
	b.WriteString("SELECT")
	if len(q.projection) == 0 {
		b.WriteString(" *")
	}
	for _, v := range q.projection {
		b.WriteString(" ?" + v)
	}
	b.WriteString(" WHERE ")
	q.where.render(&b)
	if q.limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.limit))
	}
	return b.String()
}

// ConstructQuery instantiates a template for every solution of a pattern
type ConstructQuery struct {
	template GraphPattern
	where    GraphPattern
	limit    int
}

// Construct starts a construct query
func Construct(template ...GraphPattern) *ConstructQuery {
	q := &ConstructQuery{}
	for _, t := range template {
		q.template = append(q.template, t...)
	}
	return q
}

// Where appends graph patterns
func (q *ConstructQuery) Where(patterns ...GraphPattern) *ConstructQuery {
	for _, p := range patterns {
		q.where = append(q.where, p...)
	}
	return q
}

// Limit caps the number of solutions used to instantiate the template
func (q *ConstructQuery) Limit(n int) *ConstructQuery {
	q.limit = n
	return q
}

// Validate reports structural problems as ErrMalformedQuery
func (q *ConstructQuery) Validate() error {
	if q.limit < 0 {
		return errors.Wrapf(models.ErrMalformedQuery, "negative limit %d", q.limit)
	}
	if len(q.template) == 0 {
		return errors.Wrap(models.ErrMalformedQuery, "empty CONSTRUCT template")
	}
	if err := validateWhere(q.where); err != nil {
		return err
	}
	bound := q.where.vars()
	for i, p := range q.template {
		if err := validatePattern(p); err != nil {
			return errors.Wrapf(err, "template %d", i)
		}
		for _, v := range p.vars() {
			if !bound[v] {
				return errors.Wrapf(models.ErrMalformedQuery, "template variable ?%s does not occur in WHERE", v)
			}
		}
	}
	return nil
}

// String renders the query as SPARQL
func (q *ConstructQuery) String() string {
	var b strings.Builder
	b.WriteString("CONSTRUCT ")
	q.template.render(&b)
	b.WriteString(" WHERE ")
	q.where.render(&b)
	if q.limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.limit))
	}
	return b.String()
}
