package query

import (
	"context"
	"iter"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/models"
)

// Matcher is the statement source queries are evaluated against
type Matcher interface {
	Statements(ctx context.Context, pattern models.Pattern) ([]models.Statement, error)
}

// Binding maps variable names to the values of one solution
type Binding map[string]models.Value

// Value returns the value bound to name
func (b Binding) Value(name string) (models.Value, bool) {
	v, ok := b[name]
	return v, ok
}

// IRI returns the resource bound to name, or "" if it is not a link
func (b Binding) IRI(name string) models.IRI {
	return b[name].IRI()
}

// String returns the lexical form bound to name
func (b Binding) String(name string) string {
	return b[name].Lexical
}

// Bool interprets the binding as an xsd:boolean
func (b Binding) Bool(name string) bool {
	v, ok := b[name]
	return ok && v.IsLiteral() && (v.Lexical == "true" || v.Lexical == "1")
}

func (b Binding) clone() Binding {
	out := make(Binding, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (b Binding) project(vars []string) Binding {
	out := make(Binding, len(vars))
	for _, v := range vars {
		if val, ok := b[v]; ok {
			out[v] = val
		}
	}
	return out
}

// Evaluate lazily yields the solutions of q. Iteration stops after the first
// error.
func Evaluate(ctx context.Context, m Matcher, q *SelectQuery) iter.Seq2[Binding, error] {
	return func(yield func(Binding, error) bool) {
		if err := q.Validate(); err != nil {
			yield(nil, err)
			return
		}
		vars := q.Variables()
		count := 0
		err := solve(ctx, m, q.where, Binding{}, func(b Binding) bool {
			count++
			if !yield(b.project(vars), nil) {
				return false
			}
			return q.limit == 0 || count < q.limit
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// EvaluateConstruct lazily yields the statements built by instantiating the
// template of q once per solution. Statements already yielded are skipped.
func EvaluateConstruct(ctx context.Context, m Matcher, q *ConstructQuery) iter.Seq2[models.Statement, error] {
	return func(yield func(models.Statement, error) bool) {
		if err := q.Validate(); err != nil {
			yield(models.Statement{}, err)
			return
		}
		seen := make(map[string]bool)
		count := 0
		err := solve(ctx, m, q.where, Binding{}, func(b Binding) bool {
			count++
			for _, p := range q.template {
				st, ok := instantiate(p, b)
				if !ok || seen[st.Key()] {
					continue
				}
				seen[st.Key()] = true
				if !yield(st, nil) {
					return false
				}
			}
			return q.limit == 0 || count < q.limit
		})
		if err != nil {
			yield(models.Statement{}, err)
		}
	}
}

// Collect drains a solution sequence into a slice
func Collect(seq iter.Seq2[Binding, error]) ([]Binding, error) {
	var out []Binding
	for b, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// solve walks the patterns depth first, always expanding the remaining
// pattern with the most bound terms next. emit returns false to stop.
func solve(ctx context.Context, m Matcher, remaining GraphPattern, b Binding, emit func(Binding) bool) error {
	_, err := solveStep(ctx, m, remaining, b, emit)
	return err
}

func solveStep(ctx context.Context, m Matcher, remaining GraphPattern, b Binding, emit func(Binding) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.Wrap(err, "query evaluation interrupted")
	}
	if len(remaining) == 0 {
		return emit(b.clone()), nil
	}

	next := mostSelective(remaining, b)
	p := remaining[next]
	rest := make(GraphPattern, 0, len(remaining)-1)
	rest = append(rest, remaining[:next]...)
	rest = append(rest, remaining[next+1:]...)

	mp, ok := resolve(p, b)
	if !ok {
		return true, nil
	}
	statements, err := m.Statements(ctx, mp)
	if err != nil {
		return false, err
	}
	for _, st := range statements {
		extended, ok := extend(p, b, st)
		if !ok {
			continue
		}
		cont, err := solveStep(ctx, m, rest, extended, emit)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

func mostSelective(patterns GraphPattern, b Binding) int {
	best, bestScore := 0, -1
	for i, p := range patterns {
		score := 0
		for _, n := range []Node{p.Subject, p.Predicate, p.Object} {
			if !n.IsVar() {
				score += 2
			} else if _, ok := b[n.Var]; ok {
				score += 2
			}
		}
		if !p.Subject.IsVar() || b[p.Subject.Var].Kind != "" {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func term(n Node, b Binding) (models.Value, bool) {
	if !n.IsVar() {
		return n.Value, true
	}
	v, ok := b[n.Var]
	return v, ok
}

// resolve substitutes bound variables. It reports false when a binding makes
// the pattern unsatisfiable, such as a literal in subject position.
func resolve(p Pattern, b Binding) (models.Pattern, bool) {
	var mp models.Pattern
	if v, ok := term(p.Subject, b); ok {
		if !v.IsLink() {
			return mp, false
		}
		mp.Subject = v.IRI()
	}
	if v, ok := term(p.Predicate, b); ok {
		if !v.IsLink() {
			return mp, false
		}
		mp.Predicate = v.IRI()
	}
	if v, ok := term(p.Object, b); ok {
		obj := v
		mp.Object = &obj
	}
	return mp, true
}

func extend(p Pattern, b Binding, st models.Statement) (Binding, bool) {
	out := b
	copied := false
	bind := func(n Node, v models.Value) bool {
		if !n.IsVar() {
			return true
		}
		if existing, ok := out[n.Var]; ok {
			return existing.Equal(v)
		}
		if !copied {
			out = b.clone()
			copied = true
		}
		out[n.Var] = v
		return true
	}
	if !bind(p.Subject, models.NewLink(st.Subject)) {
		return nil, false
	}
	if !bind(p.Predicate, models.NewLink(st.Predicate)) {
		return nil, false
	}
	if !bind(p.Object, st.Object) {
		return nil, false
	}
	return out, true
}

func instantiate(p Pattern, b Binding) (models.Statement, bool) {
	s, ok := term(p.Subject, b)
	if !ok || !s.IsLink() {
		return models.Statement{}, false
	}
	pr, ok := term(p.Predicate, b)
	if !ok || !pr.IsLink() {
		return models.Statement{}, false
	}
	o, ok := term(p.Object, b)
	if !ok {
		return models.Statement{}, false
	}
	return models.NewStatement(s.IRI(), pr.IRI(), o), true
}
