package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IRI identifies a subject, a predicate or a link target
type IRI string

// String returns the raw identifier
func (i IRI) String() string {
	return string(i)
}

// ValueKind discriminates the object position of a statement
type ValueKind string

const (
	KindLiteral   ValueKind = "literal"
	KindLink      ValueKind = "link"
	KindAnonymous ValueKind = "anonymous"
)

// Value is the object of a statement. For links Lexical holds the target IRI,
// for anonymous nodes the blank node label.
type Value struct {
	Kind     ValueKind `json:"kind"`
	Lexical  string    `json:"value"`
	Language string    `json:"lang,omitempty"`
	Datatype IRI       `json:"datatype,omitempty"`
}

// NewLiteral creates a plain, untagged literal
func NewLiteral(lexical string) Value {
	return Value{Kind: KindLiteral, Lexical: lexical}
}

// NewLangLiteral creates a literal carrying a language tag
func NewLangLiteral(lexical, lang string) Value {
	return Value{Kind: KindLiteral, Lexical: lexical, Language: lang}
}

// NewTypedLiteral creates a literal with an explicit datatype
func NewTypedLiteral(lexical string, datatype IRI) Value {
	if datatype == XSDString {
		datatype = ""
	}
	return Value{Kind: KindLiteral, Lexical: lexical, Datatype: datatype}
}

// NewBoolLiteral creates an xsd:boolean literal
func NewBoolLiteral(b bool) Value {
	if b {
		return NewTypedLiteral("true", XSDBoolean)
	}
	return NewTypedLiteral("false", XSDBoolean)
}

// NewLink creates a reference to another resource
func NewLink(target IRI) Value {
	return Value{Kind: KindLink, Lexical: string(target)}
}

// NewAnonymous creates an unaddressable node
func NewAnonymous(label string) Value {
	return Value{Kind: KindAnonymous, Lexical: label}
}

func (v Value) IsLiteral() bool   { return v.Kind == KindLiteral }
func (v Value) IsLink() bool      { return v.Kind == KindLink }
func (v Value) IsAnonymous() bool { return v.Kind == KindAnonymous }

// HasLanguage reports whether the value is a literal with a language tag
func (v Value) HasLanguage() bool {
	return v.Kind == KindLiteral && v.Language != ""
}

// IRI returns the link target. It is empty for non-link values.
func (v Value) IRI() IRI {
	if v.Kind != KindLink {
		return ""
	}
	return IRI(v.Lexical)
}

// Equal compares two values. Language tags compare case-insensitively.
func (v Value) Equal(other Value) bool {
	return v.Kind == other.Kind &&
		v.Lexical == other.Lexical &&
		v.Datatype == other.Datatype &&
		strings.EqualFold(v.Language, other.Language)
}

// SameLanguage reports whether both literals carry the same language tag
func (v Value) SameLanguage(other Value) bool {
	return strings.EqualFold(v.Language, other.Language)
}

// String renders the value in N-Triples term syntax
func (v Value) String() string {
	switch v.Kind {
	case KindLink:
		return "<" + v.Lexical + ">"
	case KindAnonymous:
		return "_:" + v.Lexical
	default:
		s := `"` + EscapeLiteral(v.Lexical) + `"`
		if v.Language != "" {
			return s + "@" + v.Language
		}
		if v.Datatype != "" {
			return s + "^^<" + string(v.Datatype) + ">"
		}
		return s
	}
}

// EscapeLiteral escapes a lexical form for N-Triples output
func EscapeLiteral(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Statement is a subject-predicate-object triple
type Statement struct {
	Subject   IRI   `json:"subject"`
	Predicate IRI   `json:"predicate"`
	Object    Value `json:"object"`
}

// NewStatement creates a statement
func NewStatement(subject, predicate IRI, object Value) Statement {
	return Statement{Subject: subject, Predicate: predicate, Object: object}
}

// Equal compares two statements
func (s Statement) Equal(other Statement) bool {
	return s.Subject == other.Subject && s.Predicate == other.Predicate && s.Object.Equal(other.Object)
}

// Key returns a string usable as a map key for set semantics
func (s Statement) Key() string {
	o := s.Object
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s\x00%s",
		s.Subject, s.Predicate, o.Kind, o.Lexical, strings.ToLower(o.Language), o.Datatype)
}

// String renders the statement as an N-Triples line without the final dot
func (s Statement) String() string {
	return "<" + string(s.Subject) + "> <" + string(s.Predicate) + "> " + s.Object.String()
}

// Pattern selects statements. Empty subject or predicate and a nil object
// act as wildcards.
type Pattern struct {
	Subject   IRI
	Predicate IRI
	Object    *Value
}

// Matches reports whether a statement fits the pattern
func (p Pattern) Matches(st Statement) bool {
	if p.Subject != "" && p.Subject != st.Subject {
		return false
	}
	if p.Predicate != "" && p.Predicate != st.Predicate {
		return false
	}
	if p.Object != nil && !p.Object.Equal(st.Object) {
		return false
	}
	return true
}

// Entity is the set of statements about one subject plus, when materialized
// for read, the statements of every linked resource (embedded level 1).
type Entity struct {
	ID         IRI
	statements []Statement
	seen       map[string]struct{}
}

// NewEntity creates an empty entity
func NewEntity(id IRI) *Entity {
	return &Entity{ID: id, seen: make(map[string]struct{})}
}

// With adds statements, ignoring duplicates
func (e *Entity) With(statements ...Statement) *Entity {
	if e.seen == nil {
		e.seen = make(map[string]struct{})
	}
	for _, st := range statements {
		k := st.Key()
		if _, ok := e.seen[k]; ok {
			continue
		}
		e.seen[k] = struct{}{}
		e.statements = append(e.statements, st)
	}
	return e
}

// Statements returns a copy of all statements, embedded ones included
func (e *Entity) Statements() []Statement {
	out := make([]Statement, len(e.statements))
	copy(out, e.statements)
	return out
}

// Len returns the number of statements
func (e *Entity) Len() int {
	return len(e.statements)
}

// HasStatement reports whether any statement matches
func (e *Entity) HasStatement(subject, predicate IRI, object *Value) bool {
	p := Pattern{Subject: subject, Predicate: predicate, Object: object}
	for _, st := range e.statements {
		if p.Matches(st) {
			return true
		}
	}
	return false
}

// ListStatements returns the statements matching the given terms
func (e *Entity) ListStatements(subject, predicate IRI, object *Value) []Statement {
	p := Pattern{Subject: subject, Predicate: predicate, Object: object}
	var out []Statement
	for _, st := range e.statements {
		if p.Matches(st) {
			out = append(out, st)
		}
	}
	return out
}

// Links returns the distinct link targets of the entity's own statements
func (e *Entity) Links() []IRI {
	seen := make(map[IRI]bool)
	var out []IRI
	for _, st := range e.statements {
		if st.Subject != e.ID || !st.Object.IsLink() {
			continue
		}
		target := st.Object.IRI()
		if seen[target] || target == e.ID {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}

type entityJSON struct {
	ID         IRI         `json:"id"`
	Statements []Statement `json:"statements"`
}

// MarshalJSON implements custom marshaling for Entity
func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(entityJSON{ID: e.ID, Statements: e.statements})
}

// UnmarshalJSON implements custom unmarshaling for Entity
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw entityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.ID = raw.ID
	e.statements = nil
	e.seen = make(map[string]struct{})
	e.With(raw.Statements...)
	return nil
}
