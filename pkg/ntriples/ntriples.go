// Package ntriples reads and writes the line-based N-Triples format and the
// JSON statement array accepted by bulk import.
package ntriples

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/models"
)

// Supported mime types
const (
	MimeNTriples = "application/n-triples"
	MimeText     = "text/plain"
	MimeJSON     = "application/json"
)

const maxLineLength = 4 << 20

// Triple is a parsed statement whose subject may still be a blank node
type Triple struct {
	Subject   models.Value
	Predicate models.IRI
	Object    models.Value
}

// Supported reports whether mimeType can be decoded
func Supported(mimeType string) bool {
	switch baseMime(mimeType) {
	case MimeNTriples, MimeText, MimeJSON:
		return true
	}
	return false
}

func baseMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Decode reads every triple from r in the given format
func Decode(r io.Reader, mimeType string) ([]Triple, error) {
	switch baseMime(mimeType) {
	case MimeNTriples, MimeText:
		return DecodeNTriples(r)
	case MimeJSON:
		return DecodeJSON(r)
	default:
		return nil, errors.Wrapf(models.ErrUnsupportedFormat, "mime type %q", mimeType)
	}
}

// DecodeJSON reads an array of statements as produced by the HTTP API
func DecodeJSON(r io.Reader) ([]Triple, error) {
	var statements []models.Statement
	if err := json.NewDecoder(r).Decode(&statements); err != nil {
		return nil, errors.Wrap(models.ErrUnsupportedFormat, "invalid JSON statement array: "+err.Error())
	}
	out := make([]Triple, 0, len(statements))
	for _, st := range statements {
		subject := models.NewLink(st.Subject)
		if strings.HasPrefix(string(st.Subject), "_:") {
			subject = models.NewAnonymous(strings.TrimPrefix(string(st.Subject), "_:"))
		}
		out = append(out, Triple{Subject: subject, Predicate: st.Predicate, Object: st.Object})
	}
	return out, nil
}

// DecodeNTriples parses N-Triples. Errors carry the offending line number.
func DecodeNTriples(r io.Reader) ([]Triple, error) {
	var out []Triple
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		t, err := parseLine(text)
		if err != nil {
			return nil, errors.Wrapf(models.ErrUnsupportedFormat, "line %d: %s", line, err.Error())
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read N-Triples")
	}
	return out, nil
}

type lexer struct {
	s   string
	pos int
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.s) && (l.s[l.pos] == ' ' || l.s[l.pos] == '\t') {
		l.pos++
	}
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.s) {
		return 0
	}
	return l.s[l.pos]
}

func parseLine(s string) (Triple, error) {
	if !utf8.ValidString(s) {
		return Triple{}, errors.New("invalid UTF-8")
	}
	l := &lexer{s: s}
	var t Triple

	l.skipSpace()
	subject, err := l.term()
	if err != nil {
		return t, err
	}
	if subject.IsLiteral() {
		return t, errors.New("literal in subject position")
	}

	l.skipSpace()
	predicate, err := l.term()
	if err != nil {
		return t, err
	}
	if !predicate.IsLink() {
		return t, errors.New("predicate must be an IRI")
	}

	l.skipSpace()
	object, err := l.term()
	if err != nil {
		return t, err
	}

	l.skipSpace()
	if l.peek() != '.' {
		return t, errors.New("missing terminating '.'")
	}
	l.pos++
	l.skipSpace()
	if l.pos < len(l.s) && l.s[l.pos] != '#' {
		return t, errors.Newf("unexpected trailing content %q", l.s[l.pos:])
	}

	t.Subject = subject
	t.Predicate = predicate.IRI()
	t.Object = object
	return t, nil
}

func (l *lexer) term() (models.Value, error) {
	switch l.peek() {
	case '<':
		iri, err := l.iri()
		if err != nil {
			return models.Value{}, err
		}
		return models.NewLink(iri), nil
	case '_':
		return l.blank()
	case '"':
		return l.literal()
	default:
		return models.Value{}, errors.Newf("unexpected character at column %d", l.pos+1)
	}
}

func (l *lexer) iri() (models.IRI, error) {
	l.pos++
	end := strings.IndexByte(l.s[l.pos:], '>')
	if end < 0 {
		return "", errors.New("unterminated IRI")
	}
	raw := l.s[l.pos : l.pos+end]
	l.pos += end + 1
	iri, err := unescape(raw)
	if err != nil {
		return "", err
	}
	if iri == "" {
		return "", errors.New("empty IRI")
	}
	return models.IRI(iri), nil
}

func (l *lexer) blank() (models.Value, error) {
	if !strings.HasPrefix(l.s[l.pos:], "_:") {
		return models.Value{}, errors.New("malformed blank node")
	}
	l.pos += 2
	start := l.pos
	for l.pos < len(l.s) && l.s[l.pos] != ' ' && l.s[l.pos] != '\t' {
		l.pos++
	}
	label := l.s[start:l.pos]
	// "_:b1." is valid; the dot belongs to the statement
	if strings.HasSuffix(label, ".") && l.pos == len(l.s) {
		label = strings.TrimSuffix(label, ".")
		l.pos--
	}
	if label == "" {
		return models.Value{}, errors.New("empty blank node label")
	}
	return models.NewAnonymous(label), nil
}

func (l *lexer) literal() (models.Value, error) {
	l.pos++
	var b strings.Builder
	for {
		if l.pos >= len(l.s) {
			return models.Value{}, errors.New("unterminated literal")
		}
		c := l.s[l.pos]
		if c == '"' {
			l.pos++
			break
		}
		if c == '\\' {
			r, n, err := unescapeAt(l.s[l.pos:])
			if err != nil {
				return models.Value{}, err
			}
			b.WriteRune(r)
			l.pos += n
			continue
		}
		b.WriteByte(c)
		l.pos++
	}
	lexical := b.String()

	switch {
	case strings.HasPrefix(l.s[l.pos:], "@"):
		l.pos++
		start := l.pos
		for l.pos < len(l.s) && (isAlnum(l.s[l.pos]) || l.s[l.pos] == '-') {
			l.pos++
		}
		if l.pos == start {
			return models.Value{}, errors.New("empty language tag")
		}
		return models.NewLangLiteral(lexical, l.s[start:l.pos]), nil
	case strings.HasPrefix(l.s[l.pos:], "^^"):
		l.pos += 2
		if l.peek() != '<' {
			return models.Value{}, errors.New("datatype must be an IRI")
		}
		dt, err := l.iri()
		if err != nil {
			return models.Value{}, err
		}
		return models.NewTypedLiteral(lexical, dt), nil
	default:
		return models.NewLiteral(lexical), nil
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			i++
			continue
		}
		r, n, err := unescapeAt(s[i:])
		if err != nil {
			return "", err
		}
		b.WriteRune(r)
		i += n
	}
	return b.String(), nil
}

// unescapeAt decodes the escape sequence at the start of s and returns the
// rune and the number of bytes consumed
func unescapeAt(s string) (rune, int, error) {
	if len(s) < 2 {
		return 0, 0, errors.New("dangling escape")
	}
	switch s[1] {
	case 't':
		return '\t', 2, nil
	case 'b':
		return '\b', 2, nil
	case 'n':
		return '\n', 2, nil
	case 'r':
		return '\r', 2, nil
	case 'f':
		return '\f', 2, nil
	case '"':
		return '"', 2, nil
	case '\'':
		return '\'', 2, nil
	case '\\':
		return '\\', 2, nil
	case 'u', 'U':
		width := 4
		if s[1] == 'U' {
			width = 8
		}
		if len(s) < 2+width {
			return 0, 0, errors.New("truncated unicode escape")
		}
		n, err := strconv.ParseUint(s[2:2+width], 16, 32)
		if err != nil || !utf8.ValidRune(rune(n)) {
			return 0, 0, errors.Newf("invalid unicode escape %q", s[:2+width])
		}
		return rune(n), 2 + width, nil
	default:
		return 0, 0, errors.Newf("unknown escape %q", s[:2])
	}
}

// Encoder writes statements as N-Triples lines
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one statement
func (e *Encoder) Encode(st models.Statement) error {
	_, err := e.w.WriteString(st.String() + " .\n")
	return err
}

// Flush writes any buffered data
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// Skolemizer replaces blank nodes by generated identifiers. The same label
// always maps to the same identifier for the lifetime of one Skolemizer.
type Skolemizer struct {
	namespace string
	labels    map[string]models.IRI
}

// NewSkolemizer creates a skolemizer minting identifiers under namespace
func NewSkolemizer(namespace string) *Skolemizer {
	return &Skolemizer{namespace: namespace, labels: make(map[string]models.IRI)}
}

func (s *Skolemizer) resolve(v models.Value) (models.IRI, error) {
	if iri, ok := s.labels[v.Lexical]; ok {
		return iri, nil
	}
	id, err := models.NewGeneratedIdentifier(s.namespace)
	if err != nil {
		return "", err
	}
	s.labels[v.Lexical] = id.IRI()
	return id.IRI(), nil
}

// Statement turns a triple into a storable statement
func (s *Skolemizer) Statement(t Triple) (models.Statement, error) {
	subject := t.Subject.IRI()
	if t.Subject.IsAnonymous() {
		iri, err := s.resolve(t.Subject)
		if err != nil {
			return models.Statement{}, err
		}
		subject = iri
	}
	object := t.Object
	if object.IsAnonymous() {
		iri, err := s.resolve(object)
		if err != nil {
			return models.Statement{}, err
		}
		object = models.NewLink(iri)
	}
	return models.NewStatement(subject, t.Predicate, object), nil
}

// Statements skolemizes a batch of triples
func (s *Skolemizer) Statements(triples []Triple) ([]models.Statement, error) {
	out := make([]models.Statement, 0, len(triples))
	for _, t := range triples {
		st, err := s.Statement(t)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
