package validation

import (
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/language"

	"github.com/ha1tch/olu-graph/pkg/models"
)

// MaxLiteralLength bounds the lexical form of a literal (bytes)
const MaxLiteralLength = 1 << 20

// ValidateIRI checks that an identifier is absolute and free of characters
// N-Triples cannot carry inside angle brackets
func ValidateIRI(iri models.IRI) error {
	s := string(iri)
	if s == "" {
		return errors.Wrap(models.ErrInvalidRequest, "empty identifier")
	}
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return errors.Wrapf(models.ErrInvalidRequest, "identifier %q is not absolute", s)
	}
	for i, r := range s[:colon] {
		if !(unicode.IsLetter(r) || (i > 0 && (unicode.IsDigit(r) || r == '+' || r == '-' || r == '.'))) {
			return errors.Wrapf(models.ErrInvalidRequest, "identifier %q has an invalid scheme", s)
		}
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("<>\"{}|^`\\", r) {
			return errors.Wrapf(models.ErrInvalidRequest, "identifier %q contains %q", s, r)
		}
	}
	return nil
}

// NormalizeLanguage returns the canonical BCP 47 form of a language tag
func NormalizeLanguage(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", errors.Wrapf(models.ErrInvalidRequest, "invalid language tag %q: %v", tag, err)
	}
	return parsed.String(), nil
}

// NormalizeValue validates a value and canonicalizes its language tag
func NormalizeValue(v models.Value) (models.Value, error) {
	switch v.Kind {
	case models.KindLink:
		if err := ValidateIRI(v.IRI()); err != nil {
			return v, err
		}
	case models.KindLiteral:
		if len(v.Lexical) > MaxLiteralLength {
			return v, errors.Wrapf(models.ErrInvalidRequest, "literal exceeds %d bytes", MaxLiteralLength)
		}
		if v.Language != "" && v.Datatype != "" {
			return v, errors.Wrap(models.ErrInvalidRequest, "literal cannot carry both a language tag and a datatype")
		}
		lang, err := NormalizeLanguage(v.Language)
		if err != nil {
			return v, err
		}
		v.Language = lang
		if v.Datatype != "" {
			if err := ValidateIRI(v.Datatype); err != nil {
				return v, err
			}
		}
	case models.KindAnonymous:
		if v.Lexical == "" {
			return v, errors.Wrap(models.ErrInvalidRequest, "anonymous node without label")
		}
	default:
		return v, errors.Wrapf(models.ErrInvalidRequest, "unknown value kind %q", v.Kind)
	}
	return v, nil
}

// NormalizeStatement validates all three positions of a statement
func NormalizeStatement(st models.Statement) (models.Statement, error) {
	if err := ValidateIRI(st.Subject); err != nil {
		return st, errors.Wrap(err, "subject")
	}
	if err := ValidateIRI(st.Predicate); err != nil {
		return st, errors.Wrap(err, "predicate")
	}
	obj, err := NormalizeValue(st.Object)
	if err != nil {
		return st, errors.Wrap(err, "object")
	}
	st.Object = obj
	return st, nil
}
