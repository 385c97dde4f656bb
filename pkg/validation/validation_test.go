package validation_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/validation"
)

func TestValidateIRI(t *testing.T) {
	valid := []models.IRI{
		"http://example.org/a",
		"urn:uuid:1234",
		"https://schema.org/name",
	}
	for _, iri := range valid {
		assert.NoError(t, validation.ValidateIRI(iri), iri)
	}

	invalid := []models.IRI{
		"",
		"no-scheme",
		":missing",
		"http://example.org/a b",
		"http://example.org/<x>",
		"1http://example.org",
	}
	for _, iri := range invalid {
		err := validation.ValidateIRI(iri)
		require.Error(t, err, iri)
		assert.True(t, errors.Is(err, models.ErrInvalidRequest))
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tag, err := validation.NormalizeLanguage("EN-us")
	require.NoError(t, err)
	assert.Equal(t, "en-US", tag)

	tag, err = validation.NormalizeLanguage("")
	require.NoError(t, err)
	assert.Empty(t, tag)

	_, err = validation.NormalizeLanguage("not a tag!")
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
}

func TestNormalizeValue(t *testing.T) {
	v, err := validation.NormalizeValue(models.NewLangLiteral("Bonjour", "FR"))
	require.NoError(t, err)
	assert.Equal(t, "fr", v.Language)

	_, err = validation.NormalizeValue(models.Value{Kind: models.KindLiteral, Lexical: "x", Language: "en", Datatype: models.XSDBoolean})
	assert.Error(t, err)

	_, err = validation.NormalizeValue(models.NewLink("not an iri"))
	assert.Error(t, err)

	_, err = validation.NormalizeValue(models.Value{Kind: "bogus"})
	assert.Error(t, err)
}

func TestNormalizeStatement(t *testing.T) {
	st, err := validation.NormalizeStatement(models.NewStatement(
		"http://example.org/e", models.SDOName, models.NewLangLiteral("Hi", "EN")))
	require.NoError(t, err)
	assert.Equal(t, "en", st.Object.Language)

	_, err = validation.NormalizeStatement(models.NewStatement("", models.SDOName, models.NewLiteral("x")))
	assert.Error(t, err)
}
