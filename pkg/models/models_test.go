package models_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/olu-graph/pkg/models"
)

const (
	alice models.IRI = "http://example.org/alice"
	bob   models.IRI = "http://example.org/bob"
	knows models.IRI = "http://example.org/knows"
)

func TestValue_Equal(t *testing.T) {
	assert.True(t, models.NewLangLiteral("Hello", "en").Equal(models.NewLangLiteral("Hello", "EN")))
	assert.False(t, models.NewLangLiteral("Hello", "en").Equal(models.NewLiteral("Hello")))
	assert.False(t, models.NewLink(alice).Equal(models.NewLiteral(string(alice))))
	assert.True(t, models.NewTypedLiteral("x", models.XSDString).Equal(models.NewLiteral("x")))
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, `<http://example.org/alice>`, models.NewLink(alice).String())
	assert.Equal(t, `_:b0`, models.NewAnonymous("b0").String())
	assert.Equal(t, `"say \"hi\"\n"@en`, models.NewLangLiteral("say \"hi\"\n", "en").String())
	assert.Equal(t, `"true"^^<http://www.w3.org/2001/XMLSchema#boolean>`, models.NewBoolLiteral(true).String())
}

func TestEntity_Lookups(t *testing.T) {
	e := models.NewEntity(alice)
	e.With(
		models.NewStatement(alice, knows, models.NewLink(bob)),
		models.NewStatement(alice, models.SDOName, models.NewLangLiteral("Alice", "en")),
		models.NewStatement(alice, models.SDOName, models.NewLangLiteral("Alice", "en")),
		models.NewStatement(bob, models.SDOName, models.NewLiteral("Bob")),
	)

	assert.Equal(t, 3, e.Len())
	link := models.NewLink(bob)
	assert.True(t, e.HasStatement(alice, knows, &link))
	assert.False(t, e.HasStatement(bob, knows, nil))
	assert.Len(t, e.ListStatements(alice, models.SDOName, nil), 1)
	assert.Len(t, e.ListStatements("", models.SDOName, nil), 2)
	assert.Equal(t, []models.IRI{bob}, e.Links())
}

func TestEntity_JSONRoundTrip(t *testing.T) {
	e := models.NewEntity(alice).With(models.NewStatement(alice, knows, models.NewLink(bob)))

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded models.Entity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, alice, decoded.ID)
	assert.Equal(t, e.Statements(), decoded.Statements())
}

func TestGenerateKey_Unique(t *testing.T) {
	const n = 100000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		key, err := models.GenerateKey(models.KeyLength)
		require.NoError(t, err)
		_, dup := seen[key]
		require.False(t, dup, "collision after %d keys", i)
		seen[key] = struct{}{}
	}
}

func TestGeneratedIdentifier(t *testing.T) {
	id, err := models.NewGeneratedIdentifier(models.DefaultApplicationsNamespace)
	require.NoError(t, err)
	assert.NotEmpty(t, id.Key)
	assert.Equal(t, models.IRI(models.DefaultApplicationsNamespace+id.Key), id.IRI())

	assert.Equal(t, "urn:x/k", models.JoinNamespace("urn:x", "k"))
	assert.Equal(t, "urn:x:k", models.JoinNamespace("urn:x:", "k"))

	_, err = models.GenerateKey(0)
	assert.Error(t, err)
}

func TestNamespaces_Resolve(t *testing.T) {
	ns, err := models.LoadNamespaces("")
	require.NoError(t, err)

	iri, err := ns.Resolve("SDO", "name")
	require.NoError(t, err)
	assert.Equal(t, models.SDOName, iri)

	_, err = ns.Resolve("nope", "name")
	assert.True(t, errors.Is(err, models.ErrUnknownPrefix))

	_, err = ns.Resolve("sdo", "")
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
}

func TestNamespaces_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "namespaces.yaml")
	content := "namespaces:\n  - prefix: ex\n    namespace: http://example.org/\n  - prefix: sdo\n    namespace: http://schema.org/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	ns, err := models.LoadNamespaces(path)
	require.NoError(t, err)

	iri, err := ns.Resolve("ex", "knows")
	require.NoError(t, err)
	assert.Equal(t, knows, iri)

	iri, err = ns.Resolve("sdo", "name")
	require.NoError(t, err)
	assert.Equal(t, models.IRI("http://schema.org/name"), iri)

	missing, err := models.LoadNamespaces(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Len(t, missing.All(), len(models.DefaultNamespaces()))
}

func TestErrorClassification(t *testing.T) {
	err := models.NewInvalidEntityUpdate(alice, "nope")
	assert.True(t, errors.Is(err, models.ErrInvalidEntityUpdate))
	assert.True(t, models.IsClientError(err))
	assert.False(t, models.IsInfrastructureError(err))

	io := models.StoreFailure(errors.New("disk full"), "commit")
	assert.True(t, models.IsInfrastructureError(io))
	assert.False(t, models.IsClientError(io))
	assert.Nil(t, models.StoreFailure(nil, "noop"))
}
