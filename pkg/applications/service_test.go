package applications_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/olu-graph/pkg/applications"
	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/cache"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/storage"
)

var root = auth.SystemPrincipal("root")

type fixture struct {
	svc    *applications.Service
	store  storage.Store
	issuer *auth.Issuer
	cache  *cache.MemoryCache
}

func setupApplicationsTest(t *testing.T) *fixture {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "olug-apps-*.db")
	require.NoError(t, err)
	tmpFile.Close()
	dbPath := tmpFile.Name()

	store, err := storage.NewStore("sqlite", map[string]interface{}{
		"db_path": dbPath,
		"space":   storage.SpaceApplications,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	})

	issuer, err := auth.NewIssuer([]byte("test-secret"))
	require.NoError(t, err)

	c := cache.NewMemoryCache(64, time.Minute)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := applications.NewService(store, models.DefaultApplicationsNamespace, issuer, zerolog.Nop(),
		applications.WithCache(c),
		applications.WithClock(func() time.Time { return clock }),
	)
	return &fixture{svc: svc, store: store, issuer: issuer, cache: c}
}

func (f *fixture) createApp(t *testing.T, label string) *applications.Application {
	t.Helper()
	grant, err := f.issuer.Grant(root, auth.CapabilityManageTenants)
	require.NoError(t, err)
	app, err := f.svc.CreateApplication(context.Background(), label, true, grant)
	require.NoError(t, err)
	return app
}

func collectKeys(t *testing.T, f *fixture, appKey string, p auth.Principal) []applications.ApiKey {
	t.Helper()
	var out []applications.ApiKey
	for k, err := range f.svc.GetKeysForApplication(context.Background(), appKey, p) {
		require.NoError(t, err)
		out = append(out, k)
	}
	return out
}

func TestTenantLifecycle(t *testing.T) {
	f := setupApplicationsTest(t)
	ctx := context.Background()

	app := f.createApp(t, "Acme")
	assert.NotEmpty(t, app.Key)
	assert.Equal(t, "Acme", app.Label)
	assert.True(t, app.Persistent)
	assert.Equal(t, models.IRI(models.DefaultApplicationsNamespace+app.Key), app.IRI)

	key, err := f.svc.GenerateApiKey(ctx, app.Key, "ci-key", root)
	require.NoError(t, err)
	assert.True(t, key.Active)
	assert.Equal(t, "ci-key", key.Label)
	assert.Equal(t, app.IRI, key.Application.IRI)

	keys := collectKeys(t, f, app.Key, root)
	require.Len(t, keys, 1)
	assert.Equal(t, key.Key, keys[0].Key)
	assert.Equal(t, key.IRI, keys[0].IRI)
	assert.True(t, keys[0].IssueDate.Equal(key.IssueDate))

	resolved, err := f.svc.GetKey(ctx, key.Key, root)
	require.NoError(t, err)
	assert.Equal(t, key.Key, resolved.Key)
	assert.Equal(t, app.Key, resolved.Application.Key)
	assert.Equal(t, "Acme", resolved.Application.Label)

	revoked, err := f.svc.RevokeApiKey(ctx, app.Key, "ci-key", root)
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.False(t, revoked[0].Active)

	_, err = f.svc.GetKey(ctx, key.Key, root)
	assert.True(t, errors.Is(err, models.ErrRevokedApiKeyUsed), "revocation bypasses the key cache")

	keys = collectKeys(t, f, app.Key, root)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].Active)
	require.NotNil(t, keys[0].RevokedAt)
}

func TestKeyBacklinkIsStored(t *testing.T) {
	f := setupApplicationsTest(t)
	ctx := context.Background()

	app := f.createApp(t, "Acme")
	key, err := f.svc.GenerateApiKey(ctx, app.Key, "ci-key", root)
	require.NoError(t, err)

	entity, err := f.store.Get(ctx, app.IRI)
	require.NoError(t, err)
	link := models.NewLink(key.IRI)
	assert.True(t, entity.HasStatement(app.IRI, applications.HasApiKey, &link))

	appLink := models.NewLink(app.IRI)
	assert.True(t, entity.HasStatement(key.IRI, applications.OfApplication, &appLink))
}

func TestGetKeyUnknown(t *testing.T) {
	f := setupApplicationsTest(t)
	_, err := f.svc.GetKey(context.Background(), "nope", root)
	assert.True(t, errors.Is(err, models.ErrUnknownApiKey))
}

func TestCreateApplicationNeedsGrant(t *testing.T) {
	f := setupApplicationsTest(t)
	ctx := context.Background()

	_, err := f.svc.CreateApplication(ctx, "Acme", false, auth.Grant{})
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = f.issuer.Grant(auth.ApplicationPrincipal("k", "other"), auth.CapabilityManageTenants)
	assert.True(t, errors.Is(err, models.ErrForbidden), "tenant credentials never receive a grant")

	foreign, err := auth.NewIssuer([]byte("someone-else"))
	require.NoError(t, err)
	grant, err := foreign.Grant(root, auth.CapabilityManageTenants)
	require.NoError(t, err)
	_, err = f.svc.CreateApplication(ctx, "Acme", false, grant)
	assert.True(t, errors.Is(err, models.ErrForbidden))
}

func TestTenantScope(t *testing.T) {
	f := setupApplicationsTest(t)
	ctx := context.Background()

	acme := f.createApp(t, "Acme")
	globex := f.createApp(t, "Globex")
	acmeKey, err := f.svc.GenerateApiKey(ctx, acme.Key, "ci", root)
	require.NoError(t, err)

	tenant := auth.ApplicationPrincipal(acmeKey.Key, acme.Key)

	_, err = f.svc.GenerateApiKey(ctx, globex.Key, "sneaky", tenant)
	assert.True(t, errors.Is(err, models.ErrForbidden))

	for _, err := range f.svc.GetKeysForApplication(ctx, globex.Key, tenant) {
		assert.True(t, errors.Is(err, models.ErrForbidden))
	}

	for _, err := range f.svc.GetApplications(ctx, tenant) {
		assert.True(t, errors.Is(err, models.ErrForbidden))
	}

	second, err := f.svc.GenerateApiKey(ctx, acme.Key, "deploy", tenant)
	require.NoError(t, err)
	assert.Len(t, collectKeys(t, f, acme.Key, tenant), 2)

	globexKey, err := f.svc.GenerateApiKey(ctx, globex.Key, "ci", root)
	require.NoError(t, err)
	_, err = f.svc.GetKey(ctx, globexKey.Key, tenant)
	assert.True(t, errors.Is(err, models.ErrForbidden))
	_, err = f.svc.GetKey(ctx, second.Key, tenant)
	assert.NoError(t, err)
}

func TestGetApplications(t *testing.T) {
	f := setupApplicationsTest(t)
	ctx := context.Background()

	f.createApp(t, "Acme")
	f.createApp(t, "Globex")

	var labels []string
	for app, err := range f.svc.GetApplications(ctx, root) {
		require.NoError(t, err)
		labels = append(labels, app.Label)
		assert.True(t, app.Persistent)
	}
	assert.ElementsMatch(t, []string{"Acme", "Globex"}, labels)
}

func TestGenerateApiKeyValidation(t *testing.T) {
	f := setupApplicationsTest(t)
	ctx := context.Background()
	app := f.createApp(t, "Acme")

	_, err := f.svc.GenerateApiKey(ctx, "missing-app", "ci", root)
	assert.True(t, errors.Is(err, models.ErrEntityNotFound))

	_, err = f.svc.GenerateApiKey(ctx, app.Key, "", root)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))

	_, err = f.svc.GenerateApiKey(ctx, app.Key, "ci", root)
	require.NoError(t, err)
	_, err = f.svc.GenerateApiKey(ctx, app.Key, "ci", root)
	assert.True(t, errors.Is(err, models.ErrDuplicateRecords), "active key names are unique per application")

	_, err = f.svc.RevokeApiKey(ctx, app.Key, "ci", root)
	require.NoError(t, err)
	_, err = f.svc.GenerateApiKey(ctx, app.Key, "ci", root)
	assert.NoError(t, err, "a revoked name can be reused")
}

func TestDuplicateApplicationKeys(t *testing.T) {
	f := setupApplicationsTest(t)
	ctx := context.Background()

	// two descriptors sharing one key string
	tx := storage.NewTransaction()
	for _, iri := range []models.IRI{"http://example.org/app/1", "http://example.org/app/2"} {
		require.NoError(t, tx.AddStatement(models.NewStatement(iri, models.RDFType, models.NewLink(applications.TypeApplication))))
		require.NoError(t, tx.AddStatement(models.NewStatement(iri, applications.HasKey, models.NewLiteral("dup"))))
		require.NoError(t, tx.AddStatement(models.NewStatement(iri, applications.HasLabel, models.NewLiteral("Dup"))))
		require.NoError(t, tx.AddStatement(models.NewStatement(iri, applications.IsPersistent, models.NewBoolLiteral(false))))
	}
	_, err := f.store.Commit(ctx, tx, root)
	require.NoError(t, err)

	_, err = f.svc.GenerateApiKey(ctx, "dup", "ci", root)
	assert.True(t, errors.Is(err, models.ErrDuplicateRecords))
}

func TestHardRevocationNotImplemented(t *testing.T) {
	f := setupApplicationsTest(t)
	app := f.createApp(t, "Acme")
	_, err := f.svc.Revoke(context.Background(), app.Key, "ci", applications.RevocationDelete, root)
	assert.True(t, errors.Is(err, models.ErrNotImplemented))

	_, err = f.svc.RevokeApiKey(context.Background(), app.Key, "never-issued", root)
	assert.True(t, errors.Is(err, models.ErrEntityNotFound))
}
