package values_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/events"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/storage"
	"github.com/ha1tch/olu-graph/pkg/values"
)

const (
	ex      = "http://example.org/"
	entity  = models.IRI(ex + "e1")
	owner   = models.IRI(ex + "hasOwner")
	person  = models.IRI(ex + "p1")
	sdoName = models.SDOName
)

var principal = auth.ApplicationPrincipal("key", "app")

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ctx context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Kind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func setupValuesTest(t *testing.T) (*values.Service, storage.Store, *recorder) {
	t.Helper()
	store := storage.NewMemoryStore(storage.SpaceEntities, "")
	ns, err := models.NewNamespaces(append(models.DefaultNamespaces(), models.Namespace{Prefix: "ex", Name: ex})...)
	require.NoError(t, err)

	tx := storage.NewTransaction()
	require.NoError(t, tx.AddStatement(models.NewStatement(entity, models.RDFType, models.NewLink(models.LocalEntity))))
	_, err = store.Commit(context.Background(), tx, principal)
	require.NoError(t, err)

	rec := &recorder{}
	return values.NewService(store, ns, rec, zerolog.Nop()), store, rec
}

func objects(t *testing.T, store storage.Store, predicate models.IRI) []models.Value {
	t.Helper()
	sts, err := store.Statements(context.Background(), models.Pattern{Subject: entity, Predicate: predicate})
	require.NoError(t, err)
	var out []models.Value
	for _, st := range sts {
		out = append(out, st.Object)
	}
	return out
}

func TestInsertLinkIsIdempotent(t *testing.T) {
	svc, store, rec := setupValuesTest(t)
	ctx := context.Background()

	tx, err := svc.InsertValue(ctx, entity, owner, models.NewLink(person), principal)
	require.NoError(t, err)
	assert.Len(t, tx.Added(), 1)

	tx, err = svc.InsertValue(ctx, entity, owner, models.NewLink(person), principal)
	require.NoError(t, err)
	assert.True(t, tx.IsEmpty(), "second insert performs no write")

	assert.Equal(t, []models.Value{models.NewLink(person)}, objects(t, store, owner))
	assert.Equal(t, []events.Kind{events.ValueInserted}, rec.kinds())
}

func TestInsertLanguageTagsCoexist(t *testing.T) {
	svc, store, _ := setupValuesTest(t)
	ctx := context.Background()

	_, err := svc.InsertValue(ctx, entity, sdoName, models.NewLangLiteral("Hello", "en"), principal)
	require.NoError(t, err)
	_, err = svc.InsertValue(ctx, entity, sdoName, models.NewLangLiteral("Bonjour", "fr"), principal)
	require.NoError(t, err)

	assert.ElementsMatch(t, []models.Value{
		models.NewLangLiteral("Hello", "en"),
		models.NewLangLiteral("Bonjour", "fr"),
	}, objects(t, store, sdoName))
}

func TestInsertSameLanguageReplaces(t *testing.T) {
	svc, store, _ := setupValuesTest(t)
	ctx := context.Background()

	_, err := svc.InsertValue(ctx, entity, sdoName, models.NewLangLiteral("Hello", "en"), principal)
	require.NoError(t, err)
	tx, err := svc.InsertValue(ctx, entity, sdoName, models.NewLangLiteral("Hi", "EN"), principal)
	require.NoError(t, err)

	assert.Len(t, tx.Removed(), 1)
	assert.Equal(t, []models.Value{models.NewLangLiteral("Hi", "en")}, objects(t, store, sdoName))
}

func TestInsertUntaggedReplacesUntagged(t *testing.T) {
	svc, store, _ := setupValuesTest(t)
	ctx := context.Background()

	_, err := svc.InsertValue(ctx, entity, sdoName, models.NewLiteral("one"), principal)
	require.NoError(t, err)
	_, err = svc.InsertValue(ctx, entity, sdoName, models.NewLiteral("two"), principal)
	require.NoError(t, err)

	assert.Equal(t, []models.Value{models.NewLiteral("two")}, objects(t, store, sdoName))
}

func TestInsertRejections(t *testing.T) {
	tests := []struct {
		name     string
		existing models.Value
		insert   models.Value
		reason   string
	}{
		{"tagged then untagged", models.NewLangLiteral("Hello", "en"), models.NewLiteral("Hi"), values.ReasonAmbiguousLanguage},
		{"untagged then tagged", models.NewLiteral("Hi"), models.NewLangLiteral("Hello", "en"), values.ReasonAmbiguousLanguage},
		{"literal over link", models.NewLink(person), models.NewLiteral("Bob"), values.ReasonLinkWithLiteral},
		{"anonymous", models.NewLiteral("x"), models.NewAnonymous("b0"), values.ReasonAnonymousLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, rec := setupValuesTest(t)
			ctx := context.Background()

			_, err := svc.InsertValue(ctx, entity, sdoName, tt.existing, principal)
			require.NoError(t, err)

			_, err = svc.InsertValue(ctx, entity, sdoName, tt.insert, principal)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidEntityUpdate))

			var invalid *models.InvalidEntityUpdateError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tt.reason, invalid.Reason)
			assert.Equal(t, entity, invalid.Entity)

			assert.Equal(t, []models.Value{tt.existing}, objects(t, store, sdoName), "original statement unchanged")
			assert.Len(t, rec.kinds(), 1)
		})
	}
}

func TestInsertUnknownEntity(t *testing.T) {
	svc, _, rec := setupValuesTest(t)
	_, err := svc.InsertValue(context.Background(), ex+"ghost", sdoName, models.NewLiteral("x"), principal)
	assert.True(t, errors.Is(err, models.ErrEntityNotFound))
	assert.Empty(t, rec.kinds())
}

func TestInsertRequiresAuthority(t *testing.T) {
	svc, _, _ := setupValuesTest(t)
	_, err := svc.InsertValue(context.Background(), entity, sdoName, models.NewLiteral("x"), auth.Principal{})
	assert.True(t, errors.Is(err, models.ErrUnauthenticated))
}

func TestInsertRejectsInvalidLanguage(t *testing.T) {
	svc, _, _ := setupValuesTest(t)
	_, err := svc.InsertValue(context.Background(), entity, sdoName, models.NewLangLiteral("x", "not a tag"), principal)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
}

func TestRemoveValue(t *testing.T) {
	svc, store, rec := setupValuesTest(t)
	ctx := context.Background()

	_, err := svc.InsertValue(ctx, entity, sdoName, models.NewLangLiteral("Hello", "en"), principal)
	require.NoError(t, err)

	tx, err := svc.RemoveValue(ctx, entity, sdoName, models.NewLangLiteral("Bonjour", "fr"), principal)
	require.NoError(t, err)
	assert.True(t, tx.IsEmpty())

	tx, err = svc.RemoveValue(ctx, entity, sdoName, models.NewLangLiteral("Hello", "en"), principal)
	require.NoError(t, err)
	assert.Len(t, tx.Removed(), 1)
	assert.Empty(t, objects(t, store, sdoName))

	assert.Equal(t, []events.Kind{events.ValueInserted, events.ValueRemoved}, rec.kinds())
}

func TestReplaceValueIsAtomic(t *testing.T) {
	svc, store, rec := setupValuesTest(t)
	ctx := context.Background()

	_, err := svc.InsertValue(ctx, entity, owner, models.NewLink(person), principal)
	require.NoError(t, err)

	tx, err := svc.ReplaceValue(ctx, entity, owner, models.NewLink(person), models.NewLink(ex+"p2"), principal)
	require.NoError(t, err)
	assert.Len(t, tx.Removed(), 1)
	assert.Len(t, tx.Added(), 1)
	assert.Equal(t, []models.Value{models.NewLink(ex + "p2")}, objects(t, store, owner))
	assert.Equal(t, events.ValueReplaced, rec.kinds()[1])

	_, err = svc.ReplaceValue(ctx, entity, owner, models.NewLink(person), models.NewLink(ex+"p3"), principal)
	assert.True(t, errors.Is(err, models.ErrInvalidEntityUpdate), "old value must exist")

	_, err = svc.ReplaceValue(ctx, entity, owner, models.NewLink(ex+"p2"), models.NewAnonymous("b"), principal)
	assert.True(t, errors.Is(err, models.ErrInvalidEntityUpdate))
	assert.Equal(t, []models.Value{models.NewLink(ex + "p2")}, objects(t, store, owner))
}

func TestReplaceLinkWithLiteral(t *testing.T) {
	svc, store, _ := setupValuesTest(t)
	ctx := context.Background()

	_, err := svc.InsertValue(ctx, entity, owner, models.NewLink(person), principal)
	require.NoError(t, err)

	_, err = svc.ReplaceValue(ctx, entity, owner, models.NewLink(person), models.NewLiteral("Bob"), principal)
	require.NoError(t, err, "the replaced link no longer blocks the literal")
	assert.Equal(t, []models.Value{models.NewLiteral("Bob")}, objects(t, store, owner))
}

func TestLiteralSurface(t *testing.T) {
	svc, store, _ := setupValuesTest(t)
	ctx := context.Background()

	_, err := svc.InsertLiteral(ctx, entity, "ex", "nickname", "Al", "en", principal)
	require.NoError(t, err)
	sts, err := store.Statements(ctx, models.Pattern{Subject: entity, Predicate: ex + "nickname"})
	require.NoError(t, err)
	require.Len(t, sts, 1)

	_, err = svc.ReplaceLiteral(ctx, entity, "ex", "nickname", models.NewLangLiteral("Al", "en"), models.NewLangLiteral("Ally", "en"), principal)
	require.NoError(t, err)

	_, err = svc.RemoveLiteral(ctx, entity, "ex", "nickname", "Ally", "en", principal)
	require.NoError(t, err)
	sts, err = store.Statements(ctx, models.Pattern{Subject: entity, Predicate: ex + "nickname"})
	require.NoError(t, err)
	assert.Empty(t, sts)

	_, err = svc.InsertLiteral(ctx, entity, "nope", "x", "v", "", principal)
	assert.True(t, errors.Is(err, models.ErrUnknownPrefix))
}

func TestConcurrentInsertsOnOnePredicate(t *testing.T) {
	svc, store, _ := setupValuesTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 25)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.InsertValue(ctx, entity, sdoName, models.NewLiteral(fmt.Sprintf("v%d", i)), principal)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, objects(t, store, sdoName), 1, "no lost update leaves two untagged literals")
}
