package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/storage"
)

func TestSQLiteStore_SpacesAreDisjoint(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	db, err := storage.OpenSQLite(storage.DefaultSQLiteConfig(dbPath))
	require.NoError(t, err)
	defer db.Close()

	entities := storage.NewSQLiteStore(db, storage.SpaceEntities)
	apps := storage.NewSQLiteStore(db, storage.SpaceApplications)
	ctx := context.Background()

	commit(t, entities, alice(), nil)
	commit(t, apps, []models.Statement{
		models.NewStatement(ex+"alice", models.RDFSLabel, models.NewLiteral("not an entity")),
	}, nil)

	entity, err := entities.Get(ctx, ex+"alice")
	require.NoError(t, err)
	assert.False(t, entity.HasStatement(ex+"alice", models.RDFSLabel, nil))

	require.NoError(t, apps.Reset(ctx))
	exists, err := entities.Exists(ctx, ex+"alice")
	require.NoError(t, err)
	assert.True(t, exists, "resetting one space leaves the other untouched")

	assert.Equal(t, storage.StoreInfo{Type: "sqlite", Space: "applications"}, apps.Info())
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	store, err := storage.NewStore("sqlite", map[string]interface{}{"db_path": dbPath})
	require.NoError(t, err)
	commit(t, store, alice(), nil)
	require.NoError(t, store.Close())

	reopened, err := storage.NewStore("sqlite", map[string]interface{}{"db_path": dbPath})
	require.NoError(t, err)
	defer reopened.Close()

	entity, err := reopened.Get(context.Background(), ex+"alice")
	require.NoError(t, err)
	assert.Equal(t, 5, entity.Len())

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSpaces_ShareOneDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "spaces.db")
	entities, apps, err := storage.NewSpaces("sqlite", map[string]interface{}{
		"db_path":         dbPath,
		"genid_namespace": ex + "genid/",
	})
	require.NoError(t, err)
	defer entities.Close()
	defer apps.Close()

	assert.Equal(t, storage.SpaceEntities, entities.Name())
	assert.Equal(t, storage.SpaceApplications, apps.Name())

	commit(t, entities, alice(), nil)
	exists, err := apps.Exists(context.Background(), ex+"alice")
	require.NoError(t, err)
	assert.False(t, exists)

	memEntities, memApps, err := storage.NewSpaces("memory", nil)
	require.NoError(t, err)
	assert.Equal(t, storage.SpaceEntities, memEntities.Name())
	assert.Equal(t, storage.SpaceApplications, memApps.Name())

	_, _, err = storage.NewSpaces("postgres", nil)
	assert.Error(t, err)
}

func TestSQLiteStore_ConcurrentCommits(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := storage.NewTransaction()
			tx.AddStatement(models.NewStatement(ex+"counter", ex+"tick", models.NewLiteral(string(rune('a'+i)))))
			_, err := store.Commit(context.Background(), tx, writer)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ticks, err := store.Statements(context.Background(), models.Pattern{Subject: ex + "counter"})
	require.NoError(t, err)
	assert.Len(t, ticks, 20)
}

func TestSQLiteStore_CommitRollsBackOnDriverFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewSQLiteStore(db, storage.SpaceEntities)
	old := models.NewStatement(ex+"e", models.SDOName, models.NewLiteral("old"))
	tx := storage.NewTransaction()
	require.NoError(t, tx.RemoveStatement(old))
	require.NoError(t, tx.AddStatement(models.NewStatement(ex+"e", models.SDOName, models.NewLiteral("new"))))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM statements").
		WithArgs("entities", ex+"e", string(models.SDOName), "literal", "old", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT OR IGNORE INTO statements").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = store.Commit(context.Background(), tx, writer)
	require.Error(t, err)
	assert.True(t, models.IsInfrastructureError(err))
	assert.False(t, models.IsClientError(err))
	assert.False(t, tx.Committed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CommitDetectsLostUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewSQLiteStore(db, storage.SpaceEntities)
	tx := storage.NewTransaction()
	require.NoError(t, tx.RemoveStatement(models.NewStatement(ex+"e", models.SDOName, models.NewLiteral("old"))))
	require.NoError(t, tx.AddStatement(models.NewStatement(ex+"e", models.SDOName, models.NewLiteral("new"))))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM statements").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = store.Commit(context.Background(), tx, writer)
	assert.True(t, errors.Is(err, models.ErrConcurrentModification))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CommitFailureOnCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewSQLiteStore(db, storage.SpaceEntities)
	tx := storage.NewTransaction()
	require.NoError(t, tx.AddStatement(models.NewStatement(ex+"e", models.SDOName, models.NewLiteral("new"))))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO statements").
		WithArgs("entities", ex+"e", string(models.SDOName), "literal", "new", "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, err = store.Commit(context.Background(), tx, writer)
	assert.True(t, errors.Is(err, models.ErrStoreIO))
	assert.False(t, tx.Committed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewSQLiteStore(db, storage.SpaceEntities)
	mock.ExpectQuery("SELECT subject, predicate, kind, object, datatype, lang").
		WillReturnError(errors.New("no such table: statements"))

	_, err = store.Get(context.Background(), ex+"e")
	assert.True(t, errors.Is(err, models.ErrStoreIO))
	assert.NoError(t, mock.ExpectationsWereMet())
}
