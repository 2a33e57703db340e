package stepchain_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/stepchain"
	"github.com/petrijr/stepchain/internal/persistence"
)

// Runs a full chain against a SQLite-backed store and checks that the
// status and failure records survive in the database.
func TestSQLiteBackedProcess(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/stepchain.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := stepchain.NewSQLiteStore(db)
	require.NoError(t, err)

	runner := stepchain.NewLocalRunner()
	defer runner.Stop()

	def := stepchain.Define("migrate").
		CriticalStep("export", stepchain.Single("/content/export", func(ctx context.Context) error {
			return nil
		})).
		Step("transform", stepchain.Single("/content/transform", func(ctx context.Context) error {
			return errors.New("unsupported node type")
		})).
		Step("import", stepchain.Single("/content/import", func(ctx context.Context) error {
			return nil
		})).
		Definition()

	inst, err := runner.Start(ctx, def, "admin", nil, stepchain.WithStore(store))
	require.NoError(t, err)
	require.NoError(t, runner.Wait(ctx, inst))

	assert.Equal(t, stepchain.StatusCompleted, inst.Info().Status)
	require.Len(t, inst.Info().Errors, 1)

	sqlite := store.(*persistence.SQLiteStore)

	rec, err := sqlite.Load(ctx, inst.Path())
	require.NoError(t, err)
	assert.Equal(t, stepchain.StatusCompleted, rec["status"])
	assert.Equal(t, "admin", rec["requester"])
	assert.Equal(t, false, rec["isRunning"])

	failure, err := sqlite.Load(ctx, inst.Path()+"/failures/step2/err0")
	require.NoError(t, err)
	assert.Equal(t, "/content/transform", failure["path"])
	assert.Equal(t, "unsupported node type", failure["error"])

	ok, err := sqlite.PathExists(ctx, inst.Path()+"/failures/step2")
	require.NoError(t, err)
	assert.True(t, ok)
}

// An aborted chain leaves an Aborted status record behind.
func TestSQLiteBackedAbort(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/stepchain.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := stepchain.NewSQLiteStore(db)
	require.NoError(t, err)

	runner := stepchain.NewLocalRunner()
	defer runner.Stop()

	def := stepchain.Define("migrate").
		CriticalStep("export", stepchain.Single("/content/export", func(ctx context.Context) error {
			return errors.New("no permission")
		})).
		Step("import", stepchain.Single("/content/import", func(ctx context.Context) error {
			t.Error("import must not run after a critical failure")
			return nil
		})).
		Definition()

	inst, err := runner.Start(ctx, def, "admin", nil, stepchain.WithStore(store))
	require.NoError(t, err)
	require.NoError(t, runner.Wait(ctx, inst))

	assert.Equal(t, stepchain.StatusAborted, inst.Info().Status)

	rec, err := store.(*persistence.SQLiteStore).Load(ctx, inst.Path())
	require.NoError(t, err)
	assert.Equal(t, stepchain.StatusAborted, rec["status"])
}
