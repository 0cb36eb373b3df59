package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/cqlsync/internal/database"
	"github.com/koba/cqlsync/internal/schema"
	"github.com/koba/cqlsync/internal/testutil"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: "sqlite", DSN: ":memory:"}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeOracle map[string]*schema.LiveSchema

func (f fakeOracle) FetchLiveSchema(_ context.Context, table string) (*schema.LiveSchema, error) {
	if table == "broken" {
		return nil, errors.New("unavailable")
	}
	return f[table], nil
}

func usersLive() *schema.LiveSchema {
	return &schema.LiveSchema{
		TableSchema: schema.TableSchema{
			Name: "users",
			Fields: []*schema.FieldSchema{
				{Name: "id", Type: "uuid"},
				{Name: "tags", Type: "set", TypeDef: "<text>"},
			},
			Key:     schema.PrimaryKey{Partition: []string{"id"}},
			Indexes: []string{"tags"},
		},
		IndexNames:       map[string]string{"tags": "users_tags_idx"},
		CustomIndexNames: map[string]string{},
	}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest)

	snap, err := s.CreateSnapshot(ctx, fakeOracle{"users": usersLive()}, "ks", []string{"users", "missing"})
	require.NoError(t, err)
	assert.Len(t, snap.Tables, 1)

	latest, err = s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, latest)

	loaded, err := s.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "ks", loaded.Keyspace)
	assert.Equal(t, usersLive(), loaded.Tables["users"])

	ls, err := loaded.FetchLiveSchema(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "users_tags_idx", ls.IndexNames["tags"])

	ls, err = loaded.FetchLiveSchema(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, ls)

	_, err = s.Load(ctx, "nope")
	assert.Error(t, err)
}

func TestStore_CreateSnapshotFailure(t *testing.T) {
	s := openMemory(t)
	_, err := s.CreateSnapshot(context.Background(), fakeOracle{}, "ks", []string{"users", "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestStore_Metadata(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	_, ok, err := s.Metadata(ctx, "keyspace")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetMetadata(ctx, "keyspace", "a"))
	require.NoError(t, s.SetMetadata(ctx, "keyspace", "b"))
	v, ok, err := s.Metadata(ctx, "keyspace")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	rec := database.NewRecorder()
	boom := errors.New("boom")
	rec.Fail(`DROP TABLE IF EXISTS "users";`, boom)

	j := s.NewJournal(rec, "users")
	_, err := j.Execute(ctx, `ALTER TABLE "users" ADD "email" text;`, nil, database.DefinitionQuery)
	require.NoError(t, err)
	_, err = j.Execute(ctx, `DROP TABLE IF EXISTS "users";`, nil, database.DefinitionQuery)
	require.ErrorIs(t, err, boom)

	entries, err := s.Entries(ctx, j.RunID())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, `ALTER TABLE "users" ADD "email" text;`, entries[0].Statement)
	assert.Empty(t, entries[0].Error)
	assert.Equal(t, "boom", entries[1].Error)
	assert.Equal(t, "users", entries[1].Table)
	assert.False(t, entries[1].ExecutedAt.IsZero())
}

func TestStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	s := New(db, "postgres", testutil.NewTestLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cqlsync_metadata WHERE meta_key = $1").
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO cqlsync_metadata (meta_key, meta_value) VALUES ($1, $2)").
		WithArgs("k", "v").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetMetadata(context.Background(), "k", "v"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MySQLKeepsPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	s := New(db, "mysql", testutil.NewTestLogger(t))

	mock.ExpectQuery("SELECT meta_value FROM cqlsync_metadata WHERE meta_key = ?").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"meta_value"}).AddRow("v"))

	v, ok, err := s.Metadata(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverName(t *testing.T) {
	for in, want := range map[string]string{"": "sqlite", "SQLite3": "sqlite", "postgresql": "postgres", "mysql": "mysql"} {
		got, err := driverName(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := driverName("oracle")
	assert.Error(t, err)
}
