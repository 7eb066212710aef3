package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/loopy/internal/timeline"
)

var (
	_ timeline.Counter     = (*Store)(nil)
	_ timeline.TopReader   = (*Store)(nil)
	_ timeline.CursorStore = (*Store)(nil)
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock, Config{})
	require.NoError(t, err)
	return store, mock
}

func TestIncrementUsesAtomicUpsert(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO url_counts .* ON CONFLICT \(url_key\) DO UPDATE\s+SET hits = url_counts.hits \+ 1`).
		WithArgs("http://example.com/a").
		WillReturnRows(pgxmock.NewRows([]string{"hits"}).AddRow(int64(3)))

	count, err := store.Increment(context.Background(), "http://example.com/a")
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	boom := errors.New("connection refused")
	mock.ExpectQuery("INSERT INTO url_counts").WithArgs("k").WillReturnError(boom)

	_, err := store.Increment(context.Background(), "k")
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopOrdersAndLimits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT url_key, hits FROM url_counts ORDER BY hits DESC, url_key ASC LIMIT \$1`).
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"url_key", "hits"}).
			AddRow("http://a.example/", int64(5)).
			AddRow("http://b.example/", int64(2)))

	top, err := store.Top(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []timeline.URLCount{
		{Key: "http://a.example/", Count: 5},
		{Key: "http://b.example/", Count: 2},
	}, top)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSinceID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT since_id FROM poll_cursor WHERE stream = ").
		WithArgs("default").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT since_id FROM poll_cursor WHERE stream = ").
		WithArgs("default").
		WillReturnRows(pgxmock.NewRows([]string{"since_id"}).AddRow("123"))

	got, err := store.LoadSinceID(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = store.LoadSinceID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "123", got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSinceIDIsMonotonicUpsert(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO poll_cursor .* ON CONFLICT \(stream\) DO UPDATE .* WHERE length\(poll_cursor.since_id\) < length\(EXCLUDED.since_id\)`).
		WithArgs("default", "456").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSinceID(context.Background(), "456"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS url_counts").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS url_counts_hits_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS poll_cursor").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil, Config{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewStoreWithPool(mock, Config{CountsTable: "bad;drop"})
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewStore(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn is required")
}
