package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cafe-etl/internal/storage"
)

func sampleRow() storage.ArticleRow {
	return storage.ArticleRow{
		URL:      "https://cafe.naver.com/skincare/999",
		Title:    "passed the exam",
		Content:  "body",
		Comments: "\n댓글: congrats",
	}
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS articles").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureTable(context.Background(), "articles"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock)
	require.NoError(t, err)

	row := sampleRow()
	mock.ExpectExec(`INSERT INTO certificate_reviews \(url, title, content, comments\)`).
		WithArgs(row.URL, row.Title, row.Content, row.Comments).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.Upsert(context.Background(), "certificate_reviews", row)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConflictIsIgnored(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock)
	require.NoError(t, err)

	row := sampleRow()
	mock.ExpectExec("ON CONFLICT \\(url\\) DO NOTHING").
		WithArgs(row.URL, row.Title, row.Content, row.Comments).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.Upsert(context.Background(), "articles", row)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPropagatesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock)
	require.NoError(t, err)

	boom := errors.New("connection lost")
	mock.ExpectExec("INSERT INTO articles").WillReturnError(boom)

	_, err = store.Upsert(context.Background(), "articles", sampleRow())
	require.ErrorIs(t, err, boom)
}

func TestRejectsUnsafeTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock)
	require.NoError(t, err)

	require.Error(t, store.EnsureTable(context.Background(), "articles;--"))
	_, err = store.Upsert(context.Background(), "x y", sampleRow())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewArticleStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewArticleStore(context.Background(), ArticleStoreConfig{})
	require.Error(t, err)
	_, err = NewArticleStoreWithPool(nil)
	require.Error(t, err)
}
