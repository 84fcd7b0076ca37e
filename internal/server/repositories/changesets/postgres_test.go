package changesets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T, policy Policy) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db, policy), mock, db
}

var columns = []string{"id", "uuid", "status", "title", "data", "date_gmt", "author", "version", "created_at", "updated_at"}

func TestFindByUUID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{})
	defer db.Close()

	q := `(?s)^SELECT\s+id\s+FROM\s+changesets\s+WHERE\s+lower\(uuid\)\s*=\s*lower\(\$1\)$`
	mock.ExpectQuery(q).WithArgs("ABC").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(q).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q).WithArgs("broken").WillReturnError(errors.New("db down"))

	id, err := repo.FindByUUID(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = repo.FindByUUID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = repo.FindByUUID(context.Background(), "broken")
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_DecodesRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{})
	defer db.Close()

	date := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	rows := sqlmock.NewRows(columns).AddRow(
		int64(3), "uuid-1", models.StatusFuture, "Title",
		[]byte(`{"blogname":{"value":"Hello","type":"option","user_id":"1"}}`),
		date, "1", int64(2), created, created,
	)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*uuid,.*FROM\s+changesets\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs(int64(3)).WillReturnRows(rows)

	got, err := repo.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.PostID)
	assert.Equal(t, models.StatusFuture, got.Status)
	require.NotNil(t, got.Date)
	assert.True(t, got.Date.Equal(date))
	assert.JSONEq(t, `"Hello"`, string(got.Data["blogname"].Value))
	assert.Equal(t, "1", got.Data["blogname"].UserID)
	assert.Equal(t, int64(2), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NullDateAndMissing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{})
	defer db.Close()

	now := time.Now().UTC()
	q := `(?s)^SELECT\s+id,.*WHERE\s+id\s*=\s*\$1$`
	mock.ExpectQuery(q).WithArgs(int64(1)).WillReturnRows(
		sqlmock.NewRows(columns).AddRow(int64(1), "u", models.StatusDraft, "", []byte(`{}`), nil, "1", int64(1), now, now))
	mock.ExpectQuery(q).WithArgs(int64(2)).WillReturnError(sql.ErrNoRows)

	got, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, got.Date)
	assert.Empty(t, got.Data)

	_, err = repo.Get(context.Background(), 2)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestList_FiltersByStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{})
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)FROM\s+changesets\s+WHERE\s+status\s+IN\s+\(\$1,\s*\$2\)\s+ORDER\s+BY\s+id$`).
		WithArgs(models.StatusDraft, models.StatusFuture).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(1), "a", models.StatusDraft, "", []byte(`{}`), nil, "1", int64(1), now, now).
			AddRow(int64(2), "b", models.StatusFuture, "", []byte(`{}`), now, "1", int64(1), now, now))
	mock.ExpectQuery(`(?s)FROM\s+changesets\s+ORDER\s+BY\s+id$`).
		WillReturnRows(sqlmock.NewRows(columns))

	got, err := repo.List(context.Background(), models.StatusDraft, models.StatusFuture)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].UUID)

	got, err = repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDue(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{})
	defer db.Close()

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)WHERE\s+status\s*=\s*\$1\s+AND\s+date_gmt\s*<=\s*\$2`).
		WithArgs(models.StatusFuture, now).
		WillReturnError(errors.New("boom"))

	_, err := repo.ListDue(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select due changesets")
}

func TestSave_Insert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{RejectEmptyContent: true})
	defer db.Close()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &models.Changeset{
		UUID:   "ABC-1",
		Status: models.StatusDraft,
		Data:   models.SettingsData{"blogname": {Value: json.RawMessage(`"x"`)}},
		Author: "1",
	}

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+changesets\s*\(uuid,\s*status,\s*title,\s*data,\s*date_gmt,\s*author,\s*version\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*1\)\s*RETURNING\s+id,\s*created_at,\s*updated_at\s*$`).
		WithArgs("abc-1", models.StatusDraft, "", `{"blogname":{"value":"x"}}`, sqlmock.AnyArg(), "1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), created, created))

	id, err := repo.Save(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.Equal(t, int64(11), c.PostID)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, created, c.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_InsertEmptyRejected(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{RejectEmptyContent: true})
	defer db.Close()

	_, err := repo.Save(context.Background(), &models.Changeset{UUID: "u", Status: models.StatusDraft})
	assert.ErrorIs(t, err, common.ErrEmptyContent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_Update(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{RejectEmptyContent: true})
	defer db.Close()

	q := `(?s)UPDATE\s+changesets\s+SET.*version\s*=\s*version\s*\+\s*1.*WHERE\s+id\s*=\s*\$6\s+AND\s+version\s*=\s*\$7`
	mock.ExpectExec(q).
		WithArgs(models.StatusPublish, "", `{}`, sqlmock.AnyArg(), "1", int64(4), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs(models.StatusPublish, "", `{}`, sqlmock.AnyArg(), "1", int64(4), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Empty content is accepted on update.
	c := &models.Changeset{PostID: 4, Status: models.StatusPublish, Author: "1", Version: 2}
	_, err := repo.Save(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Version)

	_, err = repo.Save(context.Background(), c)
	assert.ErrorIs(t, err, common.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrashAndDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, Policy{})
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+changesets\s+SET\s+status\s*=\s*\$1`).
		WithArgs(models.StatusTrash, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+changesets\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+changesets`).
		WithArgs(int64(2)).WillReturnError(errors.New("db down"))

	require.NoError(t, repo.Trash(context.Background(), 1))
	assert.ErrorIs(t, repo.Delete(context.Background(), 1), common.ErrorNotFound)

	err := repo.Delete(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()))
	require.NoError(t, mock.ExpectationsWereMet())
}
