package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/apperrors"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
)

const testLetterID = "msg-test-123"

func deadLetterColumns() []string {
	return []string{
		"id", "version", "original_message", "original_topic_path",
		"end_points", "status", "retry_count", "error_message",
		"created_at", "last_tried_at",
	}
}

func deadLetterRow(id string, version int, status string) *sqlmock.Rows {
	return sqlmock.NewRows(deadLetterColumns()).AddRow(
		id, version, []byte(`{"orderId":"o-1"}`), "projects/p/topics/orders",
		[]byte(`["http://a/x","http://b/y"]`), status, 0, "",
		time.Now().UTC(), nil,
	)
}

// --- CreateDeadLetter ---

func TestCreateDeadLetter_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	letter := model.NewDeadLetter(testLetterID, []byte(`{"orderId":"o-1"}`), "projects/p/topics/orders", []string{"http://a/x"})
	require.Equal(t, 1, letter.Version)
	require.Equal(t, model.StatusPending, letter.Status)

	mock.ExpectExec(`INSERT INTO "dead_letters"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateDeadLetter(ctx, letter)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDeadLetter_MissingVersion(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	letter := model.NewFakeDeadLetter()
	letter.Version = 0

	err := repo.CreateDeadLetter(ctx, letter)

	assert.True(t, apperrors.IsValidationError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDeadLetter_DuplicateKey(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	letter := model.NewFakeDeadLetter(&model.DeadLetter{ID: testLetterID})

	mock.ExpectExec(`INSERT INTO "dead_letters"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "dead_letters_pkey"})

	err := repo.CreateDeadLetter(ctx, letter)

	assert.True(t, apperrors.IsDuplicateError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- FindDeadLetterByID ---

func TestFindDeadLetterByID_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "dead_letters" WHERE id = \$1`).
		WithArgs(testLetterID, 1).
		WillReturnRows(deadLetterRow(testLetterID, 3, model.StatusFailed))

	letter, err := repo.FindDeadLetterByID(ctx, testLetterID)

	require.NoError(t, err)
	assert.Equal(t, testLetterID, letter.ID)
	assert.Equal(t, 3, letter.Version)
	assert.Equal(t, model.StatusFailed, letter.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDeadLetterByID_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "dead_letters" WHERE id = \$1`).
		WithArgs("missing-id", 1).
		WillReturnRows(sqlmock.NewRows(deadLetterColumns()))

	letter, err := repo.FindDeadLetterByID(ctx, "missing-id")

	assert.Nil(t, letter)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- UpdateDeadLetter (optimistic concurrency) ---

func TestUpdateDeadLetter_Success_IncrementsVersionByOne(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "dead_letters" WHERE id = \$1 AND version = \$2`).
		WithArgs(testLetterID, 2, 1).
		WillReturnRows(deadLetterRow(testLetterID, 2, model.StatusPending))

	mock.ExpectExec(`UPDATE "dead_letters" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.UpdateDeadLetter(ctx, testLetterID, 2, func(d *model.DeadLetter) error {
		d.RecordAttempt()
		d.MarkSuccess()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
	assert.Equal(t, model.StatusSuccess, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	assert.NotNil(t, updated.LastTriedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeadLetter_StaleVersion(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	// The row exists at a newer version, so the conditional pre-read matches nothing.
	mock.ExpectQuery(`SELECT \* FROM "dead_letters" WHERE id = \$1 AND version = \$2`).
		WithArgs(testLetterID, 1, 1).
		WillReturnRows(sqlmock.NewRows(deadLetterColumns()))

	updated, err := repo.UpdateDeadLetter(ctx, testLetterID, 1, func(d *model.DeadLetter) error {
		d.MarkSuccess()
		return nil
	})

	assert.Nil(t, updated)
	assert.True(t, apperrors.IsStaleVersionError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeadLetter_RaceYieldsNoModification(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	// Pre-read succeeds, but another writer advances the row before our
	// conditional write lands.
	mock.ExpectQuery(`SELECT \* FROM "dead_letters" WHERE id = \$1 AND version = \$2`).
		WithArgs(testLetterID, 2, 1).
		WillReturnRows(deadLetterRow(testLetterID, 2, model.StatusPending))

	mock.ExpectExec(`UPDATE "dead_letters" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.UpdateDeadLetter(ctx, testLetterID, 2, func(d *model.DeadLetter) error {
		d.MarkFailed("endpoint b failed")
		return nil
	})

	assert.Nil(t, updated)
	assert.True(t, apperrors.IsNoModificationError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeadLetter_MutatorErrorPropagates(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "dead_letters" WHERE id = \$1 AND version = \$2`).
		WithArgs(testLetterID, 2, 1).
		WillReturnRows(deadLetterRow(testLetterID, 2, model.StatusPending))

	updated, err := repo.UpdateDeadLetter(ctx, testLetterID, 2, func(d *model.DeadLetter) error {
		return assert.AnError
	})

	assert.Nil(t, updated)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeadLetter_InvalidExpectedVersion(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	updated, err := repo.UpdateDeadLetter(ctx, testLetterID, 0, func(d *model.DeadLetter) error {
		return nil
	})

	assert.Nil(t, updated)
	assert.True(t, apperrors.IsValidationError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeadLetter_WithTransactionsWrapsInTx(t *testing.T) {
	repo, mock := newTestRepo(t)
	repo.useTransactions = true
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "dead_letters" WHERE id = \$1 AND version = \$2`).
		WithArgs(testLetterID, 1, 1).
		WillReturnRows(deadLetterRow(testLetterID, 1, model.StatusPending))
	mock.ExpectExec(`UPDATE "dead_letters" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.UpdateDeadLetter(ctx, testLetterID, 1, func(d *model.DeadLetter) error {
		d.RecordAttempt()
		d.MarkFailed(" - http://b/y: request failed")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, model.StatusFailed, updated.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- ListDeadLettersByStatus ---

func TestListDeadLettersByStatus(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	rows := sqlmock.NewRows(deadLetterColumns()).
		AddRow("m1", 1, []byte(`{}`), "t", []byte(`[]`), model.StatusFailed, 2, "boom", time.Now().UTC(), nil).
		AddRow("m2", 3, []byte(`{}`), "t", []byte(`[]`), model.StatusFailed, 1, "bang", time.Now().UTC(), nil)

	mock.ExpectQuery(`SELECT \* FROM "dead_letters" WHERE status = \$1 ORDER BY created_at DESC`).
		WithArgs(model.StatusFailed, 50).
		WillReturnRows(rows)

	letters, err := repo.ListDeadLettersByStatus(ctx, model.StatusFailed, 50)

	require.NoError(t, err)
	assert.Len(t, letters, 2)
	assert.Equal(t, "m1", letters[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDeadLettersByStatus_EmptyStatusListsAll(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "dead_letters" ORDER BY created_at DESC`).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows(deadLetterColumns()))

	letters, err := repo.ListDeadLettersByStatus(ctx, "", 0)

	require.NoError(t, err)
	assert.Empty(t, letters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- DeleteDeadLetter ---

func TestDeleteDeadLetter_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM "dead_letters" WHERE id = \$1`).
		WithArgs(testLetterID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteDeadLetter(ctx, testLetterID)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDeadLetter_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM "dead_letters" WHERE id = \$1`).
		WithArgs("missing-id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteDeadLetter(ctx, "missing-id")

	assert.True(t, apperrors.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
