package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/model"
)

const testTopicPath = "projects/p/topics/orders"

func TestFindEndpointsByTopicPath_PreservesPositionOrder(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "topic_path", "endpoint", "position", "created_at"}).
		AddRow(1, testTopicPath, "http://a/x", 0, time.Now().UTC()).
		AddRow(2, testTopicPath, "http://b/y", 1, time.Now().UTC())

	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE topic_path = \$1 ORDER BY position ASC, id ASC`).
		WithArgs(testTopicPath).
		WillReturnRows(rows)

	endpoints, err := repo.FindEndpointsByTopicPath(ctx, testTopicPath)

	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/x", "http://b/y"}, endpoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEndpointsByTopicPath_UnknownTopicYieldsEmpty(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE topic_path = \$1`).
		WithArgs("projects/p/topics/unknown").
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic_path", "endpoint", "position", "created_at"}))

	endpoints, err := repo.FindEndpointsByTopicPath(ctx, "projects/p/topics/unknown")

	require.NoError(t, err)
	assert.Empty(t, endpoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEndpointsByTopicPath_SkipsBlankEndpoints(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "topic_path", "endpoint", "position", "created_at"}).
		AddRow(1, testTopicPath, "", 0, time.Now().UTC()).
		AddRow(2, testTopicPath, "http://b/y", 1, time.Now().UTC())

	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE topic_path = \$1`).
		WithArgs(testTopicPath).
		WillReturnRows(rows)

	endpoints, err := repo.FindEndpointsByTopicPath(ctx, testTopicPath)

	require.NoError(t, err)
	assert.Equal(t, []string{"http://b/y"}, endpoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSubscription(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	sub := &model.Subscription{
		ID:        1,
		TopicPath: testTopicPath,
		Endpoint:  "http://a/x",
		Position:  0,
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectQuery(`INSERT INTO "subscriptions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := repo.UpsertSubscription(ctx, sub)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
