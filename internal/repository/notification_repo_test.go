package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/model"
)

func TestNotificationRepository_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationRepository(db)

	n := &model.Notification{
		ID:          501,
		RecipientID: 10,
		Kind:        model.KindReservationConfirmed,
		Payload:     []byte(`{"reservation_id":1}`),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `notifications`").
		WillReturnResult(sqlmock.NewResult(501, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), n)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_CountUnread(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationRepository(db)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `notifications`").
		WithArgs(uint64(10), false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountUnread(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestNotificationRepository_MarkRead(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `notifications` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkRead(context.Background(), 501, 10)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_MarkAllRead(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `notifications` SET").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	changed, err := repo.MarkAllRead(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), changed)
}
