package repositories

import (
	"context"
	"testing"

	"RoyRemind/models"
	"RoyRemind/services"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRepository_LatestLogs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLogRepository(db)
	queued := ts(t, "2024-03-12T14:00:00Z")

	mock.ExpectQuery(`SELECT DISTINCT ON \(instance_id\) \* FROM communication_log`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "instance_id", "status", "external_id", "queued_at"}).
			AddRow("log-2", "inst-1", "delivered", "ext-2", queued).
			AddRow("log-9", "inst-3", "failed", "", queued))

	latest, err := repo.LatestLogs(context.Background(), []string{"inst-1", "inst-3"})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "log-2", latest["inst-1"].ID)
	assert.Equal(t, models.LogFailed, latest["inst-3"].Status)

	empty, err := repo.LatestLogs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogRepository_MarkDelivered(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLogRepository(db)
	at := ts(t, "2024-03-12T14:01:00Z")

	mock.ExpectExec(`UPDATE "communication_log" SET .*"read_at"=.* WHERE id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkDelivered(context.Background(), "log-1", models.LogRead, at))

	mock.ExpectExec(`UPDATE "communication_log" SET .*COALESCE\(delivered_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.MarkDelivered(context.Background(), "missing", models.LogDelivered, at)
	assert.ErrorIs(t, err, services.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogRepository_MarkFailedStampsFailedAt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLogRepository(db)
	at := ts(t, "2024-03-12T14:02:00Z")

	mock.ExpectExec(`UPDATE "communication_log" SET .*"failed_at"=\$\d+.* WHERE id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkFailed(context.Background(), "log-1", "transport reported failure", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogRepository_FindLogByExternalID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLogRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "communication_log" WHERE external_id = \$1 ORDER BY queued_at DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "instance_id", "external_id"}).AddRow("log-1", "inst-1", "ext-1"))
	entry, err := repo.FindLogByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "inst-1", entry.InstanceID)

	mock.ExpectQuery(`SELECT \* FROM "communication_log" WHERE external_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	entry, err = repo.FindLogByExternalID(context.Background(), "ext-404")
	require.NoError(t, err)
	assert.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogRepository_AppendLog(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLogRepository(db)

	mock.ExpectExec(`INSERT INTO "communication_log"`).WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.AppendLog(context.Background(), &models.CommunicationLog{
		ID:         "log-1",
		InstanceID: "inst-1",
		PatientID:  "p-1",
		Channel:    models.ChannelSMS,
		Status:     models.LogSent,
		QueuedAt:   ts(t, "2024-03-12T14:00:00Z"),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
