package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/marcelsud/webhook-relay/event"
	"github.com/marcelsud/webhook-relay/remote"
	"github.com/marcelsud/webhook-relay/remote/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	eventCols   = []string{"id", "webhook_id", "source", "status", "timestamp", "retry_count", "max_retries", "failed_reason", "origin"}
	requestCols = []string{"id", "event_id", "webhook_id", "destination_name", "destination_url", "status", "timestamp", "response_time_ms", "response", "failed_reason"}
)

func setup(t *testing.T) (*postgres.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return postgres.New(db), mock
}

func TestClient_FetchEvents(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("success - events with requests", func(t *testing.T) {
		client, mock := setup(t)

		mock.ExpectQuery(`SELECT (.+) FROM events WHERE webhook_id = \$1 ORDER BY`).
			WithArgs("wh-1").
			WillReturnRows(sqlmock.NewRows(eventCols).
				AddRow("e2", "wh-1", "stripe", "pending", at.Add(time.Second), 0, 3, nil, []byte(`{"method":"POST","body":"e30=","size":2}`)).
				AddRow("e1", "wh-1", "stripe", "failed", at, 3, 3, "HTTP 500", nil))
		mock.ExpectQuery(`SELECT (.+) FROM requests WHERE webhook_id = \$1`).
			WithArgs("wh-1").
			WillReturnRows(sqlmock.NewRows(requestCols).
				AddRow("r1", "e1", "wh-1", "local", "http://localhost:3000", "failed", at, 40, []byte(`{"status_code":500,"body":"boom"}`), "boom"))

		events, err := client.FetchEvents(ctx, "wh-1", nil)
		require.NoError(t, err)
		require.Len(t, events, 2)

		assert.Equal(t, event.Pending, events[0].Status)
		require.NotNil(t, events[0].Origin)
		assert.Equal(t, "POST", events[0].Origin.Method)
		assert.Empty(t, events[0].Requests)

		assert.Equal(t, event.Failed, events[1].Status)
		assert.Equal(t, "HTTP 500", events[1].FailedReason)
		require.Len(t, events[1].Requests, 1)
		assert.Equal(t, 500, events[1].Requests[0].Response.StatusCode)
		assert.Equal(t, int64(40), events[1].Requests[0].ResponseTimeMs)
	})

	t.Run("success - incremental without rows skips requests", func(t *testing.T) {
		client, mock := setup(t)

		mock.ExpectQuery(`FROM events WHERE webhook_id = \$1 AND timestamp > \$2`).
			WithArgs("wh-1", at).
			WillReturnRows(sqlmock.NewRows(eventCols))

		events, err := client.FetchEvents(ctx, "wh-1", &at)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("unknown status", func(t *testing.T) {
		client, mock := setup(t)

		mock.ExpectQuery(`FROM events`).
			WillReturnRows(sqlmock.NewRows(eventCols).AddRow("e1", "wh-1", "", "weird", at, 0, 3, nil, nil))

		_, err := client.FetchEvents(ctx, "wh-1", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event e1")
	})
}

func TestClient_Writes(t *testing.T) {
	ctx := context.Background()

	t.Run("success - update event status", func(t *testing.T) {
		client, mock := setup(t)
		mock.ExpectExec(`UPDATE events SET status = \$2, failed_reason = \$3 WHERE id = \$1`).
			WithArgs("e1", "failed", "HTTP 500").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, client.UpdateEventStatus(ctx, "e1", event.Failed, "HTTP 500"))
	})

	t.Run("update of missing event", func(t *testing.T) {
		client, mock := setup(t)
		mock.ExpectExec(`UPDATE events`).
			WithArgs("nope", "completed", nil).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := client.UpdateEventStatus(ctx, "nope", event.Completed, "")
		assert.ErrorIs(t, err, remote.ErrNotFound)
	})

	t.Run("success - create request", func(t *testing.T) {
		client, mock := setup(t)
		mock.ExpectExec(`INSERT INTO requests`).
			WithArgs(sqlmock.AnyArg(), "e1", "wh-1", "local", "http://localhost:3000", "pending", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		req, err := client.CreateRequest(ctx, remote.NewRequest{
			EventID: "e1", WebhookID: "wh-1",
			Destination: event.DestinationSnapshot{Name: "local", URL: "http://localhost:3000"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, req.ID)
		assert.Equal(t, event.RequestPending, req.Status)
		assert.False(t, req.Timestamp.IsZero())
	})

	t.Run("success - complete request", func(t *testing.T) {
		client, mock := setup(t)
		mock.ExpectExec(`UPDATE requests SET status = \$2`).
			WithArgs("r1", "completed", int64(12), []byte(`{"status_code":200,"body":"ok"}`), nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := client.MarkRequestCompleted(ctx, "r1", remote.Result{
			Status: event.RequestCompleted, ResponseTimeMs: 12,
			Response: &event.Response{StatusCode: 200, Body: "ok"},
		})
		require.NoError(t, err)
	})

	t.Run("database error is wrapped", func(t *testing.T) {
		client, mock := setup(t)
		mock.ExpectExec(`UPDATE requests`).WillReturnError(sql.ErrConnDone)

		err := client.MarkRequestCompleted(ctx, "r1", remote.Result{Status: event.RequestFailed, FailedReason: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}
