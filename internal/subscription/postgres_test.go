package subscription

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func subscriptionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "criteria", "frequency", "channel", "status", "created_at", "updated_at", "cancelled_at",
	})
}

func TestPostgresStore_Create(t *testing.T) {
	store, mock := newMockStore(t)
	sub := newSubscription("jane@example.com")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WithArgs(sqlmock.AnyArg(), "jane@example.com", sqlmock.AnyArg(), FrequencyDaily, ChannelEmail,
			string(StatusActive), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), sub))
	assert.NotEmpty(t, sub.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRejectsInvalid(t *testing.T) {
	store, mock := newMockStore(t)
	sub := newSubscription("nope")

	err := store.Create(context.Background(), sub)

	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1")).
		WithArgs("sub-1").
		WillReturnRows(subscriptionRows().AddRow(
			"sub-1", "jane@example.com", []byte(`{"conditions":["asthma"],"min_confidence":0.5}`),
			FrequencyWeekly, ChannelEmail, "active", created, created, nil,
		))
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	sub, err := store.Get(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"asthma"}, sub.Criteria.Conditions)
	assert.Equal(t, FrequencyWeekly, sub.Preferences.Frequency)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Nil(t, sub.CancelledAt)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Cancel(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cancelled := created.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE subscriptions SET")).
		WithArgs("sub-1", string(StatusCancelled), sqlmock.AnyArg()).
		WillReturnRows(subscriptionRows().AddRow(
			"sub-1", "jane@example.com", []byte(`{"conditions":["asthma"]}`),
			FrequencyDaily, ChannelEmail, "cancelled", created, cancelled, cancelled,
		))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE subscriptions SET")).
		WithArgs("missing", string(StatusCancelled), sqlmock.AnyArg()).
		WillReturnRows(subscriptionRows())

	sub, err := store.Cancel(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)
	assert.True(t, cancelled.Equal(*sub.CancelledAt))

	_, err = store.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WithArgs("active", 10, 0).
		WillReturnRows(subscriptionRows().
			AddRow("sub-2", "b@example.com", []byte(`{"conditions":["asthma"]}`), FrequencyDaily, ChannelEmail, "active", now, now, nil).
			AddRow("sub-1", "a@example.com", []byte(`{"conditions":["copd"]}`), FrequencyDaily, ChannelEmail, "active", now, now, nil))

	subs, err := store.List(context.Background(), ListOptions{Status: StatusActive, Limit: 10})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "sub-2", subs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
