package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

func newTestHistory(t *testing.T) *SQLiteAlertHistory {
	t.Helper()

	h, err := NewSQLiteAlertHistory(zap.NewNop(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func delivery(id, path, backend string, delivered bool, sentAt time.Time) *model.Delivery {
	d := &model.Delivery{
		ID:             id,
		NotificationID: "n-" + id,
		Path:           path,
		Backend:        backend,
		State:          model.StateError,
		Message:        "0 children, need 1",
		Delivered:      delivered,
		SentAt:         sentAt,
	}
	if !delivered {
		d.Error = "connection refused"
	}
	return d
}

func TestSQLiteAlertHistory_StoreAndGet(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	sentAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.StoreDelivery(ctx, delivery("1", "/svc", "email", false, sentAt)))

	got, err := h.Get(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "n-1", got.NotificationID)
	assert.Equal(t, "/svc", got.Path)
	assert.Equal(t, "email", got.Backend)
	assert.Equal(t, model.StateError, got.State)
	assert.False(t, got.Delivered)
	assert.Equal(t, "connection refused", got.Error)
	assert.True(t, sentAt.Equal(got.SentAt))

	missing, err := h.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteAlertHistory_ListAndCount(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.StoreDelivery(ctx, delivery("1", "/svc", "email", true, base)))
	require.NoError(t, h.StoreDelivery(ctx, delivery("2", "/svc", "slack", false, base.Add(time.Minute))))
	require.NoError(t, h.StoreDelivery(ctx, delivery("3", "/db", "email", true, base.Add(2*time.Minute))))

	all, err := h.List(ctx, HistoryFilter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.Equal(t, "1", all[2].ID)

	page, err := h.List(ctx, HistoryFilter{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2", page[0].ID)

	svc, err := h.List(ctx, HistoryFilter{Path: "/svc"}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, svc, 2)

	failed := false
	n, err := h.Count(ctx, HistoryFilter{Delivered: &failed})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.Count(ctx, HistoryFilter{Path: "/svc", Backend: "email"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteAlertHistory_DeleteBefore(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, h.StoreDelivery(ctx, delivery("old", "/svc", "email", true, now.Add(-48*time.Hour))))
	require.NoError(t, h.StoreDelivery(ctx, delivery("new", "/svc", "email", true, now)))

	deleted, err := h.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err := h.Count(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteAlertHistory_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	h, err := NewSQLiteAlertHistory(zap.NewNop(), path)
	require.NoError(t, err)
	require.NoError(t, h.StoreDelivery(ctx, delivery("1", "/svc", "email", true, time.Now())))
	require.NoError(t, h.Close())

	h, err = NewSQLiteAlertHistory(zap.NewNop(), path)
	require.NoError(t, err)
	defer h.Close()

	n, err := h.Count(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
