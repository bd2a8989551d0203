package builtin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arlo/internal/memory"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateScheduledTask(t *testing.T) {
	store := newStore(t)
	tool := NewCreateScheduledTask(store)

	res, err := tool.Execute(context.Background(), call("create_scheduled_task", map[string]any{
		"title":       "daily digest",
		"description": "summarize the day",
		"schedule":    map[string]any{"type": "daily", "time": "09:00"},
	}))
	require.NoError(t, err)
	require.True(t, res.Success(), "error: %v", res.Error)
	assert.Contains(t, res.Content, "daily digest")
	assert.Contains(t, res.Content, "Next run:")

	items, err := store.ListScheduledItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, memory.ItemTask, items[0].Type)
	assert.Equal(t, memory.StatusActive, items[0].Status)
}

func TestCreateScheduledTaskRejectsBadSchedule(t *testing.T) {
	tool := NewCreateScheduledTask(newStore(t))

	res, _ := tool.Execute(context.Background(), call("create_scheduled_task", map[string]any{
		"title":       "x",
		"description": "y",
		"schedule":    map[string]any{"type": "monthly", "day_of_month": float64(31), "time": "09:00"},
	}))
	require.False(t, res.Success())

	res, _ = tool.Execute(context.Background(), call("create_scheduled_task", map[string]any{
		"title":       "x",
		"description": "y",
		"schedule":    map[string]any{"type": "once", "at": "2001-01-01T00:00:00Z"},
	}))
	require.False(t, res.Success(), "expired once has no future fire")
}

func TestCreateReminder(t *testing.T) {
	store := newStore(t)

	res, _ := NewCreateReminder(store).Execute(context.Background(), call("create_reminder", map[string]any{
		"title":    "stand up",
		"schedule": map[string]any{"type": "interval", "minutes": float64(30)},
	}))
	require.True(t, res.Success(), "error: %v", res.Error)

	items, err := store.ListScheduledItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, memory.ItemReminder, items[0].Type)
	assert.Empty(t, items[0].Description)
}

func TestListScheduledItemsFilter(t *testing.T) {
	store := newStore(t)
	mustCreate := func(title string) memory.ScheduledItem {
		res, _ := NewCreateReminder(store).Execute(context.Background(), call("create_reminder", map[string]any{
			"title":    title,
			"schedule": map[string]any{"type": "interval", "minutes": float64(10)},
		}))
		require.True(t, res.Success())
		items, err := store.ListScheduledItems()
		require.NoError(t, err)
		return items[0]
	}
	first := mustCreate("a")
	mustCreate("b")
	require.NoError(t, store.SetItemStatus(first.ID, memory.StatusPaused))

	res, _ := NewListScheduledItems(store).Execute(context.Background(), call("list_scheduled_items", map[string]any{"status": "paused"}))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "a")
	assert.NotContains(t, res.Content, "b")

	res, _ = NewListScheduledItems(store).Execute(context.Background(), call("list_scheduled_items", map[string]any{"status": "done"}))
	assert.Contains(t, res.Content, "No scheduled items with status 'done'")
}

func TestPauseResumeCancelLifecycle(t *testing.T) {
	store := newStore(t)
	res, _ := NewCreateScheduledTask(store).Execute(context.Background(), call("create_scheduled_task", map[string]any{
		"title":       "t",
		"description": "d",
		"schedule":    map[string]any{"type": "interval", "minutes": float64(5)},
	}))
	require.True(t, res.Success())
	items, _ := store.ListScheduledItems()
	id := items[0].ID

	res, _ = NewResumeScheduledItem(store).Execute(context.Background(), call("resume_scheduled_item", map[string]any{"item_id": float64(id)}))
	require.False(t, res.Success(), "active items cannot be resumed")

	res, _ = NewPauseScheduledItem(store).Execute(context.Background(), call("pause_scheduled_item", map[string]any{"item_id": float64(id)}))
	require.True(t, res.Success(), "error: %v", res.Error)
	it, _ := store.ScheduledItem(id)
	assert.Equal(t, memory.StatusPaused, it.Status)
	assert.True(t, it.NextRunAt.IsZero())

	res, _ = NewResumeScheduledItem(store).Execute(context.Background(), call("resume_scheduled_item", map[string]any{"item_id": float64(id)}))
	require.True(t, res.Success())
	it, _ = store.ScheduledItem(id)
	assert.Equal(t, memory.StatusActive, it.Status)
	assert.False(t, it.NextRunAt.IsZero())

	res, _ = NewCancelScheduledItem(store).Execute(context.Background(), call("cancel_scheduled_item", map[string]any{"item_id": float64(id)}))
	require.True(t, res.Success())
	it, _ = store.ScheduledItem(id)
	assert.Equal(t, memory.StatusCancelled, it.Status)

	// Cancelling again is a no-op, not an error.
	res, _ = NewCancelScheduledItem(store).Execute(context.Background(), call("cancel_scheduled_item", map[string]any{"item_id": float64(id)}))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "already")
}

func TestGetScheduledItem(t *testing.T) {
	store := newStore(t)
	res, _ := NewCreateScheduledTask(store).Execute(context.Background(), call("create_scheduled_task", map[string]any{
		"title":       "detail me",
		"description": "the long description",
		"schedule":    map[string]any{"type": "weekly", "day": "monday", "time": "10:00"},
	}))
	require.True(t, res.Success())
	items, _ := store.ListScheduledItems()

	res, _ = NewGetScheduledItem(store).Execute(context.Background(), call("get_scheduled_item", map[string]any{"item_id": float64(items[0].ID)}))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "detail me")
	assert.Contains(t, res.Content, "the long description")
	assert.Contains(t, res.Content, "Last run: never")

	res, _ = NewGetScheduledItem(store).Execute(context.Background(), call("get_scheduled_item", map[string]any{"item_id": float64(9999)}))
	require.False(t, res.Success())
}
