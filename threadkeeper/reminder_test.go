package threadkeeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleReplacesExisting(t *testing.T) {
	db := testDB(t)
	scheduler := NewReminderScheduler(db, nil)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, scheduler.Schedule(ctx, "post-1", base.Add(time.Hour)))
	require.NoError(t, scheduler.Schedule(ctx, "post-1", base.Add(2*time.Hour)))

	// only the later schedule survives
	due, err := scheduler.Due(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = scheduler.Due(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "post-1", due[0].PostID)
}

func TestCancelWithoutScheduleIsNoOp(t *testing.T) {
	db := testDB(t)
	scheduler := NewReminderScheduler(db, nil)

	require.NoError(t, scheduler.Cancel(context.Background(), "post-1"))
}

func TestDueOrdersOldestFirst(t *testing.T) {
	db := testDB(t)
	scheduler := NewReminderScheduler(db, nil)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, scheduler.Schedule(ctx, "post-b", base.Add(2*time.Minute)))
	require.NoError(t, scheduler.Schedule(ctx, "post-a", base.Add(time.Minute)))

	due, err := scheduler.Due(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "post-a", due[0].PostID)
	assert.Equal(t, "post-b", due[1].PostID)
}

func TestReminderMessageDeterministic(t *testing.T) {
	first := reminderMessageFor("post-1", "user-1")
	second := reminderMessageFor("post-1", "user-1")
	assert.Equal(t, first, second)
	assert.Contains(t, first, "<@user-1>")
}
