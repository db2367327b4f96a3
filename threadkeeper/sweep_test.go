package threadkeeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepSendsOneReminderPerPost(t *testing.T) {
	f := newEngineFixture(t)
	f.track("thread-1")

	// not yet overdue
	f.sweeper.Sweep(context.Background())
	assert.Empty(t, f.session.sentMessages("thread-1"))

	f.advance(f.config.ReminderDelay + time.Minute)
	f.sweeper.Sweep(context.Background())
	assert.Len(t, f.session.sentMessages("thread-1"), 1)

	// an immediate second sweep sends nothing new
	f.sweeper.Sweep(context.Background())
	assert.Len(t, f.session.sentMessages("thread-1"), 1)
}

func TestSweepRemindsWithoutScheduledRow(t *testing.T) {
	f := newEngineFixture(t)
	f.track("thread-1")

	// simulate a lost reminder row; the activity-based safety net
	// should still catch the post
	require.NoError(t, f.scheduler.Cancel(context.Background(), "thread-1"))

	f.advance(f.config.ReminderDelay + time.Minute)
	f.sweeper.Sweep(context.Background())
	assert.Len(t, f.session.sentMessages("thread-1"), 1)
}

func TestSweepRemindersBeforeClosures(t *testing.T) {
	f := newEngineFixture(t)
	f.track("thread-1")

	// overdue for a reminder by more than the close delay; a single
	// sweep must only remind, never remind-and-close
	f.advance(f.config.ReminderDelay + f.config.CloseDelay + time.Hour)
	f.sweeper.Sweep(context.Background())

	post := f.reload("thread-1")
	assert.Equal(t, PostStateOpenReminded, post.State())
	assert.Len(t, f.session.sentMessages("thread-1"), 1)
}

func TestSweepClosesStaleRemindedPost(t *testing.T) {
	f := newEngineFixture(t)
	f.track("thread-1")

	f.advance(f.config.ReminderDelay + time.Minute)
	f.sweeper.Sweep(context.Background())
	require.Equal(t, PostStateOpenReminded, f.reload("thread-1").State())

	f.advance(f.config.CloseDelay + time.Minute)
	f.sweeper.Sweep(context.Background())

	post := f.reload("thread-1")
	assert.Equal(t, PostStateClosed, post.State())
	assert.Nil(t, post.RemindedAt)
	ch, chErr := f.session.Channel("thread-1")
	require.NoError(t, chErr)
	assert.True(t, ch.ThreadMetadata.Archived, "auto-close archives right away")

	// closing happened exactly once; further sweeps change nothing
	closedAt := post.ClosedAt
	f.advance(time.Hour)
	f.sweeper.Sweep(context.Background())
	post = f.reload("thread-1")
	assert.Equal(t, closedAt.Unix(), post.ClosedAt.Unix())
}

func TestSweepSkipsNoArchivePost(t *testing.T) {
	f := newEngineFixture(t)
	f.track("thread-1")

	f.advance(f.config.ReminderDelay + time.Minute)
	f.sweeper.Sweep(context.Background())
	require.Equal(t, PostStateOpenReminded, f.reload("thread-1").State())

	_, err := f.db.UpdatesWhere(
		context.Background(),
		&SupportPost{},
		map[string]any{columnSupportPostNoArchive: true},
		"id = ?",
		"thread-1",
	)
	require.NoError(t, err)

	// overdue for closure, but closing would imply an archive
	f.advance(f.config.CloseDelay + time.Hour)
	f.sweeper.Sweep(context.Background())

	post := f.reload("thread-1")
	assert.False(t, post.Closed())
	ch, chErr := f.session.Channel("thread-1")
	require.NoError(t, chErr)
	assert.False(t, ch.ThreadMetadata.Archived)
}

func TestSweepRespectsIgnoreFlags(t *testing.T) {
	f := newEngineFixture(t)
	f.track("thread-1")
	_, err := f.db.UpdatesWhere(
		context.Background(),
		&SupportPost{},
		map[string]any{
			columnSupportPostIgnoreReminder: true,
			columnSupportPostIgnoreClose:    true,
		},
		"id = ?",
		"thread-1",
	)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.Cancel(context.Background(), "thread-1"))

	f.advance(f.config.ReminderDelay + f.config.CloseDelay + time.Hour)
	f.sweeper.Sweep(context.Background())

	post := f.reload("thread-1")
	assert.Equal(t, PostStateOpenActive, post.State())
	assert.Empty(t, f.session.sentMessages("thread-1"))
}

func TestSweepAuthorReplyResetsCycle(t *testing.T) {
	f := newEngineFixture(t)
	f.track("thread-1")

	f.advance(f.config.ReminderDelay + time.Minute)
	f.sweeper.Sweep(context.Background())
	require.Equal(t, PostStateOpenReminded, f.reload("thread-1").State())

	// author replies before the close delay elapses
	f.advance(30 * time.Minute)
	f.message("thread-1", testAuthorID)
	require.Equal(t, PostStateOpenActive, f.reload("thread-1").State())

	// the close sweep no longer applies; the reminder cycle restarts
	f.advance(f.config.CloseDelay)
	f.sweeper.Sweep(context.Background())
	post := f.reload("thread-1")
	assert.False(t, post.Closed())
}
