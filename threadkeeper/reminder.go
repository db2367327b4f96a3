package threadkeeper

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Column names for ScheduledReminder
const (
	columnScheduledReminderPostID = "post_id"
	columnScheduledReminderFireAt = "fire_at"
)

// reminderMessages are the templates a due reminder is rendered from.
// The post author's mention is substituted for the %s verb. Selection
// is deterministic per post so repeated renders pick the same line.
var reminderMessages = []string{
	"Hey %s, just checking in. Has your question been answered? If so, use `/solve` to mark this post as solved.",
	"Hi %s! Is this still an open question? If it's been answered, `/solve` closes it out.",
	"%s, did you get the help you needed here? Run `/solve` if the issue is resolved.",
	"Friendly ping, %s. If this post is resolved, please mark it with `/solve` so helpers can focus on open questions.",
}

// ScheduledReminder is a pending one-shot reminder for a support post.
//
// Rows are created when a post becomes eligible for a reminder and are
// deleted when the reminder fires, when the schedule is cancelled, or
// when the post leaves the open-active state. At most one row exists
// per post: scheduling again first removes any existing row.
type ScheduledReminder struct {
	ModelUintID
	ModelUnixTime

	// PostID is the SupportPost (thread) ID this reminder targets
	PostID string `json:"post_id" gorm:"uniqueIndex"`

	// FireAt is when the reminder becomes due (unix milliseconds)
	FireAt int64 `json:"fire_at" gorm:"index"`
}

func (ScheduledReminder) TableName() string {
	return "scheduled_reminders"
}

func (s ScheduledReminder) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("post_id", s.PostID),
		slog.Time("fire_at", time.UnixMilli(s.FireAt)),
	)
}

// ReminderScheduler persists one-shot reminder timers for support
// posts. Timers survive restarts because they live in the database
// rather than in process memory. The sweep separately re-derives due
// reminders from post activity, so a lost row delays a reminder by at
// most one sweep interval.
type ReminderScheduler struct {
	db     DBI
	logger *slog.Logger
}

// NewReminderScheduler returns a ReminderScheduler backed by the given
// database.
func NewReminderScheduler(db DBI, logger *slog.Logger) *ReminderScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		db:     db,
		logger: logger.With(loggerNameKey, "reminder_scheduler"),
	}
}

// Schedule records a reminder for the given post at the given time.
// Any previously scheduled reminder for the post is replaced, so the
// effective fire time always reflects the most recent call.
func (r *ReminderScheduler) Schedule(
	ctx context.Context,
	postID string,
	fireAt time.Time,
) error {
	if err := r.Cancel(ctx, postID); err != nil {
		return err
	}
	rec := &ScheduledReminder{PostID: postID, FireAt: fireAt.UnixMilli()}
	if _, err := r.db.Create(ctx, rec); err != nil {
		return fmt.Errorf("error scheduling reminder: %w", err)
	}
	r.logger.DebugContext(ctx, "scheduled reminder", "reminder", rec)
	return nil
}

// Cancel removes any pending reminder for the given post. Cancelling a
// post with no pending reminder is a no-op.
func (r *ReminderScheduler) Cancel(ctx context.Context, postID string) error {
	_, err := r.db.DeleteWhere(
		ctx,
		&ScheduledReminder{},
		fmt.Sprintf("%s = ?", columnScheduledReminderPostID),
		postID,
	)
	if err != nil {
		return fmt.Errorf("error cancelling reminder: %w", err)
	}
	return nil
}

// Due returns all reminders whose fire time is at or before the given
// moment, oldest first.
func (r *ReminderScheduler) Due(
	ctx context.Context,
	now time.Time,
) ([]ScheduledReminder, error) {
	var due []ScheduledReminder
	err := r.db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s <= ?", columnScheduledReminderFireAt),
		now.UnixMilli(),
	).Order(columnScheduledReminderFireAt).Find(&due).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("error querying due reminders: %w", err)
	}
	return due, nil
}

// reminderMessageFor renders the reminder text for a post, mentioning
// its author. The template is chosen by hashing the post ID, so a post
// always gets the same line.
func reminderMessageFor(postID string, authorID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(postID))
	msg := reminderMessages[int(h.Sum32())%len(reminderMessages)]
	return fmt.Sprintf(msg, fmt.Sprintf("<@%s>", authorID))
}
