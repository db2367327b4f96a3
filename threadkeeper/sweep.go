package threadkeeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lmittmann/tint"
)

// Sweeper periodically walks the tracked posts and applies overdue
// transitions. Each run makes two passes, reminders strictly before
// closures, so a post never receives a reminder and an auto-close in
// the same run.
//
// The reminder pass merges two sources: scheduled reminder rows that
// have come due, and posts whose inactivity window has lapsed without
// a scheduled row (a safety net for rows lost to crashes or manual
// database edits). Both funnel into [LifecycleEngine.Remind], which is
// idempotent, so a post appearing in both sources is reminded once.
type Sweeper struct {
	db        DBI
	engine    *LifecycleEngine
	scheduler *ReminderScheduler
	config    SupportConfig
	logger    *slog.Logger
}

// NewSweeper returns a Sweeper over the given engine and database.
func NewSweeper(
	db DBI,
	engine *LifecycleEngine,
	scheduler *ReminderScheduler,
	config SupportConfig,
	logger *slog.Logger,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		db:        db,
		engine:    engine,
		scheduler: scheduler,
		config:    config,
		logger:    logger.With(loggerNameKey, "sweeper"),
	}
}

// Sweep runs one full pass: reminders first, then closures. Errors on
// individual posts are logged and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepReminders(ctx)
	s.sweepClosures(ctx)
}

func (s *Sweeper) sweepReminders(ctx context.Context) {
	now := s.engine.clock()

	seen := map[string]struct{}{}
	due, err := s.scheduler.Due(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "error listing due reminders", tint.Err(err))
	}
	for _, rec := range due {
		if ctx.Err() != nil {
			return
		}
		seen[rec.PostID] = struct{}{}
		if err = s.engine.Remind(ctx, rec.PostID); err != nil {
			s.logger.ErrorContext(
				ctx,
				"error sending reminder",
				tint.Err(err),
				"post_id", rec.PostID,
			)
		}
	}

	cutoff := now.Add(-s.config.ReminderDelay).UnixMilli()
	var overdue []SupportPost
	err = s.db.DB().WithContext(ctx).Where(
		fmt.Sprintf(
			"%s IS NULL AND %s IS NULL AND %s = ? AND %s <= ?",
			columnSupportPostClosedAt,
			columnSupportPostRemindedAt,
			columnSupportPostIgnoreReminder,
			columnSupportPostLastActivity,
		),
		false,
		cutoff,
	).Order(columnSupportPostLastActivity).Find(&overdue).Error
	if err != nil {
		s.logger.ErrorContext(ctx, "error listing overdue posts", tint.Err(err))
		return
	}
	for i := range overdue {
		if ctx.Err() != nil {
			return
		}
		post := &overdue[i]
		if _, ok := seen[post.ID]; ok {
			continue
		}
		if err = s.engine.Remind(ctx, post.ID); err != nil {
			s.logger.ErrorContext(
				ctx,
				"error sending reminder",
				tint.Err(err),
				"post_id", post.ID,
			)
		}
	}
}

func (s *Sweeper) sweepClosures(ctx context.Context) {
	now := s.engine.clock()
	cutoff := now.Add(-s.config.CloseDelay)

	var stale []SupportPost
	err := s.db.DB().WithContext(ctx).Where(
		fmt.Sprintf(
			"%s IS NULL AND %s IS NOT NULL AND %s <= ? AND %s = ? AND %s = ?",
			columnSupportPostClosedAt,
			columnSupportPostRemindedAt,
			columnSupportPostRemindedAt,
			columnSupportPostIgnoreClose,
			columnSupportPostNoArchive,
		),
		cutoff,
		false,
		false,
	).Order(columnSupportPostRemindedAt).Find(&stale).Error
	if err != nil {
		s.logger.ErrorContext(ctx, "error listing stale posts", tint.Err(err))
		return
	}
	for i := range stale {
		if ctx.Err() != nil {
			return
		}
		post := &stale[i]
		if err = s.engine.AutoClose(ctx, post.ID); err != nil {
			s.logger.ErrorContext(
				ctx,
				"error auto-closing post",
				tint.Err(err),
				"post_id", post.ID,
			)
		}
	}
}
