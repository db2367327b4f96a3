package threadkeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// ErrPostNotTracked indicates no lifecycle record exists for the
	// thread, either because it was never a support post or because
	// Discord reported it gone and the record was dropped
	ErrPostNotTracked = errors.New("post is not tracked")

	// ErrNotAuthorized indicates the acting user may not perform the
	// operation on this post
	ErrNotAuthorized = errors.New("not authorized for this post")

	// ErrAlreadySolved indicates the post is already closed
	ErrAlreadySolved = errors.New("post is already solved")

	// ErrNotSolved indicates the operation requires a closed post
	ErrNotSolved = errors.New("post is not solved")
)

// LifecycleEngine drives support posts through their lifecycle:
// open-active, open-reminded, closed. All transitions funnel through
// it, whether they originate from a slash command, a gateway event, or
// the periodic sweep.
//
// Ordering is external-first: the Discord side effect (tag edit,
// archive, message) is attempted before the database write, so a
// failed API call leaves the record unchanged and the transition
// observably not-happened. The one exception is a 404 from Discord,
// which means the thread is gone and the record is deleted instead.
type LifecycleEngine struct {
	db           DBI
	session      DiscordSessionHandler
	tags         *TagTranslator
	scheduler    *ReminderScheduler
	guard        *ArchiveGuard
	config       SupportConfig
	forumChannel string
	limiter      *rate.Limiter
	logger       *slog.Logger

	// clock is swappable for tests
	clock func() time.Time
}

// NewLifecycleEngine returns a LifecycleEngine wired to the given
// database, session and support config.
func NewLifecycleEngine(
	db DBI,
	session DiscordSessionHandler,
	config SupportConfig,
	forumChannelID string,
	scheduler *ReminderScheduler,
	guard *ArchiveGuard,
	logger *slog.Logger,
) *LifecycleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	mps := config.MessagesPerSecond
	if mps <= 0 {
		mps = DefaultMessagesPerSecond
	}
	return &LifecycleEngine{
		db:           db,
		session:      session,
		tags:         NewTagTranslator(config.Tags),
		scheduler:    scheduler,
		guard:        guard,
		config:       config,
		forumChannel: forumChannelID,
		limiter:      rate.NewLimiter(rate.Limit(mps), 1),
		logger:       logger.With(loggerNameKey, "lifecycle_engine"),
		clock:        time.Now,
	}
}

// GetPost loads the lifecycle record for the given thread ID. Returns
// ErrPostNotTracked if no record exists.
func (e *LifecycleEngine) GetPost(
	ctx context.Context,
	postID string,
) (*SupportPost, error) {
	var post SupportPost
	err := e.db.DB().WithContext(ctx).First(&post, "id = ?", postID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotTracked
		}
		return nil, fmt.Errorf("error loading post %s: %w", postID, err)
	}
	return &post, nil
}

// TrackThread begins lifecycle tracking for a freshly created forum
// thread: a record is created, the unanswered tag applied, and a
// reminder scheduled. Threads outside the configured forum channel are
// ignored. Tracking an already tracked thread is a no-op.
func (e *LifecycleEngine) TrackThread(
	ctx context.Context,
	ch *discordgo.Channel,
) (*SupportPost, error) {
	if e.forumChannel != "" && ch.ParentID != e.forumChannel {
		return nil, nil
	}
	if existing, err := e.GetPost(ctx, ch.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrPostNotTracked) {
		return nil, err
	}

	now := e.clock()
	post := NewSupportPost(ch, now)

	if err := e.applyTags(ctx, post, ch.AppliedTags, TagStateUnanswered); err != nil {
		return nil, err
	}
	if _, err := e.db.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("error creating post record: %w", err)
	}
	if !post.IgnoreReminder {
		if err := e.scheduler.Schedule(
			ctx,
			post.ID,
			now.Add(e.config.ReminderDelay),
		); err != nil {
			e.logger.ErrorContext(ctx, "error scheduling reminder", tint.Err(err))
		}
	}
	e.logger.InfoContext(ctx, "tracking new support post", "post", post)
	return post, nil
}

// HandleMessage records activity in a tracked thread. The first
// response from someone other than the author moves the post from
// unanswered to unsolved. Author activity resets the inactivity
// window; if a reminder had already been sent, it is cleared and the
// post returns to open-active.
func (e *LifecycleEngine) HandleMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	if m.Author == nil || m.Author.Bot {
		return nil
	}
	post, err := e.GetPost(ctx, m.ChannelID)
	if err != nil {
		if errors.Is(err, ErrPostNotTracked) {
			return nil
		}
		return err
	}
	if post.Closed() {
		return nil
	}

	now := e.clock()
	updates := map[string]any{
		columnSupportPostLastActivity: now.UnixMilli(),
	}

	firstResponse := m.Author.ID != post.AuthorID && post.Users.Len() <= 1
	if post.Users.Add(m.Author.ID) {
		updates[columnSupportPostUsers] = post.Users
	}

	if firstResponse {
		ch, chErr := e.session.Channel(post.ID)
		if chErr != nil {
			if e.dropIfGone(ctx, post, chErr) {
				return nil
			}
			return chErr
		}
		if err = e.applyTags(ctx, post, ch.AppliedTags, TagStateUnsolved); err != nil {
			return err
		}
	}

	fromAuthor := m.Author.ID == post.AuthorID
	if fromAuthor && post.RemindedAt != nil {
		post.RemindedAt = nil
		updates[columnSupportPostRemindedAt] = nil
	}

	post.LastActivity = now.UnixMilli()
	if _, err = e.db.UpdatesWhere(
		ctx,
		&SupportPost{},
		updates,
		"id = ?",
		post.ID,
	); err != nil {
		return fmt.Errorf("error recording activity: %w", err)
	}

	if fromAuthor && !post.IgnoreReminder {
		if err = e.scheduler.Schedule(
			ctx,
			post.ID,
			now.Add(e.config.ReminderDelay),
		); err != nil {
			e.logger.ErrorContext(ctx, "error rescheduling reminder", tint.Err(err))
		}
	}
	return nil
}

// Solve closes the post as resolved. Only the post author or staff may
// solve; an already closed post returns ErrAlreadySolved. An optional
// helper is credited. The thread gets the solved tag and a shortened
// auto-archive duration; Discord archives it once it goes idle.
func (e *LifecycleEngine) Solve(
	ctx context.Context,
	postID string,
	actorID string,
	staff bool,
	helperID string,
) (*SupportPost, error) {
	post, err := e.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !staff && actorID != post.AuthorID {
		return nil, ErrNotAuthorized
	}
	if post.Closed() {
		return nil, ErrAlreadySolved
	}

	ch, err := e.session.Channel(post.ID)
	if err != nil {
		if e.dropIfGone(ctx, post, err) {
			return nil, ErrPostNotTracked
		}
		return nil, err
	}

	if helperID != "" && helperID != post.AuthorID {
		post.Helped.Add(helperID)
	}

	if err = e.closeThread(ctx, post, ch.AppliedTags, TagStateSolved, false); err != nil {
		return nil, err
	}

	now := e.clock()
	post.ClosedAt = &now
	post.RemindedAt = nil
	if _, err = e.db.UpdatesWhere(
		ctx,
		&SupportPost{},
		map[string]any{
			columnSupportPostClosedAt:   now,
			columnSupportPostRemindedAt: nil,
			columnSupportPostHelped:     post.Helped,
		},
		"id = ?",
		post.ID,
	); err != nil {
		return nil, fmt.Errorf("error closing post: %w", err)
	}
	if err = e.scheduler.Cancel(ctx, post.ID); err != nil {
		e.logger.ErrorContext(ctx, "error cancelling reminder", tint.Err(err))
	}
	e.logger.InfoContext(ctx, "post solved", "post", post, "actor_id", actorID)
	return post, nil
}

// Unsolve reverses a solve: the post returns to open-active, helper
// credits are withdrawn, the sticky automation flags are cleared, and
// the thread is un-archived with the unsolved tag. Only the author or
// staff may unsolve, and only while the post is closed.
func (e *LifecycleEngine) Unsolve(
	ctx context.Context,
	postID string,
	actorID string,
	staff bool,
) (*SupportPost, error) {
	return e.reopenPost(ctx, postID, actorID, staff, true)
}

// Reopen returns a closed post to open-active without withdrawing
// helper credits. Any participant may reopen.
func (e *LifecycleEngine) Reopen(
	ctx context.Context,
	postID string,
	actorID string,
	staff bool,
) (*SupportPost, error) {
	return e.reopenPost(ctx, postID, actorID, staff, false)
}

func (e *LifecycleEngine) reopenPost(
	ctx context.Context,
	postID string,
	actorID string,
	staff bool,
	resetHelped bool,
) (*SupportPost, error) {
	post, err := e.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if resetHelped && !staff && actorID != post.AuthorID {
		return nil, ErrNotAuthorized
	}
	if !resetHelped && !staff && actorID != post.AuthorID &&
		!post.Users.Contains(actorID) {
		return nil, ErrNotAuthorized
	}
	if !post.Closed() {
		return nil, ErrNotSolved
	}

	ch, err := e.session.Channel(post.ID)
	if err != nil {
		if e.dropIfGone(ctx, post, err) {
			return nil, ErrPostNotTracked
		}
		return nil, err
	}

	state := TagStateUnsolved
	if post.Users.Len() <= 1 {
		state = TagStateUnanswered
	}
	unarchived := false
	edit := &discordgo.ChannelEdit{
		Archived: &unarchived,
		Locked:   &unarchived,
	}
	tags := e.tags.TagsFor(ch.AppliedTags, state, post.Priority)
	edit.AppliedTags = &tags
	if _, err = e.session.ChannelEdit(post.ID, edit); err != nil {
		if e.dropIfGone(ctx, post, err) {
			return nil, ErrPostNotTracked
		}
		return nil, fmt.Errorf("error reopening thread: %w", err)
	}

	now := e.clock()
	updates := map[string]any{
		columnSupportPostClosedAt:       nil,
		columnSupportPostRemindedAt:     nil,
		columnSupportPostLastActivity:   now.UnixMilli(),
		columnSupportPostIgnoreReminder: false,
		columnSupportPostIgnoreClose:    false,
		columnSupportPostNoArchive:      false,
	}
	if resetHelped {
		post.Helped = StringSet{}
		updates[columnSupportPostHelped] = post.Helped
	}
	post.ClosedAt = nil
	post.RemindedAt = nil
	post.LastActivity = now.UnixMilli()
	post.IgnoreReminder = false
	post.IgnoreClose = false
	post.NoArchive = false
	if _, err = e.db.UpdatesWhere(
		ctx,
		&SupportPost{},
		updates,
		"id = ?",
		post.ID,
	); err != nil {
		return nil, fmt.Errorf("error reopening post: %w", err)
	}
	if err = e.scheduler.Schedule(
		ctx,
		post.ID,
		now.Add(e.config.ReminderDelay),
	); err != nil {
		e.logger.ErrorContext(ctx, "error rescheduling reminder", tint.Err(err))
	}
	e.logger.InfoContext(ctx, "post reopened", "post", post, "actor_id", actorID)
	return post, nil
}

// MarkForReview flags a closed post for staff attention and suspends
// all automation on it: no reminders, no auto-close, no archiving. The
// review tag is applied and any reminder timestamp cleared. Staff
// only; an open post returns ErrNotSolved.
func (e *LifecycleEngine) MarkForReview(
	ctx context.Context,
	postID string,
	actorID string,
	staff bool,
) (*SupportPost, error) {
	if !staff {
		return nil, ErrNotAuthorized
	}
	post, err := e.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.Closed() {
		return nil, ErrNotSolved
	}

	ch, err := e.session.Channel(post.ID)
	if err != nil {
		if e.dropIfGone(ctx, post, err) {
			return nil, ErrPostNotTracked
		}
		return nil, err
	}
	if err = e.applyTags(ctx, post, ch.AppliedTags, TagStateReview); err != nil {
		return nil, err
	}

	post.IgnoreReminder = true
	post.IgnoreClose = true
	post.NoArchive = true
	post.RemindedAt = nil
	if _, err = e.db.UpdatesWhere(
		ctx,
		&SupportPost{},
		map[string]any{
			columnSupportPostIgnoreReminder: true,
			columnSupportPostIgnoreClose:    true,
			columnSupportPostNoArchive:      true,
			columnSupportPostRemindedAt:     nil,
		},
		"id = ?",
		post.ID,
	); err != nil {
		return nil, fmt.Errorf("error flagging post for review: %w", err)
	}
	if err = e.scheduler.Cancel(ctx, post.ID); err != nil {
		e.logger.ErrorContext(ctx, "error cancelling reminder", tint.Err(err))
	}
	e.logger.InfoContext(
		ctx,
		"post flagged for review",
		"post", post,
		"actor_id", actorID,
	)
	return post, nil
}

// Remind sends the inactivity reminder for a post, if one is still
// warranted. The call is idempotent: a post that is closed, already
// reminded, under review, or opted out is skipped without error. The
// live thread is revalidated first, so a thread that was solved,
// archived, locked, or deleted out-of-band never gets a stale nudge
// (sending into an archived thread would un-archive it).
func (e *LifecycleEngine) Remind(ctx context.Context, postID string) error {
	post, err := e.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, ErrPostNotTracked) {
			return e.scheduler.Cancel(ctx, postID)
		}
		return err
	}
	if post.Closed() || post.RemindedAt != nil || post.IgnoreReminder {
		return e.scheduler.Cancel(ctx, postID)
	}

	ch, err := e.session.Channel(post.ID)
	if err != nil {
		if e.dropIfGone(ctx, post, err) {
			return nil
		}
		return err
	}
	if ch.ThreadMetadata != nil &&
		(ch.ThreadMetadata.Archived || ch.ThreadMetadata.Locked) {
		e.logger.WarnContext(
			ctx,
			"skipping reminder, thread archived or locked out-of-band",
			"post", post,
		)
		return e.scheduler.Cancel(ctx, postID)
	}
	if e.tags.HasFinalTag(ch.AppliedTags) {
		e.logger.WarnContext(
			ctx,
			"skipping reminder, thread already carries a final tag",
			"post", post,
		)
		return e.scheduler.Cancel(ctx, postID)
	}

	if err = e.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := reminderMessageFor(post.ID, post.AuthorID)
	if _, err = e.session.ChannelMessageSend(post.ID, msg); err != nil {
		if e.dropIfGone(ctx, post, err) {
			return nil
		}
		return fmt.Errorf("error sending reminder: %w", err)
	}

	now := e.clock()
	post.RemindedAt = &now
	if _, err = e.db.Update(
		ctx,
		post,
		columnSupportPostRemindedAt,
		now,
	); err != nil {
		return fmt.Errorf("error recording reminder: %w", err)
	}
	if err = e.scheduler.Cancel(ctx, post.ID); err != nil {
		e.logger.ErrorContext(ctx, "error clearing reminder", tint.Err(err))
	}
	e.logger.InfoContext(ctx, "sent reminder", "post", post)
	return nil
}

// AutoClose closes a reminded post that has gone quiet past the close
// delay. The thread gets the solved tag and is archived. Posts that
// are already closed, opted out of closing, or opted out of archiving
// are skipped.
func (e *LifecycleEngine) AutoClose(ctx context.Context, postID string) error {
	post, err := e.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, ErrPostNotTracked) {
			return nil
		}
		return err
	}
	if post.Closed() || post.IgnoreClose || post.NoArchive || post.RemindedAt == nil {
		return nil
	}

	ch, err := e.session.Channel(post.ID)
	if err != nil {
		if e.dropIfGone(ctx, post, err) {
			return nil
		}
		return err
	}
	if err = e.closeThread(ctx, post, ch.AppliedTags, TagStateSolved, true); err != nil {
		return err
	}

	now := e.clock()
	post.ClosedAt = &now
	post.RemindedAt = nil
	if _, err = e.db.UpdatesWhere(
		ctx,
		&SupportPost{},
		map[string]any{
			columnSupportPostClosedAt:   now,
			columnSupportPostRemindedAt: nil,
		},
		"id = ?",
		post.ID,
	); err != nil {
		return fmt.Errorf("error auto-closing post: %w", err)
	}
	if err = e.scheduler.Cancel(ctx, post.ID); err != nil {
		e.logger.ErrorContext(ctx, "error cancelling reminder", tint.Err(err))
	}
	e.logger.InfoContext(ctx, "auto-closed post", "post", post)
	return nil
}

// HandleThreadUpdate reacts to thread state changes from the gateway,
// principally archive flips. Archives the bot performed itself are
// recognized by the archive guard and ignored. An external archive of
// a NoArchive post is reversed; an external archive of an open post is
// honored as a close.
func (e *LifecycleEngine) HandleThreadUpdate(
	ctx context.Context,
	t *discordgo.ThreadUpdate,
) error {
	post, err := e.GetPost(ctx, t.ID)
	if err != nil {
		if errors.Is(err, ErrPostNotTracked) {
			return nil
		}
		return err
	}

	wasArchived := t.BeforeUpdate != nil &&
		t.BeforeUpdate.ThreadMetadata != nil &&
		t.BeforeUpdate.ThreadMetadata.Archived
	nowArchived := t.ThreadMetadata != nil && t.ThreadMetadata.Archived

	if t.Name != "" && t.Name != post.Title {
		post.Title = t.Name
		if _, err = e.db.Update(ctx, post, "title", t.Name); err != nil {
			e.logger.ErrorContext(ctx, "error updating post title", tint.Err(err))
		}
	}

	if wasArchived || !nowArchived {
		return nil
	}
	if e.guard.WasSelfArchived(post.ID) {
		e.logger.DebugContext(ctx, "ignoring self-archive", "post", post)
		return nil
	}

	if post.NoArchive {
		unarchived := false
		if _, err = e.session.ChannelEdit(
			post.ID,
			&discordgo.ChannelEdit{Archived: &unarchived},
		); err != nil {
			if e.dropIfGone(ctx, post, err) {
				return nil
			}
			return fmt.Errorf("error reversing archive: %w", err)
		}
		e.logger.InfoContext(ctx, "reversed external archive", "post", post)
		return nil
	}

	if post.Closed() {
		return nil
	}
	now := e.clock()
	post.ClosedAt = &now
	post.RemindedAt = nil
	if _, err = e.db.UpdatesWhere(
		ctx,
		&SupportPost{},
		map[string]any{
			columnSupportPostClosedAt:   now,
			columnSupportPostRemindedAt: nil,
		},
		"id = ?",
		post.ID,
	); err != nil {
		return fmt.Errorf("error closing externally archived post: %w", err)
	}
	if err = e.scheduler.Cancel(ctx, post.ID); err != nil {
		e.logger.ErrorContext(ctx, "error cancelling reminder", tint.Err(err))
	}
	e.logger.InfoContext(ctx, "external archive treated as close", "post", post)
	return nil
}

// HandleThreadDelete drops the lifecycle record for a deleted thread.
func (e *LifecycleEngine) HandleThreadDelete(
	ctx context.Context,
	t *discordgo.ThreadDelete,
) error {
	post, err := e.GetPost(ctx, t.ID)
	if err != nil {
		if errors.Is(err, ErrPostNotTracked) {
			return nil
		}
		return err
	}
	e.dropPost(ctx, post)
	return nil
}

// SetPriority sets or clears the post's priority and re-applies tags
// so the priority tag tracks it. Staff only.
func (e *LifecycleEngine) SetPriority(
	ctx context.Context,
	postID string,
	actorID string,
	staff bool,
	priority *PostPriority,
) (*SupportPost, error) {
	if !staff {
		return nil, ErrNotAuthorized
	}
	post, err := e.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	post.Priority = priority

	ch, err := e.session.Channel(post.ID)
	if err != nil {
		if e.dropIfGone(ctx, post, err) {
			return nil, ErrPostNotTracked
		}
		return nil, err
	}
	state := TagStateUnsolved
	switch {
	case post.UnderReview():
		state = TagStateReview
	case post.Closed():
		state = TagStateSolved
	case post.Users.Len() <= 1:
		state = TagStateUnanswered
	}
	if err = e.applyTags(ctx, post, ch.AppliedTags, state); err != nil {
		return nil, err
	}
	if _, err = e.db.Update(
		ctx,
		post,
		columnSupportPostPriority,
		post.Priority,
	); err != nil {
		return nil, fmt.Errorf("error updating priority: %w", err)
	}
	return post, nil
}

// applyTags pushes the managed-tag projection for the given state onto
// the thread.
func (e *LifecycleEngine) applyTags(
	ctx context.Context,
	post *SupportPost,
	current []string,
	state TagState,
) error {
	tags := e.tags.TagsFor(current, state, post.Priority)
	if _, err := e.session.ChannelEdit(
		post.ID,
		&discordgo.ChannelEdit{AppliedTags: &tags},
	); err != nil {
		if e.dropIfGone(ctx, post, err) {
			return ErrPostNotTracked
		}
		return fmt.Errorf("error applying tags: %w", err)
	}
	return nil
}

// closeThread applies the final tag set. With archiveNow the thread is
// archived immediately and the archive marked as self-inflicted so the
// gateway handler doesn't mistake it for an external one; otherwise
// the auto-archive duration is shortened and Discord archives the
// thread on its own once it goes idle. NoArchive posts get the tag
// edit only.
func (e *LifecycleEngine) closeThread(
	ctx context.Context,
	post *SupportPost,
	current []string,
	state TagState,
	archiveNow bool,
) error {
	tags := e.tags.TagsFor(current, state, post.Priority)
	edit := &discordgo.ChannelEdit{AppliedTags: &tags}
	if !post.NoArchive {
		if e.config.SolvedArchiveDuration > 0 {
			edit.AutoArchiveDuration = e.config.SolvedArchiveDuration
		}
		if archiveNow {
			archived := true
			edit.Archived = &archived
			e.guard.MarkSelfArchived(post.ID)
		}
	}
	if _, err := e.session.ChannelEdit(post.ID, edit); err != nil {
		if e.dropIfGone(ctx, post, err) {
			return ErrPostNotTracked
		}
		return fmt.Errorf("error closing thread: %w", err)
	}
	return nil
}

// dropIfGone checks whether err is a Discord 404 and, if so, deletes
// the post's record and pending reminder. Returns true when the post
// was dropped.
func (e *LifecycleEngine) dropIfGone(
	ctx context.Context,
	post *SupportPost,
	err error,
) bool {
	if !isDiscordNotFound(err) {
		return false
	}
	e.dropPost(ctx, post)
	return true
}

func (e *LifecycleEngine) dropPost(ctx context.Context, post *SupportPost) {
	if _, err := e.db.Delete(&SupportPost{}, "id = ?", post.ID); err != nil {
		e.logger.ErrorContext(ctx, "error deleting post record", tint.Err(err))
	}
	if err := e.scheduler.Cancel(ctx, post.ID); err != nil {
		e.logger.ErrorContext(ctx, "error cancelling reminder", tint.Err(err))
	}
	e.logger.InfoContext(ctx, "dropped post, thread gone", "post", post)
}
