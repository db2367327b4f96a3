package threadkeeper

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// commandReview handles the staff-only /review command, flagging a
// post for review and suspending its automation.
func (t *Threadkeeper) commandReview(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	if !t.isStaff(i) {
		return t.respondLifecycleError(i, ErrNotAuthorized)
	}
	_, err := t.engine.MarkForReview(ctx, i.ChannelID, user.ID, true)
	if err != nil {
		return t.respondLifecycleError(i, err)
	}
	return t.respondPublic(
		i,
		"This post is flagged for staff review. Reminders and auto-close are paused.",
	)
}

// commandPriority handles the staff-only /priority command, setting or
// clearing the post's priority tag.
func (t *Threadkeeper) commandPriority(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	if !t.isStaff(i) {
		return t.respondLifecycleError(i, ErrNotAuthorized)
	}
	options := interactionOptions(i)
	opt, ok := options["level"]
	if !ok {
		return t.respondEphemeral(i, "A priority level is required.")
	}

	var priority *PostPriority
	if p, valid := parsePriority(opt.StringValue()); valid {
		priority = &p
	}
	_, err := t.engine.SetPriority(ctx, i.ChannelID, user.ID, true, priority)
	if err != nil {
		return t.respondLifecycleError(i, err)
	}
	if priority == nil {
		return t.respondPublic(i, "Priority cleared.")
	}
	return t.respondPublic(
		i,
		fmt.Sprintf("Priority set to %s.", *priority),
	)
}

// commandReopen handles /reopen, returning a closed post to the open
// state. Any participant may reopen; helper credit is kept.
func (t *Threadkeeper) commandReopen(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	options := interactionOptions(i)
	var reason string
	if opt, ok := options["reason"]; ok {
		reason = opt.StringValue()
	}

	_, err := t.engine.Reopen(ctx, i.ChannelID, user.ID, t.isStaff(i))
	if err != nil {
		return t.respondLifecycleError(i, err)
	}

	reply := fmt.Sprintf("Reopened by <@%s>.", user.ID)
	if reason != "" {
		reply = fmt.Sprintf(
			"Reopened by <@%s>: %s",
			user.ID,
			truncate(reason, 500),
		)
	}
	return t.respondPublic(i, reply)
}
