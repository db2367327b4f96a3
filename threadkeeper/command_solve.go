package threadkeeper

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// commandSolve handles /solve: the post author (or staff) marks the
// post resolved, optionally crediting a helper.
func (t *Threadkeeper) commandSolve(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	options := interactionOptions(i)
	var helperID string
	if opt, ok := options["helper"]; ok {
		if helper := opt.UserValue(nil); helper != nil {
			helperID = helper.ID
		}
	}

	post, err := t.engine.Solve(
		ctx,
		i.ChannelID,
		user.ID,
		t.isStaff(i),
		helperID,
	)
	if err != nil {
		return t.respondLifecycleError(i, err)
	}

	reply := fmt.Sprintf("Solved! Thanks, <@%s>.", user.ID)
	if helped := post.Helped.Values(); len(helped) > 0 {
		mentions := make([]string, 0, len(helped))
		for _, id := range helped {
			mentions = append(mentions, fmt.Sprintf("<@%s>", id))
		}
		reply = fmt.Sprintf(
			"Solved! Thanks to %s for helping out.",
			strings.Join(mentions, ", "),
		)
	}
	return t.respondPublic(i, reply)
}

// commandUnsolve handles /unsolve: the post author (or staff) reverses
// a solve, withdrawing helper credit.
func (t *Threadkeeper) commandUnsolve(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	_, err := t.engine.Unsolve(ctx, i.ChannelID, user.ID, t.isStaff(i))
	if err != nil {
		return t.respondLifecycleError(i, err)
	}
	return t.respondPublic(i, "This post is marked unsolved again.")
}

// componentSolve handles the solve button attached to reminder and
// announcement messages. The button carries the post ID so a stale
// button on a moved message still targets the right post.
func (t *Threadkeeper) componentSolve(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	action componentAction,
) error {
	postID := action.Param
	if postID == "" {
		postID = i.ChannelID
	}
	_, err := t.engine.Solve(ctx, postID, user.ID, t.isStaff(i), "")
	if err != nil {
		return t.respondLifecycleError(i, err)
	}
	return t.respondPublic(i, fmt.Sprintf("Solved! Thanks, <@%s>.", user.ID))
}
