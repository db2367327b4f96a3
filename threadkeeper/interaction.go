package threadkeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// CommandLog records one slash command or component interaction, for
// the API and for troubleshooting.
type CommandLog struct {
	ModelUintID
	ModelUnixTime

	// InteractionID is the Discord interaction ID
	InteractionID string `json:"interaction_id" gorm:"index"`

	// UserID is the invoking user
	UserID   string `json:"user_id" gorm:"index"`
	Username string `json:"username"`

	// Command is the slash command name or decoded component custom ID
	Command string `json:"command" gorm:"index"`

	// ChannelID is where the interaction happened (the thread, for
	// lifecycle commands)
	ChannelID string `json:"channel_id"`

	// Error holds the user-facing failure, if the command failed
	Error string `json:"error,omitempty"`

	// RuntimeMS is how long handling took
	RuntimeMS int64 `json:"runtime_ms"`
}

func (CommandLog) TableName() string {
	return "command_logs"
}

func (c CommandLog) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("command", c.Command),
		slog.String("user_id", c.UserID),
		slog.String("channel_id", c.ChannelID),
		slog.String("error", c.Error),
	)
}

// handleInteraction routes an incoming interaction to the appropriate
// command or component handler, logging the invocation either way.
func (t *Threadkeeper) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	user := getDiscordUser(i)
	if user == nil || user.Bot {
		return
	}

	entry := &CommandLog{
		InteractionID: i.ID,
		UserID:        user.ID,
		Username:      user.Username,
		ChannelID:     i.ChannelID,
	}
	started := time.Now()

	var err error
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		entry.Command = i.ApplicationCommandData().Name
		err = t.handleSlashCommand(ctx, i, user)
	case discordgo.InteractionMessageComponent:
		var action componentAction
		action, err = decodeComponentAction(i.MessageComponentData().CustomID)
		if err == nil {
			entry.Command = action.CustomID()
			err = t.handleComponent(ctx, i, user, action)
		}
	default:
		return
	}

	entry.RuntimeMS = time.Since(started).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
		t.logger.ErrorContext(
			ctx,
			"interaction failed",
			tint.Err(err),
			"command_log", entry,
		)
	}
	if _, dbErr := t.db.Create(ctx, entry); dbErr != nil {
		t.logger.ErrorContext(ctx, "error logging command", tint.Err(dbErr))
	}
}

func (t *Threadkeeper) handleSlashCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	switch i.ApplicationCommandData().Name {
	case DiscordSlashCommandSolve:
		return t.commandSolve(ctx, i, user)
	case DiscordSlashCommandUnsolve:
		return t.commandUnsolve(ctx, i, user)
	case DiscordSlashCommandReopen:
		return t.commandReopen(ctx, i, user)
	case DiscordSlashCommandReview:
		return t.commandReview(ctx, i, user)
	case DiscordSlashCommandPriority:
		return t.commandPriority(ctx, i, user)
	case DiscordSlashCommandBugReport:
		return t.commandBugReport(ctx, i, user)
	case DiscordSlashCommandFeature:
		return t.commandFeature(ctx, i, user)
	default:
		return t.respondEphemeral(i, "I don't know that command.")
	}
}

func (t *Threadkeeper) handleComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	action componentAction,
) error {
	switch action.Kind {
	case componentActionSolve:
		return t.componentSolve(ctx, i, user, action)
	case componentActionFeatureVote:
		return t.componentFeatureVote(ctx, i, user, action)
	case componentActionCancelDialog:
		t.dialogues.Cancel(user.ID)
		return t.respondEphemeral(i, "Dialogue cancelled.")
	default:
		return fmt.Errorf("unhandled component action %q", action.Kind)
	}
}

// respondEphemeral sends an ephemeral text response to the interaction
func (t *Threadkeeper) respondEphemeral(
	i *discordgo.InteractionCreate,
	content string,
) error {
	return t.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: truncate(content, discordMaxMessageLength),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// respondPublic sends a visible text response to the interaction
func (t *Threadkeeper) respondPublic(
	i *discordgo.InteractionCreate,
	content string,
) error {
	return t.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: truncate(content, discordMaxMessageLength),
			},
		},
	)
}

// lifecycleErrorMessage maps engine sentinel errors to user-facing
// replies. Returns "" for errors that aren't the caller's fault.
func lifecycleErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrPostNotTracked):
		return "This doesn't look like a tracked support post."
	case errors.Is(err, ErrNotAuthorized):
		return "You can't do that on this post."
	case errors.Is(err, ErrAlreadySolved):
		return "This post is already marked solved."
	case errors.Is(err, ErrNotSolved):
		return "This post isn't marked solved."
	default:
		return ""
	}
}

// respondLifecycleError answers the interaction for a failed engine
// call. Sentinel errors get a specific ephemeral reply and are
// considered handled; anything else gets a generic apology and is
// returned for logging.
func (t *Threadkeeper) respondLifecycleError(
	i *discordgo.InteractionCreate,
	err error,
) error {
	if msg := lifecycleErrorMessage(err); msg != "" {
		if respErr := t.respondEphemeral(i, msg); respErr != nil {
			t.logger.Error("error responding to interaction", tint.Err(respErr))
		}
		return nil
	}
	if respErr := t.respondEphemeral(
		i,
		DefaultDiscordErrorMessage,
	); respErr != nil {
		t.logger.Error("error responding to interaction", tint.Err(respErr))
	}
	return err
}

// isStaff reports whether the interaction comes from a member with the
// configured staff role.
func (t *Threadkeeper) isStaff(i *discordgo.InteractionCreate) bool {
	return memberHasRole(i, t.config.Discord.StaffRoleID)
}
