package threadkeeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

// FeatureRequest is a community feature request submitted through
// /feature, voted on via message buttons.
type FeatureRequest struct {
	ModelUintID
	ModelUnixTime

	UserID   string `json:"user_id" gorm:"index"`
	Username string `json:"username"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// ChannelID and MessageID locate the posted request message
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id" gorm:"index"`

	Upvotes   StringSet `gorm:"type:string" json:"upvotes"`
	Downvotes StringSet `gorm:"type:string" json:"downvotes"`
}

func (FeatureRequest) TableName() string {
	return "feature_requests"
}

// Score is upvotes minus downvotes
func (f *FeatureRequest) Score() int {
	return f.Upvotes.Len() - f.Downvotes.Len()
}

// commandFeature handles /feature: posts the request as an embed with
// vote buttons and records it.
func (t *Threadkeeper) commandFeature(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	if !t.cooldowns.Start(DiscordSlashCommandFeature, user.ID) {
		return t.respondEphemeral(
			i,
			"Please wait a bit before submitting another feature request.",
		)
	}

	options := interactionOptions(i)
	titleOpt, ok := options["title"]
	if !ok {
		return t.respondEphemeral(i, "A title is required.")
	}
	descOpt, ok := options["description"]
	if !ok {
		return t.respondEphemeral(i, "A description is required.")
	}

	request := &FeatureRequest{
		UserID:      user.ID,
		Username:    user.Username,
		Title:       truncate(titleOpt.StringValue(), 100),
		Description: truncate(descOpt.StringValue(), 1000),
		ChannelID:   i.ChannelID,
		Upvotes:     StringSet{},
		Downvotes:   StringSet{},
	}
	if _, err := t.db.Create(ctx, request); err != nil {
		return t.respondLifecycleError(i, err)
	}

	err := t.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{featureRequestEmbed(request)},
				Components: featureVoteComponents(request),
			},
		},
	)
	if err != nil {
		return err
	}

	// The response message ID isn't in the interaction response, so
	// fetch it from the edit endpoint to record it.
	msg, err := t.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{},
	)
	if err == nil && msg != nil {
		request.MessageID = msg.ID
		if _, dbErr := t.db.Update(
			ctx,
			request,
			"message_id",
			msg.ID,
		); dbErr != nil {
			return dbErr
		}
	}
	return nil
}

// componentFeatureVote handles the vote buttons. A user holds at most
// one vote per request: voting the same way again withdraws it, voting
// the other way switches it.
func (t *Threadkeeper) componentFeatureVote(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	action componentAction,
) error {
	direction, rawID, found := strings.Cut(action.Param, ":")
	if !found {
		return fmt.Errorf("malformed feature vote %q", action.Param)
	}
	requestID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed feature request id %q", rawID)
	}

	var request FeatureRequest
	err = t.db.DB().WithContext(ctx).First(&request, uint(requestID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return t.respondEphemeral(i, "That feature request no longer exists.")
		}
		return err
	}
	if request.Upvotes == nil {
		request.Upvotes = StringSet{}
	}
	if request.Downvotes == nil {
		request.Downvotes = StringSet{}
	}

	switch direction {
	case featureVoteUp:
		if request.Upvotes.Contains(user.ID) {
			delete(request.Upvotes, user.ID)
		} else {
			request.Upvotes.Add(user.ID)
			delete(request.Downvotes, user.ID)
		}
	case featureVoteDown:
		if request.Downvotes.Contains(user.ID) {
			delete(request.Downvotes, user.ID)
		} else {
			request.Downvotes.Add(user.ID)
			delete(request.Upvotes, user.ID)
		}
	default:
		return fmt.Errorf("unknown vote direction %q", direction)
	}

	if _, err = t.db.UpdatesWhere(
		ctx,
		&FeatureRequest{},
		map[string]any{
			"upvotes":   request.Upvotes,
			"downvotes": request.Downvotes,
		},
		"id = ?",
		request.ID,
	); err != nil {
		return err
	}

	return t.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{featureRequestEmbed(&request)},
				Components: featureVoteComponents(&request),
			},
		},
	)
}

func featureRequestEmbed(request *FeatureRequest) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       request.Title,
		Description: request.Description,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"Requested by %s · score %+d",
				request.Username,
				request.Score(),
			),
		},
	}
}

func featureVoteComponents(request *FeatureRequest) []discordgo.MessageComponent {
	voteID := func(direction string) string {
		return componentAction{
			Kind:  componentActionFeatureVote,
			Param: fmt.Sprintf("%s:%d", direction, request.ID),
		}.CustomID()
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    fmt.Sprintf("Upvote (%d)", request.Upvotes.Len()),
					Style:    discordgo.SuccessButton,
					CustomID: voteID(featureVoteUp),
				},
				discordgo.Button{
					Label:    fmt.Sprintf("Downvote (%d)", request.Downvotes.Len()),
					Style:    discordgo.DangerButton,
					CustomID: voteID(featureVoteDown),
				},
			},
		},
	}
}
