package threadkeeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// TempVoiceManager hands out personal voice channels. Joining the
// configured lobby channel creates a fresh voice channel and moves the
// user into it; the channel is deleted once its last occupant leaves.
//
// Membership is tracked here rather than read from the event's
// BeforeUpdate: the session runs without discordgo's state cache, so
// departures arrive with no prior channel attached.
type TempVoiceManager struct {
	session DiscordSessionHandler
	config  *TempVoiceConfig
	logger  *slog.Logger

	mu sync.Mutex
	// occupancy tracks member counts for channels this manager created
	occupancy map[string]int
	// members maps users to the managed channel they currently occupy
	members map[string]string
}

// NewTempVoiceManager returns a TempVoiceManager. A nil config or
// empty lobby channel disables the feature.
func NewTempVoiceManager(
	session DiscordSessionHandler,
	config *TempVoiceConfig,
	logger *slog.Logger,
) *TempVoiceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TempVoiceManager{
		session:   session,
		config:    config,
		logger:    logger.With(loggerNameKey, "temp_voice"),
		occupancy: map[string]int{},
		members:   map[string]string{},
	}
}

func (m *TempVoiceManager) enabled() bool {
	return m.config != nil && m.config.LobbyChannelID != ""
}

// HandleVoiceState reacts to voice state changes: lobby joins spawn a
// channel, and departures from managed channels tear down empty ones.
func (m *TempVoiceManager) HandleVoiceState(
	ctx context.Context,
	e *discordgo.VoiceStateUpdate,
) error {
	if !m.enabled() || e == nil || e.VoiceState == nil {
		return nil
	}

	after := e.ChannelID
	m.mu.Lock()
	before := m.members[e.UserID]
	m.mu.Unlock()
	if before == after {
		return nil
	}

	if before != "" {
		if err := m.handleLeave(ctx, e.UserID, before); err != nil {
			return err
		}
	}

	switch {
	case after == m.config.LobbyChannelID:
		return m.handleLobbyJoin(ctx, e)
	case after != "" && m.tracked(after):
		m.mu.Lock()
		m.occupancy[after]++
		m.members[e.UserID] = after
		m.mu.Unlock()
	}
	return nil
}

func (m *TempVoiceManager) tracked(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.occupancy[channelID]
	return ok
}

func (m *TempVoiceManager) handleLobbyJoin(
	ctx context.Context,
	e *discordgo.VoiceStateUpdate,
) error {
	name := m.config.NamePrefix
	if name == "" {
		name = DefaultTempVoiceNamePrefix
	}
	if e.Member != nil && e.Member.User != nil {
		name = fmt.Sprintf("%s-%s", name, e.Member.User.Username)
	}

	ch, err := m.session.GuildChannelCreateComplex(
		e.GuildID,
		discordgo.GuildChannelCreateData{
			Name:     truncate(name, 100),
			Type:     discordgo.ChannelTypeGuildVoice,
			ParentID: m.config.CategoryID,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error creating voice channel: %w", err)
	}

	// starts at zero; the gateway echo of the member move counts the
	// join, so the creator isn't counted twice
	m.mu.Lock()
	m.occupancy[ch.ID] = 0
	m.mu.Unlock()

	if err = m.session.GuildMemberMove(
		e.GuildID,
		e.UserID,
		&ch.ID,
		discordgo.WithContext(ctx),
	); err != nil {
		m.logger.ErrorContext(ctx, "error moving member", tint.Err(err))
		m.deleteChannel(ctx, ch.ID)
		return nil
	}
	m.logger.InfoContext(
		ctx,
		"created voice channel",
		"channel_id", ch.ID,
		"user_id", e.UserID,
	)
	return nil
}

func (m *TempVoiceManager) handleLeave(
	ctx context.Context,
	userID string,
	channelID string,
) error {
	m.mu.Lock()
	delete(m.members, userID)
	remaining, ok := m.occupancy[channelID]
	if ok {
		remaining--
		m.occupancy[channelID] = remaining
	}
	m.mu.Unlock()
	if !ok || remaining > 0 {
		return nil
	}
	m.deleteChannel(ctx, channelID)
	return nil
}

func (m *TempVoiceManager) deleteChannel(ctx context.Context, channelID string) {
	m.mu.Lock()
	delete(m.occupancy, channelID)
	for userID, ch := range m.members {
		if ch == channelID {
			delete(m.members, userID)
		}
	}
	m.mu.Unlock()
	if _, err := m.session.ChannelDelete(
		channelID,
		discordgo.WithContext(ctx),
	); err != nil && !isDiscordNotFound(err) {
		m.logger.ErrorContext(
			ctx,
			"error deleting voice channel",
			tint.Err(err),
			"channel_id", channelID,
		)
	} else {
		m.logger.InfoContext(ctx, "deleted voice channel", "channel_id", channelID)
	}
}
