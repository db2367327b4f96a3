package threadkeeper

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// voiceUpdate builds a gateway voice state event. With the state cache
// disabled discordgo never fills BeforeUpdate, so none is set here; the
// manager has to work it out on its own.
func voiceUpdate(userID string, to string) *discordgo.VoiceStateUpdate {
	return &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{
			UserID:    userID,
			GuildID:   testGuildID,
			ChannelID: to,
		},
	}
}

func newTestVoiceManager(t *testing.T) (*TempVoiceManager, *mockSession) {
	t.Helper()
	session := newMockSession()
	manager := NewTempVoiceManager(
		session,
		&TempVoiceConfig{
			LobbyChannelID: "lobby-1",
			CategoryID:     "category-1",
			NamePrefix:     "voice",
		},
		nil,
	)
	return manager, session
}

func TestLobbyJoinCreatesChannelAndMovesMember(t *testing.T) {
	manager, session := newTestVoiceManager(t)

	err := manager.HandleVoiceState(
		context.Background(),
		voiceUpdate("user-1", "lobby-1"),
	)
	require.NoError(t, err)

	require.Len(t, session.createdChannels, 1)
	created := session.createdChannels[0]
	assert.Equal(t, discordgo.ChannelTypeGuildVoice, created.Type)
	assert.Equal(t, "category-1", created.ParentID)

	require.Len(t, session.memberMoves, 1)
	assert.Equal(t, "user-1->"+created.ID, session.memberMoves[0])
}

func TestEmptyManagedChannelIsDeleted(t *testing.T) {
	manager, session := newTestVoiceManager(t)

	require.NoError(
		t,
		manager.HandleVoiceState(
			context.Background(),
			voiceUpdate("user-1", "lobby-1"),
		),
	)
	created := session.createdChannels[0]

	// gateway echo of the creator's move into the new channel
	require.NoError(
		t,
		manager.HandleVoiceState(
			context.Background(),
			voiceUpdate("user-1", created.ID),
		),
	)

	// a second user joins, then both disconnect; deletion only happens
	// on the last departure
	require.NoError(
		t,
		manager.HandleVoiceState(
			context.Background(),
			voiceUpdate("user-2", created.ID),
		),
	)
	require.NoError(
		t,
		manager.HandleVoiceState(
			context.Background(),
			voiceUpdate("user-1", ""),
		),
	)
	assert.Empty(t, session.deletedChannels)

	require.NoError(
		t,
		manager.HandleVoiceState(
			context.Background(),
			voiceUpdate("user-2", ""),
		),
	)
	assert.Equal(t, []string{created.ID}, session.deletedChannels)
}

func TestMoveBetweenManagedChannelsRebalances(t *testing.T) {
	manager, session := newTestVoiceManager(t)

	// two users end up in two separate managed channels
	require.NoError(
		t,
		manager.HandleVoiceState(context.Background(), voiceUpdate("user-1", "lobby-1")),
	)
	first := session.createdChannels[0]
	require.NoError(
		t,
		manager.HandleVoiceState(context.Background(), voiceUpdate("user-1", first.ID)),
	)
	require.NoError(
		t,
		manager.HandleVoiceState(context.Background(), voiceUpdate("user-2", "lobby-1")),
	)
	second := session.createdChannels[1]
	require.NoError(
		t,
		manager.HandleVoiceState(context.Background(), voiceUpdate("user-2", second.ID)),
	)

	// user-1 hops into the second channel; the first empties and is
	// removed even though the event carries no prior channel
	require.NoError(
		t,
		manager.HandleVoiceState(context.Background(), voiceUpdate("user-1", second.ID)),
	)
	assert.Equal(t, []string{first.ID}, session.deletedChannels)

	require.NoError(
		t,
		manager.HandleVoiceState(context.Background(), voiceUpdate("user-1", "")),
	)
	assert.Len(t, session.deletedChannels, 1)
	require.NoError(
		t,
		manager.HandleVoiceState(context.Background(), voiceUpdate("user-2", "")),
	)
	assert.Equal(t, []string{first.ID, second.ID}, session.deletedChannels)
}

func TestUnmanagedChannelsIgnored(t *testing.T) {
	manager, session := newTestVoiceManager(t)

	require.NoError(
		t,
		manager.HandleVoiceState(
			context.Background(),
			voiceUpdate("user-1", "other-channel"),
		),
	)
	assert.Empty(t, session.createdChannels)
	assert.Empty(t, session.deletedChannels)
}

func TestDisabledWithoutLobby(t *testing.T) {
	session := newMockSession()
	manager := NewTempVoiceManager(session, &TempVoiceConfig{}, nil)

	require.NoError(
		t,
		manager.HandleVoiceState(
			context.Background(),
			voiceUpdate("user-1", "lobby-1"),
		),
	)
	assert.Empty(t, session.createdChannels)
}
