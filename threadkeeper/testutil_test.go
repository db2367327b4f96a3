package threadkeeper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

const (
	testForumChannelID = "forum-1"
	testGuildID        = "guild-1"
	testAuthorID       = "author-1"
	testHelperID       = "helper-1"
	testStaffID        = "staff-1"
)

func testTagConfig() TagConfig {
	return TagConfig{
		Unanswered: "tag-unanswered",
		Unsolved:   "tag-unsolved",
		Solved:     "tag-solved",
		Review:     "tag-review",
		PriorityP0: "tag-p0",
		PriorityP1: "tag-p1",
		PriorityP2: "tag-p2",
	}
}

func testSupportConfig() SupportConfig {
	return SupportConfig{
		ReminderDelay:         time.Hour,
		CloseDelay:            time.Hour,
		SweepInterval:         time.Minute,
		ArchiveGuardTTL:       30 * time.Second,
		SolvedArchiveDuration: 60,
		// effectively unlimited, so tests never block on the limiter
		MessagesPerSecond: 10000,
		Tags:              testTagConfig(),
	}
}

func testDB(t *testing.T) DBI {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "threadkeeper_test.sqlite3")
	gormDB, err := CreateDB(context.Background(), dbTypeSQLite, dbFile)
	require.NoError(t, err)
	return NewDatabase(gormDB, slog.Default(), false)
}

// mockSession is an in-memory DiscordSessionHandler. Channels are
// seeded with addThread; edits are applied to the stored channel so a
// follow-up fetch observes them, the way the real API would.
type mockSession struct {
	mu       sync.Mutex
	channels map[string]*discordgo.Channel
	gone     map[string]bool
	edits    map[string][]*discordgo.ChannelEdit
	sent     map[string][]string

	interactionResponses []*discordgo.InteractionResponse
	memberMoves          []string
	deletedChannels      []string
	createdChannels      []*discordgo.Channel
	nextChannelID        int
}

func newMockSession() *mockSession {
	return &mockSession{
		channels: map[string]*discordgo.Channel{},
		gone:     map[string]bool{},
		edits:    map[string][]*discordgo.ChannelEdit{},
		sent:     map[string][]string{},
	}
}

func discordNotFoundError() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message: &discordgo.APIErrorMessage{
			Code: discordgo.ErrCodeUnknownChannel,
		},
	}
}

// addThread seeds a forum thread channel
func (m *mockSession) addThread(id string, ownerID string, tags ...string) *discordgo.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := &discordgo.Channel{
		ID:             id,
		ParentID:       testForumChannelID,
		GuildID:        testGuildID,
		OwnerID:        ownerID,
		Name:           "help with " + id,
		Type:           discordgo.ChannelTypeGuildPublicThread,
		AppliedTags:    tags,
		ThreadMetadata: &discordgo.ThreadMetadata{},
	}
	m.channels[id] = ch
	return ch
}

// markGone makes future calls for the channel return a 404
func (m *mockSession) markGone(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gone[id] = true
}

// channel returns the stored channel, failing the test if absent
func (m *mockSession) channel(t *testing.T, id string) *discordgo.Channel {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	require.True(t, ok, "channel %s not found", id)
	return ch
}

func (m *mockSession) sentMessages(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.sent[channelID]...)
}

func (m *mockSession) channelEdits(channelID string) []*discordgo.ChannelEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.ChannelEdit{}, m.edits[channelID]...)
}

func (m *mockSession) Open() error  { return nil }
func (m *mockSession) Close() error { return nil }

func (m *mockSession) AddHandler(_ any) func() {
	return func() {}
}

func (m *mockSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone[channelID] {
		return nil, discordNotFoundError()
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, discordNotFoundError()
	}
	return ch, nil
}

func (m *mockSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone[channelID] {
		return nil, discordNotFoundError()
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, discordNotFoundError()
	}
	m.edits[channelID] = append(m.edits[channelID], data)
	if data.AppliedTags != nil {
		ch.AppliedTags = *data.AppliedTags
	}
	if data.Archived != nil {
		if ch.ThreadMetadata == nil {
			ch.ThreadMetadata = &discordgo.ThreadMetadata{}
		}
		ch.ThreadMetadata.Archived = *data.Archived
	}
	return ch, nil
}

func (m *mockSession) ChannelDelete(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.channels[channelID]
	delete(m.channels, channelID)
	m.deletedChannels = append(m.deletedChannels, channelID)
	return ch, nil
}

func (m *mockSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone[channelID] {
		return nil, discordNotFoundError()
	}
	m.sent[channelID] = append(m.sent[channelID], message)
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", len(m.sent[channelID]))}, nil
}

func (m *mockSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[channelID] = append(m.sent[channelID], data.Content)
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", len(m.sent[channelID]))}, nil
}

func (m *mockSession) GuildMemberMove(
	_ string,
	userID string,
	channelID *string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := ""
	if channelID != nil {
		target = *channelID
	}
	m.memberMoves = append(m.memberMoves, userID+"->"+target)
	return nil
}

func (m *mockSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChannelID++
	ch := &discordgo.Channel{
		ID:       fmt.Sprintf("voice-%d", m.nextChannelID),
		GuildID:  guildID,
		Name:     data.Name,
		Type:     data.Type,
		ParentID: data.ParentID,
	}
	m.channels[ch.ID] = ch
	m.createdChannels = append(m.createdChannels, ch)
	return ch, nil
}

func (m *mockSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func (m *mockSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactionResponses = append(m.interactionResponses, resp)
	return nil
}

func (m *mockSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	_ *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{ID: "response-1"}, nil
}

func (m *mockSession) UpdateCustomStatus(_ string) error { return nil }

func (m *mockSession) SetLogLevel(_ slog.Level) error { return nil }

// engineFixture bundles an engine with its collaborators and a
// controllable clock.
type engineFixture struct {
	t         *testing.T
	db        DBI
	session   *mockSession
	engine    *LifecycleEngine
	scheduler *ReminderScheduler
	guard     *ArchiveGuard
	sweeper   *Sweeper
	config    SupportConfig
	now       time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		t:       t,
		db:      testDB(t),
		session: newMockSession(),
		config:  testSupportConfig(),
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.scheduler = NewReminderScheduler(f.db, slog.Default())
	f.guard = NewArchiveGuard(
		NewMemoryTTLStore(f.config.ArchiveGuardTTL),
		f.config.ArchiveGuardTTL,
	)
	f.engine = NewLifecycleEngine(
		f.db,
		f.session,
		f.config,
		testForumChannelID,
		f.scheduler,
		f.guard,
		slog.Default(),
	)
	f.engine.clock = func() time.Time { return f.now }
	f.sweeper = NewSweeper(f.db, f.engine, f.scheduler, f.config, slog.Default())
	return f
}

func (f *engineFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// track seeds a thread in the mock session and tracks it
func (f *engineFixture) track(id string) *SupportPost {
	f.t.Helper()
	ch := f.session.addThread(id, testAuthorID)
	post, err := f.engine.TrackThread(context.Background(), ch)
	require.NoError(f.t, err)
	require.NotNil(f.t, post)
	return post
}

func (f *engineFixture) reload(id string) *SupportPost {
	f.t.Helper()
	post, err := f.engine.GetPost(context.Background(), id)
	require.NoError(f.t, err)
	return post
}

// message simulates a user message in the thread
func (f *engineFixture) message(channelID string, authorID string) {
	f.t.Helper()
	err := f.engine.HandleMessage(
		context.Background(),
		&discordgo.MessageCreate{
			Message: &discordgo.Message{
				ChannelID: channelID,
				Author:    &discordgo.User{ID: authorID},
				Content:   "hello",
			},
		},
	)
	require.NoError(f.t, err)
}
