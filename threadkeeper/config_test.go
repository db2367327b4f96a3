package threadkeeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DefaultTestConfig returns a config that passes validation, pointed
// at a throwaway sqlite database.
func DefaultTestConfig(t *testing.T) *Config {
	t.Helper()
	config := DefaultConfig()
	config.Database = t.TempDir() + "/threadkeeper_test.sqlite3"
	config.Discord.Token = "test-token"
	config.Discord.ApplicationID = "test-app"
	config.Discord.ForumChannelID = testForumChannelID
	config.Support.Tags = testTagConfig()
	return config
}

func TestDefaultConfigValidates(t *testing.T) {
	config := DefaultTestConfig(t)
	require.NoError(t, structValidator.Struct(config))
}

func TestConfigRequiresDiscordToken(t *testing.T) {
	config := DefaultTestConfig(t)
	config.Discord.Token = ""
	require.Error(t, structValidator.Struct(config))
}

func TestConfigRequiresForumChannel(t *testing.T) {
	config := DefaultTestConfig(t)
	config.Discord.ForumChannelID = ""
	require.Error(t, structValidator.Struct(config))
}

func TestConfigRejectsUnknownDatabaseType(t *testing.T) {
	config := DefaultTestConfig(t)
	config.DatabaseType = "mariadb"
	require.Error(t, structValidator.Struct(config))
}

func TestSupportConfigCrossFieldRules(t *testing.T) {
	valid := testSupportConfig()
	require.NoError(t, structValidator.Struct(valid))

	invalid := testSupportConfig()
	invalid.MessagesPerSecond = -1
	require.Error(t, structValidator.Struct(invalid))

	invalid = testSupportConfig()
	invalid.CloseDelay = time.Minute
	invalid.SweepInterval = time.Hour
	require.Error(
		t,
		structValidator.Struct(invalid),
		"close delay shorter than the sweep interval can never fire on time",
	)
}

func TestSupportConfigDurationBounds(t *testing.T) {
	invalid := testSupportConfig()
	invalid.SweepInterval = time.Second
	require.Error(t, structValidator.Struct(invalid))

	invalid = testSupportConfig()
	invalid.ArchiveGuardTTL = 10 * time.Minute
	require.Error(t, structValidator.Struct(invalid))
}

func TestDefaultConfigDefaults(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, DefaultDatabaseType, config.DatabaseType)
	assert.Equal(t, DefaultReminderDelay, config.Support.ReminderDelay)
	assert.Equal(t, DefaultCloseDelay, config.Support.CloseDelay)
	assert.Equal(t, DefaultSweepInterval, config.Support.SweepInterval)
	assert.Equal(t, DefaultAPIListen, config.API.Listen)
	assert.Equal(t, 12*time.Hour, config.API.CORS.MaxAge)
}
