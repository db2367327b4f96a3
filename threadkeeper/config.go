//nolint:lll // struct tags can't be split
package threadkeeper

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "THREADKEEPER_ENV_PREFIX"
	DefaultEnvPrefix   = "TK"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "threadkeeper.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel          = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultReminderDelay is how long a support post may sit without
	// author activity before the author is nudged.
	DefaultReminderDelay = 24 * time.Hour

	// DefaultCloseDelay is how long after a reminder a post may sit
	// unanswered before it's closed and archived.
	DefaultCloseDelay = 24 * time.Hour

	DefaultSweepInterval   = 5 * time.Minute
	DefaultArchiveGuardTTL = 30 * time.Second

	// DefaultSolvedArchiveDuration is the thread auto-archive duration,
	// in minutes, applied once a post is solved. Discord only accepts
	// 60, 1440, 4320 and 10080.
	DefaultSolvedArchiveDuration = 60

	DefaultMessagesPerSecond = 2

	DefaultAPIListen         = "127.0.0.1:5000"
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsGuildMembers | discordgo.IntentsGuildVoiceStates
	DefaultDiscordStartupMessage = "Threadkeeper reporting for duty!"
	DefaultDiscordCustomStatus   = "watching the support forum"
	DefaultDiscordErrorMessage   = "sorry, something went wrong!"

	DiscordSlashCommandSolve     = "solve"
	DiscordSlashCommandUnsolve   = "unsolve"
	DiscordSlashCommandReopen    = "reopen"
	DiscordSlashCommandReview    = "review"
	DiscordSlashCommandBugReport = "bugreport"
	DiscordSlashCommandFeature   = "feature"
	DiscordSlashCommandPriority  = "priority"

	DefaultBugReportStepTimeout = 2 * time.Minute
	DefaultSubmitCooldown       = time.Minute
	DefaultTempVoiceNamePrefix  = "voice"

	discordMaxMessageLength = 2000
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"Cache-Control",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the top-level configuration for the bot. Values are populated
// from config file / environment via viper in the cmd package, then
// validated with the `binding` tags before Run.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Support configures the support-post lifecycle (reminder and close
	// delays, managed tags, sweep cadence)
	Support *SupportConfig `yaml:"support" mapstructure:"support" json:"support"`

	// API configures the read-only HTTP API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// BugReport configures the /bugreport intake dialogue
	BugReport *BugReportConfig `yaml:"bug_report" mapstructure:"bug_report" json:"bug_report"`

	// TempVoice configures temporary voice channels
	TempVoice *TempVoiceConfig `yaml:"temp_voice" mapstructure:"temp_voice" json:"temp_voice"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// ForumChannelID is the support forum channel whose threads are tracked
	ForumChannelID string `yaml:"forum_channel_id" mapstructure:"forum_channel_id" json:"forum_channel_id" binding:"required"`

	// StaffRoleID identifies members allowed to run staff-only transitions
	StaffRoleID string `yaml:"staff_role_id" mapstructure:"staff_role_id" json:"staff_role_id"`

	// NotificationChannelID, if set, receives a startup message whenever
	// the bot connects to the gateway
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// StartupMessage is sent to NotificationChannelID on connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus sets the bot user's custom status after connecting
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// SupportConfig configures the support-post lifecycle automation.
//
//nolint:lll // can't break tags
type SupportConfig struct {
	// ReminderDelay is the author inactivity window before a reminder is sent
	ReminderDelay time.Duration `yaml:"reminder_delay" mapstructure:"reminder_delay" json:"reminder_delay" binding:"min=1m"`

	// CloseDelay is the window after a reminder before the post is auto-closed
	CloseDelay time.Duration `yaml:"close_delay" mapstructure:"close_delay" json:"close_delay" binding:"min=1m"`

	// SweepInterval is how often the reminder/close sweep runs
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" json:"sweep_interval" binding:"min=10s"`

	// ArchiveGuardTTL is how long a self-archive marker survives. It only
	// needs to outlive the gateway echo of the bot's own archive action.
	ArchiveGuardTTL time.Duration `yaml:"archive_guard_ttl" mapstructure:"archive_guard_ttl" json:"archive_guard_ttl" binding:"min=1s,max=5m"`

	// SolvedArchiveDuration is the thread auto-archive duration (minutes)
	// applied when a post is solved
	SolvedArchiveDuration int `yaml:"solved_archive_duration" mapstructure:"solved_archive_duration" json:"solved_archive_duration"`

	// MessagesPerSecond caps outbound reminder/announcement sends
	MessagesPerSecond float64 `yaml:"messages_per_second" mapstructure:"messages_per_second" json:"messages_per_second"`

	// Tags maps lifecycle states to forum tag IDs
	Tags TagConfig `yaml:"tags" mapstructure:"tags" json:"tags"`
}

// TagConfig holds the forum tag IDs the bot manages. Any tag ID not
// listed here is left alone entirely.
type TagConfig struct {
	Unanswered string `yaml:"unanswered" mapstructure:"unanswered" json:"unanswered"`
	Unsolved   string `yaml:"unsolved" mapstructure:"unsolved" json:"unsolved"`
	Solved     string `yaml:"solved" mapstructure:"solved" json:"solved"`
	Review     string `yaml:"review" mapstructure:"review" json:"review"`
	PriorityP0 string `yaml:"priority_p0" mapstructure:"priority_p0" json:"priority_p0"`
	PriorityP1 string `yaml:"priority_p1" mapstructure:"priority_p1" json:"priority_p1"`
	PriorityP2 string `yaml:"priority_p2" mapstructure:"priority_p2" json:"priority_p2"`
}

// validateSupportConfig enforces the cross-field rules the tag syntax
// can't express.
func validateSupportConfig(sl validator.StructLevel) {
	value, ok := sl.Current().Interface().(SupportConfig)
	if !ok {
		return
	}
	if value.CloseDelay < value.SweepInterval {
		sl.ReportError(
			value.CloseDelay,
			"CloseDelay",
			"close_delay",
			"gtefield",
			"sweep_interval",
		)
	}
	if value.MessagesPerSecond < 0 {
		sl.ReportError(
			value.MessagesPerSecond,
			"MessagesPerSecond",
			"messages_per_second",
			"min",
			"0",
		)
	}
}

// APIConfig configures the read-only HTTP API
//
//nolint:lll // can't break tags
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required,hostname_port|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`
}

// BugReportConfig configures the /bugreport guided dialogue
//
//nolint:lll // can't break tags
type BugReportConfig struct {
	// ChannelID receives the formatted report once the dialogue completes.
	// Leave empty to disable the command.
	ChannelID string `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id"`

	// StepTimeout is how long the bot waits for an answer to each prompt
	StepTimeout time.Duration `yaml:"step_timeout" mapstructure:"step_timeout" json:"step_timeout" binding:"min=10s"`
}

// TempVoiceConfig configures temporary personal voice channels
//
//nolint:lll // can't break tags
type TempVoiceConfig struct {
	// LobbyChannelID is the voice channel users join to request a personal channel.
	// Leave empty to disable the feature.
	LobbyChannelID string `yaml:"lobby_channel_id" mapstructure:"lobby_channel_id" json:"lobby_channel_id"`

	// CategoryID is the category new channels are created under
	CategoryID string `yaml:"category_id" mapstructure:"category_id" json:"category_id"`

	// NamePrefix prefixes generated channel names
	NamePrefix string `yaml:"name_prefix" mapstructure:"name_prefix" json:"name_prefix"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		Support: &SupportConfig{
			ReminderDelay:         DefaultReminderDelay,
			CloseDelay:            DefaultCloseDelay,
			SweepInterval:         DefaultSweepInterval,
			ArchiveGuardTTL:       DefaultArchiveGuardTTL,
			SolvedArchiveDuration: DefaultSolvedArchiveDuration,
			MessagesPerSecond:     DefaultMessagesPerSecond,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
		BugReport: &BugReportConfig{
			StepTimeout: DefaultBugReportStepTimeout,
		},
		TempVoice: &TempVoiceConfig{
			NamePrefix: DefaultTempVoiceNamePrefix,
		},
	}
}
