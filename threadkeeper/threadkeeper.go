package threadkeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// structValidator validates configuration and API payloads using the
// same `binding` tags gin uses.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	v.RegisterStructValidation(validateSupportConfig, SupportConfig{})
	return v
}

// Threadkeeper is the bot. It owns the Discord session, the database,
// the lifecycle engine and its periodic sweep, and the read-only HTTP
// API, and wires gateway events through to the engine.
type Threadkeeper struct {
	config *Config
	logger *slog.Logger

	db        DBI
	discord   *Discord
	engine    *LifecycleEngine
	scheduler *ReminderScheduler
	sweeper   *Sweeper
	guard     *ArchiveGuard
	cooldowns *CommandCooldown
	api       *API
	cron      *cron.Cron
	dialogues *dialogueRegistry
	tempVoice *TempVoiceManager

	// eventsInProgress tracks in-flight gateway event handlers so
	// shutdown can wait for them
	eventsInProgress sync.WaitGroup

	signalReady chan struct{}
	runMu       sync.Mutex
}

// New validates the given config and assembles a Threadkeeper from it.
// The database is opened and migrated here; the Discord session is
// created but not yet opened.
func New(ctx context.Context, config *Config) (*Threadkeeper, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := structValidator.StructCtx(ctx, config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger := slog.New(
		tint.NewHandler(
			os.Stdout,
			&tint.Options{Level: config.LogLevel, AddSource: true},
		),
	)
	slog.SetDefault(logger)

	tk := &Threadkeeper{
		config:      config,
		logger:      logger,
		signalReady: make(chan struct{}, 1),
	}

	gormDB, err := CreateDB(ctx, config.DatabaseType, config.Database)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	tk.db = NewDatabase(
		gormDB,
		logger,
		config.DatabaseType == dbTypePostgres,
	)

	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discord.logger = logger.With(loggerNameKey, "discord")
	discord.tk = tk
	session, err := discord.newSession()
	if err != nil {
		return nil, err
	}
	discord.session = session
	tk.discord = discord
	discordgo.Logger = discordgoLoggerFunc(
		ctx,
		tint.NewHandler(
			os.Stdout,
			&tint.Options{Level: config.Discord.DiscordGoLogLevel},
		),
	)

	tk.scheduler = NewReminderScheduler(tk.db, logger)
	ttlStore := NewMemoryTTLStore(config.Support.ArchiveGuardTTL)
	tk.guard = NewArchiveGuard(ttlStore, config.Support.ArchiveGuardTTL)
	tk.cooldowns = NewCommandCooldown(ttlStore, DefaultSubmitCooldown)
	tk.engine = NewLifecycleEngine(
		tk.db,
		discord.session,
		*config.Support,
		config.Discord.ForumChannelID,
		tk.scheduler,
		tk.guard,
		logger,
	)
	tk.sweeper = NewSweeper(tk.db, tk.engine, tk.scheduler, *config.Support, logger)
	tk.dialogues = newDialogueRegistry(tk, logger)
	tk.tempVoice = NewTempVoiceManager(
		discord.session,
		config.TempVoice,
		logger,
	)
	tk.api = NewAPI(tk, config.API)
	tk.cron = cron.New(
		cron.WithLogger(cronSlogAdapter{logger: logger.With(loggerNameKey, "cron")}),
	)

	return tk, nil
}

// Run starts the bot and blocks until ctx is cancelled or a fatal
// error occurs. On cancellation it stops the sweep, closes the Discord
// session, shuts down the API, and waits (up to ShutdownTimeout) for
// in-flight event handlers to finish.
func (t *Threadkeeper) Run(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	startupCtx := ctx
	var startupCancel context.CancelFunc
	if t.config.StartupTimeout > 0 {
		startupCtx, startupCancel = context.WithTimeout(ctx, t.config.StartupTimeout)
		defer startupCancel()
	}

	t.registerGatewayHandlers()

	if err := t.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	if _, err := t.discord.registerCommands(
		discordgo.WithContext(startupCtx),
	); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	if t.config.Discord.CustomStatus != "" {
		if err := t.discord.session.UpdateCustomStatus(
			t.config.Discord.CustomStatus,
		); err != nil {
			t.logger.Warn("unable to set custom status", tint.Err(err))
		}
	}

	sweepSchedule := fmt.Sprintf("@every %s", t.config.Support.SweepInterval)
	if _, err := t.cron.AddFunc(
		sweepSchedule,
		func() {
			sweepCtx, cancel := context.WithTimeout(
				context.Background(),
				t.config.Support.SweepInterval,
			)
			defer cancel()
			t.sweeper.Sweep(sweepCtx)
		},
	); err != nil {
		return fmt.Errorf("error scheduling sweep: %w", err)
	}
	t.cron.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			return t.api.Serve(gctx)
		},
	)

	t.logger.Info("started", "config", t.config)
	select {
	case t.signalReady <- struct{}{}:
	default:
	}

	<-gctx.Done()
	t.logger.Info("shutting down")

	cronCtx := t.cron.Stop()

	shutdownTimeout := t.config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()

	if err := t.discord.session.Close(); err != nil {
		t.logger.Error("error closing discord session", tint.Err(err))
	}
	for _, removeHandler := range t.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}

	handlersDone := make(chan struct{})
	go func() {
		t.eventsInProgress.Wait()
		close(handlersDone)
	}()
	select {
	case <-handlersDone:
	case <-shutdownCtx.Done():
		t.logger.Warn("timed out waiting for event handlers")
	}
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
		t.logger.Warn("timed out waiting for sweep to finish")
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Ready returns a channel that receives once Run has finished startup.
func (t *Threadkeeper) Ready() <-chan struct{} {
	return t.signalReady
}

// registerGatewayHandlers subscribes the bot's gateway event handlers.
// Each handler runs in its own goroutine so a slow transition doesn't
// stall the gateway loop (discordgo dispatches synchronously with
// SyncEvents enabled).
func (t *Threadkeeper) registerGatewayHandlers() {
	d := t.discord
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(
			func(_ *discordgo.Session, e *discordgo.ThreadCreate) {
				t.dispatchEvent(
					func(ctx context.Context) error {
						_, err := t.engine.TrackThread(ctx, e.Channel)
						return err
					},
				)
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, e *discordgo.ThreadUpdate) {
				t.dispatchEvent(
					func(ctx context.Context) error {
						return t.engine.HandleThreadUpdate(ctx, e)
					},
				)
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, e *discordgo.ThreadDelete) {
				t.dispatchEvent(
					func(ctx context.Context) error {
						return t.engine.HandleThreadDelete(ctx, e)
					},
				)
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, e *discordgo.MessageCreate) {
				if t.dialogues.Offer(e) {
					return
				}
				t.dispatchEvent(
					func(ctx context.Context) error {
						return t.engine.HandleMessage(ctx, e)
					},
				)
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
				t.dispatchEvent(
					func(ctx context.Context) error {
						return t.tempVoice.HandleVoiceState(ctx, e)
					},
				)
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, e *discordgo.InteractionCreate) {
				t.dispatchEvent(
					func(ctx context.Context) error {
						t.handleInteraction(ctx, e)
						return nil
					},
				)
			},
		),
	)
}

// dispatchEvent runs fn in a goroutine tracked by eventsInProgress,
// logging (not propagating) any error.
func (t *Threadkeeper) dispatchEvent(fn func(ctx context.Context) error) {
	t.eventsInProgress.Add(1)
	go func() {
		defer t.eventsInProgress.Done()
		ctx, cancel := context.WithTimeout(
			context.Background(),
			time.Minute,
		)
		defer cancel()
		ctx = WithLogger(ctx, t.logger)
		if err := fn(ctx); err != nil {
			t.logger.Error("event handler error", tint.Err(err))
		}
	}()
}

// cronSlogAdapter adapts slog to cron's logger interface
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (c cronSlogAdapter) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronSlogAdapter) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{tint.Err(err)}, keysAndValues...)
	c.logger.Error(msg, args...)
}
