package threadkeeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// BugReport is a completed /bugreport dialogue.
type BugReport struct {
	ModelUintID
	ModelUnixTime

	UserID   string `json:"user_id" gorm:"index"`
	Username string `json:"username"`

	// ChannelID is where the dialogue ran
	ChannelID string `json:"channel_id"`

	Summary  string `json:"summary"`
	Steps    string `json:"steps"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`

	// MessageID is the posted report message in the bug report channel
	MessageID string `json:"message_id"`
}

func (BugReport) TableName() string {
	return "bug_reports"
}

// bugReportStep is one prompt in the /bugreport dialogue. The dialogue
// is an explicit sequence of steps, each assigning its answer to one
// report field; there is no implicit state beyond the current index.
type bugReportStep struct {
	prompt string
	assign func(report *BugReport, answer string)
}

var bugReportSteps = []bugReportStep{
	{
		prompt: "In one or two sentences, what's the bug?",
		assign: func(r *BugReport, a string) { r.Summary = a },
	},
	{
		prompt: "What steps reproduce it?",
		assign: func(r *BugReport, a string) { r.Steps = a },
	},
	{
		prompt: "What did you expect to happen?",
		assign: func(r *BugReport, a string) { r.Expected = a },
	},
	{
		prompt: "What actually happened?",
		assign: func(r *BugReport, a string) { r.Actual = a },
	},
}

// dialogue is one in-flight /bugreport conversation. Messages from its
// user in its channel are diverted into answers until the dialogue
// completes, times out, or is cancelled.
type dialogue struct {
	userID    string
	channelID string
	answers   chan string
	cancelled chan struct{}
	once      sync.Once
}

func (d *dialogue) cancel() {
	d.once.Do(
		func() {
			close(d.cancelled)
		},
	)
}

// dialogueRegistry tracks active dialogues, at most one per user.
type dialogueRegistry struct {
	mu     sync.Mutex
	active map[string]*dialogue
	tk     *Threadkeeper
	logger *slog.Logger
}

func newDialogueRegistry(tk *Threadkeeper, logger *slog.Logger) *dialogueRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &dialogueRegistry{
		active: map[string]*dialogue{},
		tk:     tk,
		logger: logger.With(loggerNameKey, "dialogues"),
	}
}

// begin registers a dialogue for the user. Returns false if the user
// already has one running.
func (r *dialogueRegistry) begin(userID string, channelID string) (
	*dialogue,
	bool,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[userID]; exists {
		return nil, false
	}
	d := &dialogue{
		userID:    userID,
		channelID: channelID,
		answers:   make(chan string, 1),
		cancelled: make(chan struct{}),
	}
	r.active[userID] = d
	return d, true
}

func (r *dialogueRegistry) end(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, userID)
}

// Cancel aborts the user's active dialogue, if any
func (r *dialogueRegistry) Cancel(userID string) {
	r.mu.Lock()
	d := r.active[userID]
	r.mu.Unlock()
	if d != nil {
		d.cancel()
	}
}

// Offer routes a message into a waiting dialogue. Returns true when
// the message was consumed as a dialogue answer and should not reach
// the lifecycle engine.
func (r *dialogueRegistry) Offer(m *discordgo.MessageCreate) bool {
	if m.Author == nil || m.Author.Bot {
		return false
	}
	r.mu.Lock()
	d := r.active[m.Author.ID]
	r.mu.Unlock()
	if d == nil || d.channelID != m.ChannelID {
		return false
	}
	select {
	case d.answers <- m.Content:
		return true
	default:
		return false
	}
}

// commandBugReport handles /bugreport: a short guided dialogue in the
// current channel, posted to the configured bug report channel when
// complete.
func (t *Threadkeeper) commandBugReport(
	_ context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	cfg := t.config.BugReport
	if cfg == nil || cfg.ChannelID == "" {
		return t.respondEphemeral(i, "Bug reports aren't enabled here.")
	}

	d, ok := t.dialogues.begin(user.ID, i.ChannelID)
	if !ok {
		return t.respondEphemeral(
			i,
			"You already have a bug report in progress. Finish or cancel it first.",
		)
	}

	err := t.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: fmt.Sprintf(
					"<@%s> Let's file that bug. %s",
					user.ID,
					bugReportSteps[0].prompt,
				),
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							discordgo.Button{
								Label:    "Cancel",
								Style:    discordgo.SecondaryButton,
								CustomID: componentAction{Kind: componentActionCancelDialog}.CustomID(),
							},
						},
					},
				},
			},
		},
	)
	if err != nil {
		t.dialogues.end(user.ID)
		return err
	}

	go t.runBugReportDialogue(d, user)
	return nil
}

// runBugReportDialogue walks the user through the steps. It owns its
// own lifetime: each step waits up to StepTimeout for an answer.
func (t *Threadkeeper) runBugReportDialogue(
	d *dialogue,
	user *discordgo.User,
) {
	defer t.dialogues.end(d.userID)

	cfg := t.config.BugReport
	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = DefaultBugReportStepTimeout
	}

	report := &BugReport{
		UserID:    d.userID,
		Username:  user.Username,
		ChannelID: d.channelID,
	}

	for idx, step := range bugReportSteps {
		if idx > 0 {
			if err := t.discord.channelMessageSend(
				d.channelID,
				fmt.Sprintf("<@%s> %s", d.userID, step.prompt),
			); err != nil {
				t.logger.Error("error prompting dialogue step", tint.Err(err))
				return
			}
		}

		select {
		case answer := <-d.answers:
			step.assign(report, truncate(answer, 1500))
		case <-d.cancelled:
			return
		case <-time.After(stepTimeout):
			if err := t.discord.channelMessageSend(
				d.channelID,
				fmt.Sprintf(
					"<@%s> No answer in %s, so I've dropped the bug report. Run `/bugreport` to start over.",
					d.userID,
					stepTimeout,
				),
			); err != nil {
				t.logger.Error("error sending dialogue timeout notice", tint.Err(err))
			}
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.postBugReport(ctx, report); err != nil {
		t.logger.ErrorContext(ctx, "error posting bug report", tint.Err(err))
		if sendErr := t.discord.channelMessageSend(
			d.channelID,
			fmt.Sprintf("<@%s> %s", d.userID, DefaultDiscordErrorMessage),
		); sendErr != nil {
			t.logger.Error("error sending failure notice", tint.Err(sendErr))
		}
		return
	}
	if err := t.discord.channelMessageSend(
		d.channelID,
		fmt.Sprintf("<@%s> Bug report filed. Thank you!", d.userID),
	); err != nil {
		t.logger.Error("error sending confirmation", tint.Err(err))
	}
}

// postBugReport formats the report as an embed, sends it to the bug
// report channel, and records it.
func (t *Threadkeeper) postBugReport(
	ctx context.Context,
	report *BugReport,
) error {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(report.Summary, 250),
		Description: fmt.Sprintf("Reported by <@%s>", report.UserID),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Steps to reproduce", Value: report.Steps},
			{Name: "Expected", Value: report.Expected},
			{Name: "Actual", Value: report.Actual},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	msg, err := t.discord.session.ChannelMessageSendComplex(
		t.config.BugReport.ChannelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
	)
	if err != nil {
		return fmt.Errorf("error sending bug report: %w", err)
	}
	report.MessageID = msg.ID
	if _, err = t.db.Create(ctx, report); err != nil {
		return fmt.Errorf("error recording bug report: %w", err)
	}
	return nil
}
