package threadkeeper

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	columnSupportPostLastActivity   = "last_activity"
	columnSupportPostRemindedAt     = "reminded_at"
	columnSupportPostClosedAt       = "closed_at"
	columnSupportPostIgnoreReminder = "ignore_reminder"
	columnSupportPostIgnoreClose    = "ignore_close"
	columnSupportPostNoArchive      = "no_archive"
	columnSupportPostPriority       = "priority"
	columnSupportPostUsers          = "users"
	columnSupportPostHelped         = "helped"
)

// PostPriority is an optional priority attached to a support post,
// reflected as a forum tag.
type PostPriority string

const (
	PostPriorityP0 PostPriority = "P0"
	PostPriorityP1 PostPriority = "P1"
	PostPriorityP2 PostPriority = "P2"
)

// PostState is the lifecycle state of a support post. Exactly one state
// holds at any time; 'under review' is a sticky flag layered on top,
// not a state of its own.
type PostState string

const (
	PostStateOpenActive   PostState = "open-active"
	PostStateOpenReminded PostState = "open-reminded"
	PostStateClosed       PostState = "closed"
)

// SupportPost is the durable record of one support forum thread's
// lifecycle. One row exists per thread, created when the thread is, and
// deleted only once Discord reports the thread gone.
//
// The row is the source of truth: the thread's applied tags and archived
// flag are projections the bot pushes, never read back as authoritative
// (except to validate reminder preconditions at fire time).
type SupportPost struct {
	// ID is the Discord thread ID
	ID string `gorm:"primaryKey" json:"id"`
	ModelUnixTime

	// ChannelID is the parent forum channel
	ChannelID string `json:"channel_id"`

	// AuthorID is the user who opened the post
	AuthorID string `gorm:"index;not null" json:"author_id"`

	Title string `json:"title"`

	// LastActivity is the timestamp (ms) of the most recent message that
	// counts toward keeping the post alive
	LastActivity int64 `json:"last_activity"`

	// RemindedAt is set once an inactivity reminder has been sent; the
	// post is then 'awaiting response' until the author speaks up or the
	// close sweep catches it
	RemindedAt *time.Time `json:"reminded_at"`

	// ClosedAt is set when the post is resolved (explicitly or by the
	// auto-close sweep)
	ClosedAt *time.Time `json:"closed_at"`

	// IgnoreReminder suppresses the automatic inactivity reminder
	IgnoreReminder bool `json:"ignore_reminder"`

	// IgnoreClose suppresses the automatic close sweep
	IgnoreClose bool `json:"ignore_close"`

	// NoArchive reverses any automatic archive attempt rather than
	// honoring it
	NoArchive bool `json:"no_archive"`

	Priority *PostPriority `gorm:"type:string" json:"priority"`

	// Users is the set of participants seen in the thread
	Users StringSet `gorm:"type:string" json:"users"`

	// Helped is the set of users credited with resolving the post
	Helped StringSet `gorm:"type:string" json:"helped"`
}

// NewSupportPost builds a SupportPost from a freshly created forum thread
func NewSupportPost(ch *discordgo.Channel, now time.Time) *SupportPost {
	post := &SupportPost{
		ID:           ch.ID,
		ChannelID:    ch.ParentID,
		AuthorID:     ch.OwnerID,
		Title:        ch.Name,
		LastActivity: now.UnixMilli(),
		Users:        StringSet{},
		Helped:       StringSet{},
	}
	if ch.OwnerID != "" {
		post.Users.Add(ch.OwnerID)
	}
	return post
}

// State returns the post's current lifecycle state, derived from
// ClosedAt and RemindedAt. ClosedAt wins: a closed post is never
// reported as reminded.
func (p *SupportPost) State() PostState {
	switch {
	case p.ClosedAt != nil:
		return PostStateClosed
	case p.RemindedAt != nil:
		return PostStateOpenReminded
	default:
		return PostStateOpenActive
	}
}

func (p *SupportPost) Closed() bool {
	return p.ClosedAt != nil
}

// UnderReview reports whether all review markers are set
func (p *SupportPost) UnderReview() bool {
	return p.IgnoreReminder && p.IgnoreClose && p.NoArchive
}

func (p SupportPost) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", p.ID),
		slog.String("author_id", p.AuthorID),
		slog.String("state", string(p.State())),
	}
	if p.Priority != nil {
		attrs = append(attrs, slog.String("priority", string(*p.Priority)))
	}
	if p.UnderReview() {
		attrs = append(attrs, slog.Bool("under_review", true))
	}
	return slog.GroupValue(attrs...)
}

// StringSet is a membership-only set of identifiers, stored as a JSON
// array (sorted, so the serialized form is stable).
type StringSet map[string]struct{}

// Add inserts the given value, reporting whether it was newly added
func (s StringSet) Add(value string) bool {
	if _, ok := s[value]; ok {
		return false
	}
	s[value] = struct{}{}
	return true
}

func (s StringSet) Contains(value string) bool {
	_, ok := s[value]
	return ok
}

func (s StringSet) Len() int {
	return len(s)
}

// Values returns the members in sorted order
func (s StringSet) Values() []string {
	values := make([]string, 0, len(s))
	for v := range s {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// Scan implements the sql.Scanner interface.
func (s *StringSet) Scan(value any) error {
	if value == nil {
		*s = StringSet{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("invalid type for StringSet")
	}
	if len(data) == 0 {
		*s = StringSet{}
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	set := make(StringSet, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	*s = set
	return nil
}

// Value implements the driver.Valuer interface.
func (s StringSet) Value() (driver.Value, error) {
	data, err := json.Marshal(s.Values())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// MarshalJSON implements the json.Marshaller interface.
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	set := make(StringSet, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	*s = set
	return nil
}

// GormDataType implements the gorm.GormDataTypeInterface interface.
func (StringSet) GormDataType() string {
	return "string"
}

// parsePriority maps a command option value to a PostPriority
func parsePriority(value string) (PostPriority, bool) {
	switch PostPriority(value) {
	case PostPriorityP0:
		return PostPriorityP0, true
	case PostPriorityP1:
		return PostPriorityP1, true
	case PostPriorityP2:
		return PostPriorityP2, true
	default:
		return "", false
	}
}
