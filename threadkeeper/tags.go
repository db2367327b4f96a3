package threadkeeper

// TagState is a lifecycle state as reflected in forum tags
type TagState string

const (
	TagStateUnanswered TagState = "unanswered"
	TagStateUnsolved   TagState = "unsolved"
	TagStateSolved     TagState = "solved"
	TagStateReview     TagState = "review"
)

// TagTranslator maps lifecycle states onto forum tag sets. It owns a
// configured set of 'managed' tag IDs: translating a tag list strips
// every managed tag and appends exactly the tags the target state (and
// optional priority) implies. Tags outside the managed set pass through
// untouched, so user- and staff-applied custom tags survive every
// transition.
//
// TagsFor is a pure function of its inputs.
type TagTranslator struct {
	config  TagConfig
	managed map[string]struct{}
}

func NewTagTranslator(config TagConfig) *TagTranslator {
	managed := map[string]struct{}{}
	for _, tagID := range []string{
		config.Unanswered,
		config.Unsolved,
		config.Solved,
		config.Review,
		config.PriorityP0,
		config.PriorityP1,
		config.PriorityP2,
	} {
		if tagID != "" {
			managed[tagID] = struct{}{}
		}
	}
	return &TagTranslator{config: config, managed: managed}
}

// Managed reports whether the given tag ID is controlled by the bot
func (t *TagTranslator) Managed(tagID string) bool {
	_, ok := t.managed[tagID]
	return ok
}

// TagsFor returns the tag list to apply when moving to the given state,
// preserving the relative order of unmanaged tags in current.
func (t *TagTranslator) TagsFor(
	current []string,
	state TagState,
	priority *PostPriority,
) []string {
	tags := make([]string, 0, len(current)+2)
	for _, tagID := range current {
		if !t.Managed(tagID) {
			tags = append(tags, tagID)
		}
	}
	if stateTag := t.stateTag(state); stateTag != "" {
		tags = append(tags, stateTag)
	}
	if priority != nil {
		if priorityTag := t.priorityTag(*priority); priorityTag != "" {
			tags = append(tags, priorityTag)
		}
	}
	return tags
}

// HasFinalTag reports whether the given applied-tag list carries a tag
// that marks the post finished (solved or under review). Used by the
// reminder dispatcher to validate a live thread before nudging.
func (t *TagTranslator) HasFinalTag(applied []string) bool {
	for _, tagID := range applied {
		if tagID != "" && (tagID == t.config.Solved || tagID == t.config.Review) {
			return true
		}
	}
	return false
}

func (t *TagTranslator) stateTag(state TagState) string {
	switch state {
	case TagStateUnanswered:
		return t.config.Unanswered
	case TagStateUnsolved:
		return t.config.Unsolved
	case TagStateSolved:
		return t.config.Solved
	case TagStateReview:
		return t.config.Review
	default:
		return ""
	}
}

func (t *TagTranslator) priorityTag(priority PostPriority) string {
	switch priority {
	case PostPriorityP0:
		return t.config.PriorityP0
	case PostPriorityP1:
		return t.config.PriorityP1
	case PostPriorityP2:
		return t.config.PriorityP2
	default:
		return ""
	}
}
