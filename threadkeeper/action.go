package threadkeeper

import (
	"fmt"
	"strings"
)

// componentActionKind enumerates the message component actions the bot
// emits. Custom IDs are encoded as "kind:param" and decoded exactly
// once, at the gateway boundary, into a componentAction.
type componentActionKind string

const (
	componentActionSolve        componentActionKind = "solve"
	componentActionFeatureVote  componentActionKind = "feature_vote"
	componentActionCancelDialog componentActionKind = "cancel_dialog"
)

// componentAction is a decoded message component interaction. Param
// carries the kind-specific payload: the vote direction for
// feature_vote, the post ID for solve, empty for cancel_dialog.
type componentAction struct {
	Kind  componentActionKind
	Param string
}

func (a componentAction) CustomID() string {
	if a.Param == "" {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s:%s", a.Kind, a.Param)
}

// decodeComponentAction parses a component custom ID. Unknown kinds
// are an error so a stale or foreign component can't silently map to
// a live action.
func decodeComponentAction(customID string) (componentAction, error) {
	kind, param, _ := strings.Cut(customID, ":")
	action := componentAction{
		Kind:  componentActionKind(kind),
		Param: param,
	}
	switch action.Kind {
	case componentActionSolve, componentActionFeatureVote,
		componentActionCancelDialog:
		return action, nil
	default:
		return componentAction{}, fmt.Errorf(
			"unknown component action %q",
			customID,
		)
	}
}

const (
	featureVoteUp   = "up"
	featureVoteDown = "down"
)
