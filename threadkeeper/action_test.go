package threadkeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeComponentAction(t *testing.T) {
	action, err := decodeComponentAction("solve:thread-1")
	require.NoError(t, err)
	assert.Equal(t, componentActionSolve, action.Kind)
	assert.Equal(t, "thread-1", action.Param)

	action, err = decodeComponentAction("feature_vote:up:42")
	require.NoError(t, err)
	assert.Equal(t, componentActionFeatureVote, action.Kind)
	assert.Equal(t, "up:42", action.Param)

	action, err = decodeComponentAction("cancel_dialog")
	require.NoError(t, err)
	assert.Equal(t, componentActionCancelDialog, action.Kind)
	assert.Empty(t, action.Param)
}

func TestDecodeComponentActionRejectsUnknown(t *testing.T) {
	_, err := decodeComponentAction("self_destruct:now")
	require.Error(t, err)

	_, err = decodeComponentAction("")
	require.Error(t, err)
}

func TestComponentActionCustomIDRoundTrip(t *testing.T) {
	original := componentAction{
		Kind:  componentActionFeatureVote,
		Param: "down:7",
	}
	decoded, err := decodeComponentAction(original.CustomID())
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	bare := componentAction{Kind: componentActionCancelDialog}
	assert.Equal(t, "cancel_dialog", bare.CustomID())
}
