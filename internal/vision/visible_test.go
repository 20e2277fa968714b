package vision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoqa/agentcore/internal/model"
)

func TestElementVisibleViaModel(t *testing.T) {
	chat := &model.MockVisionModel{AnalyzeText: "YES, it is in the top right corner"}
	r := New(nil, chat, nil, nil, 0, 0)

	visible, err := r.ElementVisible(context.Background(), []byte{1}, "settings icon")
	require.NoError(t, err)
	require.True(t, visible)

	chat.AnalyzeText = "NO"
	visible, err = r.ElementVisible(context.Background(), []byte{1}, "settings icon")
	require.NoError(t, err)
	require.False(t, visible)
}

func TestElementVisibleUndeterminedWithoutBackends(t *testing.T) {
	r := New(nil, nil, nil, nil, 0, 0)
	_, err := r.ElementVisible(context.Background(), []byte{1}, "settings icon")
	require.Error(t, err)
}
