package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (s *scriptedCompleter) Complete(_ context.Context, prompt string, _ []byte) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func TestParseYesNo(t *testing.T) {
	require.True(t, ParseYesNo("YES"))
	require.True(t, ParseYesNo("yes, it has a label"))
	require.True(t, ParseYesNo("  Y"))
	require.False(t, ParseYesNo("NO"))
	require.False(t, ParseYesNo("I cannot tell"))
	require.False(t, ParseYesNo(""))
}

func TestParseLocateGrammar(t *testing.T) {
	pt, conf, found, err := ParseLocateGrammar("FOUND: YES\nX: 850\nY: 450\nCONFIDENCE: 92.5")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 850, pt.X)
	require.Equal(t, 450, pt.Y)
	require.InDelta(t, 92.5, conf, 0.001)

	_, _, found, err = ParseLocateGrammar("FOUND: NO\nX: 0\nY: 0\nCONFIDENCE: 0")
	require.NoError(t, err)
	require.False(t, found)

	_, _, found, err = ParseLocateGrammar("I could not find anything like that.")
	require.NoError(t, err)
	require.False(t, found)
}

func TestParseVerifyGrammar(t *testing.T) {
	verdict, reasoning, conf, err := ParseVerifyGrammar("SUCCESS: YES\nREASONING: the settings screen is visible\nCONFIDENCE: 88")
	require.NoError(t, err)
	require.Equal(t, "YES", verdict)
	require.Equal(t, "the settings screen is visible", reasoning)
	require.InDelta(t, 88.0, conf, 0.001)

	verdict, reasoning, _, err = ParseVerifyGrammar("something unstructured")
	require.NoError(t, err)
	require.Equal(t, "unknown", verdict)
	require.Equal(t, "something unstructured", reasoning)
}

func TestExtractJSONStripsFences(t *testing.T) {
	wrapped := "Here you go:\n```json\n{\"action_type\":\"tap\"}\n```\nanything else?"
	require.Equal(t, `{"action_type":"tap"}`, ExtractJSON(wrapped))
	require.Equal(t, "no braces here", ExtractJSON("no braces here"))
}

func TestClientSplitIntent(t *testing.T) {
	completer := &scriptedCompleter{reply: `{"intent":"open media","number_of_steps":2,"steps":["open app launcher","tap Media"],"initial_action":"tap"}`}
	c := NewClient(completer)

	split, err := c.SplitIntent(context.Background(), "open app launcher and tap Media")
	require.NoError(t, err)
	require.Equal(t, 2, split.NumberOfSteps)
	require.Equal(t, []string{"open app launcher", "tap Media"}, split.Steps)
}

func TestClientInterpretGuidance(t *testing.T) {
	completer := &scriptedCompleter{reply: "```json\n{\"action_type\":\"press_home\",\"target_element\":\"\",\"then_retry\":true,\"reasoning\":\"reset first\"}\n```"}
	c := NewClient(completer)

	interp, err := c.InterpretGuidance(context.Background(), "press home and try again")
	require.NoError(t, err)
	require.Equal(t, "press_home", interp.ActionType)
	require.True(t, interp.ThenRetry)
}

func TestClientAskYesNoAppendsStrictSuffix(t *testing.T) {
	completer := &scriptedCompleter{reply: "YES"}
	c := NewClient(completer)

	yes, err := c.AskYesNo(context.Background(), "does it have a label?")
	require.NoError(t, err)
	require.True(t, yes)
	require.Contains(t, completer.prompts[0], "Answer strictly YES or NO.")
}
