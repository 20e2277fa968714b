package vision

import (
	"testing"

	"github.com/autoqa/agentcore/internal/agentstate"
)

func TestRatcliffObershelpIdenticalStringsScoreOne(t *testing.T) {
	if got := ratcliffObershelp("settings", "settings"); got != 1 {
		t.Fatalf("expected identical strings to score 1, got %v", got)
	}
}

func TestRatcliffObershelpDisjointStringsScoreZero(t *testing.T) {
	if got := ratcliffObershelp("abc", "xyz"); got != 0 {
		t.Fatalf("expected disjoint strings to score 0, got %v", got)
	}
}

func TestRatcliffObershelpPartialOverlapIsBetweenZeroAndOne(t *testing.T) {
	got := ratcliffObershelp("settings", "setting")
	if got <= 0 || got >= 1 {
		t.Fatalf("expected a partial overlap score strictly between 0 and 1, got %v", got)
	}
}

func TestRatcliffObershelpEmptyStringsScoreOne(t *testing.T) {
	if got := ratcliffObershelp("", ""); got != 1 {
		t.Fatalf("expected two empty strings to score 1, got %v", got)
	}
}

func TestNormalizeForMatchStripsWhitespaceAndCase(t *testing.T) {
	if got := normalizeForMatch(" Wi Fi "); got != "wifi" {
		t.Fatalf("unexpected normalized string: %q", got)
	}
}

func TestCompositeScorePrefersCloserCandidate(t *testing.T) {
	near := scoredCandidate{el: agentstate.DetectedElement{Confidence: 90}, similarity: 1, distance: 0}
	far := scoredCandidate{el: agentstate.DetectedElement{Confidence: 90}, similarity: 1, distance: 1000}
	if compositeScore(near, 1000) <= compositeScore(far, 1000) {
		t.Fatal("expected the closer candidate to score higher")
	}
}
