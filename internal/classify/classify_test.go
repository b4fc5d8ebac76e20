package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overlaphq/overlap/internal/config"
)

func TestHeuristic_PrefixRulesLongestWins(t *testing.T) {
	h := NewHeuristic(&config.ScopeRules{Prefixes: map[string]string{
		"internal/":       "backend",
		"internal/store/": "storage",
		"web/":            "frontend",
	}})

	res, err := h.Classify(context.Background(), []string{"internal/store/sessions.go"}, "")
	require.NoError(t, err)
	assert.Equal(t, "storage", res.Scope)

	res, err = h.Classify(context.Background(), []string{"internal/server/auth.go"}, "")
	require.NoError(t, err)
	assert.Equal(t, "backend", res.Scope)
}

func TestHeuristic_FallbackDominantDirectory(t *testing.T) {
	h := NewHeuristic(nil)

	res, err := h.Classify(context.Background(), []string{
		"api/server.go", "api/handlers.go", "docs/readme.md",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "api", res.Scope)
}

func TestHeuristic_RootFilesAndEmptyInput(t *testing.T) {
	h := NewHeuristic(nil)

	res, err := h.Classify(context.Background(), []string{"main.go"}, "")
	require.NoError(t, err)
	assert.Equal(t, ".", res.Scope)

	res, err = h.Classify(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Empty(t, res.Scope)
	assert.Empty(t, res.Summary)
}

func TestHeuristic_SummaryMentionsTool(t *testing.T) {
	h := NewHeuristic(nil)

	res, err := h.Classify(context.Background(), []string{"api/server.go"}, "editor")
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "api")
	assert.Contains(t, res.Summary, "editor")
}
