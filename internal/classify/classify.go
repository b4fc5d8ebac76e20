// Package classify defines the classification collaborator boundary and the
// default path-heuristic provider. LLM-backed providers live outside the
// engine and plug in through the Classifier interface.
package classify

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/overlaphq/overlap/internal/config"
)

// Result is a classification of a set of files.
type Result struct {
	Scope   string
	Summary string
}

// Classifier turns a set of touched files (plus optional tool context) into
// a semantic scope and a human-readable summary. Implementations must treat
// failures as "no classification": the engine proceeds without enrichment.
type Classifier interface {
	Classify(ctx context.Context, files []string, toolContext string) (Result, error)
}

// Heuristic is the default classifier: longest configured path-prefix match,
// falling back to the dominant top-level directory of the touched files.
type Heuristic struct {
	prefixes map[string]string
}

// NewHeuristic builds the default classifier from the optional scope rules.
func NewHeuristic(rules *config.ScopeRules) *Heuristic {
	prefixes := map[string]string{}
	if rules != nil && rules.Prefixes != nil {
		prefixes = rules.Prefixes
	}
	return &Heuristic{prefixes: prefixes}
}

// Classify derives a scope from file paths. It never fails.
func (h *Heuristic) Classify(_ context.Context, files []string, toolContext string) (Result, error) {
	if len(files) == 0 {
		return Result{}, nil
	}

	scope := h.matchPrefix(files)
	if scope == "" {
		scope = dominantDirectory(files)
	}

	summary := fmt.Sprintf("working on %s (%d files)", scope, len(files))
	if toolContext != "" {
		summary = fmt.Sprintf("working on %s via %s (%d files)", scope, toolContext, len(files))
	}

	return Result{Scope: scope, Summary: summary}, nil
}

// matchPrefix returns the configured scope of the longest prefix matching
// any of the files, or "".
func (h *Heuristic) matchPrefix(files []string) string {
	best := ""
	bestLen := -1
	for prefix, scope := range h.prefixes {
		for _, f := range files {
			if strings.HasPrefix(f, prefix) && len(prefix) > bestLen {
				best = scope
				bestLen = len(prefix)
			}
		}
	}
	return best
}

// dominantDirectory picks the most common leading directory. Files at the
// repo root count under ".".
func dominantDirectory(files []string) string {
	counts := make(map[string]int)
	for _, f := range files {
		dir := topLevelDir(f)
		counts[dir]++
	}

	dirs := make([]string, 0, len(counts))
	for d := range counts {
		dirs = append(dirs, d)
	}
	// Deterministic tie-break
	sort.Slice(dirs, func(i, j int) bool {
		if counts[dirs[i]] != counts[dirs[j]] {
			return counts[dirs[i]] > counts[dirs[j]]
		}
		return dirs[i] < dirs[j]
	})
	return dirs[0]
}

func topLevelDir(file string) string {
	clean := path.Clean(strings.TrimPrefix(file, "/"))
	if idx := strings.IndexByte(clean, '/'); idx > 0 {
		return clean[:idx]
	}
	return "."
}
