package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// OutcomeFilter selects decisions by glob patterns over their outcome
type OutcomeFilter struct {
	globs []glob.Glob
}

// NewOutcomeFilter compiles the patterns. Empty patterns match everything.
func NewOutcomeFilter(patterns []string) (*OutcomeFilter, error) {
	filter := &OutcomeFilter{
		globs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid outcome pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}

	return filter, nil
}

// Match returns true if outcome matches any configured pattern
func (f *OutcomeFilter) Match(outcome string) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(outcome) {
			return true
		}
	}
	return false
}
