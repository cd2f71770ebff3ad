package publisher

import (
	"testing"

	"github.com/maxpert/viewsync/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeFilter(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		outcome  string
		want     bool
	}{
		{"no patterns match all", nil, reconcile.OutcomeUpToDate, true},
		{"exact", []string{"sync"}, reconcile.OutcomeSync, true},
		{"exact miss", []string{"sync"}, reconcile.OutcomeUpToDate, false},
		{"wildcard", []string{"*_*"}, reconcile.OutcomeRetryView, true},
		{"alternation", []string{"{sync,retry_view}"}, reconcile.OutcomeRetryView, true},
		{"any of many", []string{"up_*", "sync"}, reconcile.OutcomeSync, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewOutcomeFilter(tt.patterns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.outcome))
		})
	}
}

func TestOutcomeFilter_InvalidPattern(t *testing.T) {
	_, err := NewOutcomeFilter([]string{"[sync"})
	assert.Error(t, err)
}
