package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maxpert/viewsync/cluster"
	"github.com/maxpert/viewsync/publisher"
	"github.com/maxpert/viewsync/reconcile"
	"github.com/rs/zerolog/log"
)

// ViewSource reads and installs membership views
type ViewSource interface {
	Current() reconcile.View
	Install(members ...reconcile.Address) (reconcile.View, bool)
	InstallView(view reconcile.View) error
}

// DecisionSource exposes the reconciliation registry and the latest decision
type DecisionSource interface {
	Registry() *reconcile.Registry
	LastDecision() (cluster.Decision, bool)
}

// TxnSource is the local commit log
type TxnSource interface {
	LastCommitted() uint64
	Commit() (uint64, error)
}

// JournalSource reads recently journaled decisions
type JournalSource interface {
	Recent(limit int) ([]publisher.DecisionEvent, error)
}

// AdminHandlers serves the admin API
type AdminHandlers struct {
	views     ViewSource
	decisions DecisionSource
	txns      TxnSource
	journal   JournalSource // nil when the journal is disabled
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(views ViewSource, decisions DecisionSource, txns TxnSource, journal JournalSource) *AdminHandlers {
	return &AdminHandlers{
		views:     views,
		decisions: decisions,
		txns:      txns,
		journal:   journal,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses the limit query parameter
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 100, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// formatTimestamp renders t as RFC 3339, empty for the zero time
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
