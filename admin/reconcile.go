package admin

import (
	"net/http"

	"github.com/maxpert/viewsync/reconcile"
)

type nodeStateResponse struct {
	Address  string `json:"address"`
	ViewID   uint64 `json:"view_id"`
	TxnID    uint64 `json:"txn_id"`
	SyncMode string `json:"sync_mode"`
	SyncPort uint16 `json:"sync_port"`
	Eligible bool   `json:"eligible"`
}

type decisionResponse struct {
	ViewID         uint64             `json:"view_id"`
	Outcome        string             `json:"outcome"`
	NeedsViewRetry bool               `json:"needs_view_retry"`
	NeedsSync      bool               `json:"needs_sync"`
	MyTxnID        uint64             `json:"my_txn_id"`
	SyncTarget     *nodeStateResponse `json:"sync_target,omitempty"`
	DecidedAt      string             `json:"decided_at"`
}

func toNodeStateResponse(s reconcile.NodeState, view reconcile.View) nodeStateResponse {
	return nodeStateResponse{
		Address:  string(s.Address),
		ViewID:   s.ViewID,
		TxnID:    s.TransactionID,
		SyncMode: s.SyncMode.String(),
		SyncPort: s.SyncPort,
		Eligible: reconcile.Eligible(view, s),
	}
}

// handleRegistry handles GET /admin/reconcile/registry
func (h *AdminHandlers) handleRegistry(w http.ResponseWriter, r *http.Request) {
	view := h.views.Current()
	states := h.decisions.Registry().Snapshot()

	resp := make([]nodeStateResponse, 0, len(states))
	for _, s := range states {
		resp = append(resp, toNodeStateResponse(s, view))
	}
	writeJSONResponse(w, resp)
}

// handleDecision handles GET /admin/reconcile/decision
func (h *AdminHandlers) handleDecision(w http.ResponseWriter, r *http.Request) {
	d, ok := h.decisions.LastDecision()
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no decision yet")
		return
	}

	resp := decisionResponse{
		ViewID:         d.View.ID,
		Outcome:        d.State.Outcome(),
		NeedsViewRetry: d.State.NeedsViewRetry,
		NeedsSync:      d.State.NeedsSync(),
		MyTxnID:        d.State.MyTransactionID,
		DecidedAt:      formatTimestamp(d.DecidedAt),
	}
	if d.State.SyncTarget != nil {
		target := toNodeStateResponse(*d.State.SyncTarget, d.View)
		resp.SyncTarget = &target
	}
	writeJSONResponse(w, resp)
}
