package admin

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

type txnResponse struct {
	TxnID uint64 `json:"txn_id"`
}

// handleLastTxn handles GET /admin/engine/txn
func (h *AdminHandlers) handleLastTxn(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, txnResponse{TxnID: h.txns.LastCommitted()})
}

// handleCommit handles POST /admin/engine/commit
func (h *AdminHandlers) handleCommit(w http.ResponseWriter, r *http.Request) {
	id, err := h.txns.Commit()
	if err != nil {
		log.Error().Err(err).Msg("Admin commit failed")
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, txnResponse{TxnID: id})
}

// handleJournal handles GET /admin/journal/recent
func (h *AdminHandlers) handleJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeErrorResponse(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.journal.Recent(limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, events)
}
