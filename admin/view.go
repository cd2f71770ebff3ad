package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maxpert/viewsync/cluster"
	"github.com/maxpert/viewsync/reconcile"
)

type viewResponse struct {
	ID      uint64   `json:"id"`
	Members []string `json:"members"`
}

type installViewRequest struct {
	ID      uint64   `json:"id,omitempty"` // zero assigns the next id
	Members []string `json:"members"`
}

func toViewResponse(v reconcile.View) viewResponse {
	members := v.Members()
	out := viewResponse{ID: v.ID, Members: make([]string, len(members))}
	for i, m := range members {
		out.Members[i] = string(m)
	}
	return out
}

// handleGetView handles GET /admin/cluster/view
func (h *AdminHandlers) handleGetView(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, toViewResponse(h.views.Current()))
}

// handleInstallView handles PUT /admin/cluster/view
func (h *AdminHandlers) handleInstallView(w http.ResponseWriter, r *http.Request) {
	var req installViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Members) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "members must not be empty")
		return
	}

	members := make([]reconcile.Address, 0, len(req.Members))
	for _, m := range req.Members {
		if m == "" {
			writeErrorResponse(w, http.StatusBadRequest, "member address must not be empty")
			return
		}
		members = append(members, reconcile.Address(m))
	}

	if req.ID == 0 {
		view, installed := h.views.Install(members...)
		if !installed {
			writeErrorResponse(w, http.StatusConflict, "member set unchanged")
			return
		}
		writeJSONResponse(w, toViewResponse(view))
		return
	}

	view := reconcile.NewView(req.ID, members...)
	if err := h.views.InstallView(view); err != nil {
		if errors.Is(err, cluster.ErrStaleView) {
			writeErrorResponse(w, http.StatusConflict, err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, toViewResponse(view))
}
