package web

import (
	"encoding/json"
	"net/http"

	"github.com/pocketomega/chatrelay/internal/approval"
	"github.com/pocketomega/chatrelay/internal/store"
)

// PoliciesHandler serves the per-tool approval policy endpoints.
type PoliciesHandler struct {
	policies *approval.Service
}

// NewPoliciesHandler builds a PoliciesHandler.
func NewPoliciesHandler(policies *approval.Service) *PoliciesHandler {
	return &PoliciesHandler{policies: policies}
}

type policyView struct {
	ServerID string `json:"server_id"`
	ToolName string `json:"tool_name"`
	Policy   string `json:"policy"`
}

// HandleGet is GET /mcp/servers/{id}/tools/{tool}/approval-policy. A tool
// with no explicit row reports the NEVER default.
func (h *PoliciesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	serverID, toolName := r.PathValue("id"), r.PathValue("tool")
	policy, err := h.policies.GetPolicyForTool(r.Context(), serverID, toolName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyView{ServerID: serverID, ToolName: toolName, Policy: string(policy)})
}

type setPolicyRequest struct {
	Policy string `json:"policy"`
}

// HandlePut is PUT /mcp/servers/{id}/tools/{tool}/approval-policy.
func (h *PoliciesHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req setPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	policy := store.ApprovalPolicy(req.Policy)
	if policy != store.PolicyAlways && policy != store.PolicyNever {
		http.Error(w, "policy must be ALWAYS or NEVER", http.StatusBadRequest)
		return
	}

	row, err := h.policies.SetPolicyForTool(r.Context(), r.PathValue("id"), r.PathValue("tool"), policy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyView{ServerID: row.ServerID, ToolName: row.ToolName, Policy: string(row.Policy)})
}

// HandleDelete is DELETE /mcp/servers/{id}/tools/{tool}/approval-policy:
// it resets the tool to the NEVER default by writing it explicitly.
func (h *PoliciesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.policies.SetPolicyForTool(r.Context(), r.PathValue("id"), r.PathValue("tool"), store.PolicyNever); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListForServer is GET /mcp/servers/{id}/tools/approval-policies.
func (h *PoliciesHandler) HandleListForServer(w http.ResponseWriter, r *http.Request) {
	rows, err := h.policies.ListPoliciesForServer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]policyView, 0, len(rows))
	for _, row := range rows {
		views = append(views, policyView{ServerID: row.ServerID, ToolName: row.ToolName, Policy: string(row.Policy)})
	}
	writeJSON(w, http.StatusOK, views)
}
