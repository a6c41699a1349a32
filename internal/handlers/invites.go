package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/services"
)

// IssueInviteRequest is the optional body of an invite issuance.
type IssueInviteRequest struct {
	TemplateID    *uuid.UUID `json:"templateId"`
	ExpiresInDays *int       `json:"expiresInDays" validate:"omitempty,min=1,max=365"`
}

// InviteHandler provides recruiter facing invite endpoints.
type InviteHandler struct {
	invites *services.InviteService
	ledger  *services.LedgerService
	debug   bool
}

func NewInviteHandler(invites *services.InviteService, ledger *services.LedgerService, debug bool) *InviteHandler {
	return &InviteHandler{invites: invites, ledger: ledger, debug: debug}
}

// InviteRouter registers invite routes on the given router.
func InviteRouter(
	r chi.Router,
	invites *services.InviteService,
	ledger *services.LedgerService,
	authMiddleware func(http.Handler) http.Handler,
	debug bool,
) {
	handler := NewInviteHandler(invites, ledger, debug)

	r.Group(func(r chi.Router) {
		r.Use(withRole(authMiddleware, RoleRecruiter)...)
		r.Post("/applications/{applicationID}/invites", handler.IssueInvite)
		r.Post("/invites/{inviteID}/cancel", handler.CancelInvite)
	})
}

// IssueInvite creates, reuses or rotates the invite for an application.
func (h *InviteHandler) IssueInvite(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	applicationID, err := parseUUIDParam(r, "applicationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req IssueInviteRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	issue, err := h.invites.Issue(r.Context(), services.IssueInviteInput{
		CompanyID:     principal.CompanyID,
		ApplicationID: applicationID,
		TemplateID:    req.TemplateID,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to issue invite")
		return
	}

	status := http.StatusOK
	if issue.Meta.CreatedInvite {
		status = http.StatusCreated
	}
	writeJSON(w, status, issue)
}

// CancelInvite cancels an invite and refunds its reservation.
func (h *InviteHandler) CancelInvite(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	inviteID, err := parseUUIDParam(r, "inviteID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	invite, err := h.ledger.CancelInviteAndRefund(r.Context(), principal.CompanyID, inviteID)
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to cancel invite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "invite": invite})
}

func withRole(authMiddleware func(http.Handler) http.Handler, role string) []func(http.Handler) http.Handler {
	if authMiddleware == nil {
		return []func(http.Handler) http.Handler{RequireRole(role)}
	}
	return []func(http.Handler) http.Handler{authMiddleware, RequireRole(role)}
}
