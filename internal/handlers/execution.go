package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/services"
)

// ExecuteRequest runs code against a coding question. IsSubmission grades
// every case and stores the answer.
type ExecuteRequest struct {
	AttemptID    uuid.UUID `json:"attemptId" validate:"required"`
	QuestionID   uuid.UUID `json:"questionId" validate:"required"`
	Code         string    `json:"code" validate:"required,max=65536"`
	Language     string    `json:"language" validate:"required,max=32"`
	IsSubmission bool      `json:"isSubmission"`
}

type ExecutionHandler struct {
	execution *services.ExecutionService
	debug     bool
}

func NewExecutionHandler(execution *services.ExecutionService, debug bool) *ExecutionHandler {
	return &ExecutionHandler{execution: execution, debug: debug}
}

// ExecutionRouter registers code execution routes on the given router.
func ExecutionRouter(r chi.Router, execution *services.ExecutionService, authMiddleware func(http.Handler) http.Handler, debug bool) {
	handler := NewExecutionHandler(execution, debug)
	r.With(withRole(authMiddleware, RoleCandidate)...).Post("/execute", handler.Execute)
}

func (h *ExecutionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req ExecuteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.execution.Execute(r.Context(), services.ExecuteInput{
		CandidateID:  principal.UserID,
		AttemptID:    req.AttemptID,
		QuestionID:   req.QuestionID,
		Code:         req.Code,
		Language:     req.Language,
		IsSubmission: req.IsSubmission,
	})
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to execute code")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
