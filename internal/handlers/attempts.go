package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hirelab/assessor/internal/services"
)

const maxFlagBatch = 200

type StartAttemptRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

type SaveAnswersRequest struct {
	Answers []services.MCQAnswer `json:"answers" validate:"required,max=200,dive"`
}

type SubmitAttemptRequest struct {
	Answers []services.MCQAnswer `json:"answers" validate:"max=200,dive"`
}

// FlagsRequest accepts either a single event or an events batch.
type FlagsRequest struct {
	services.FlagEvent
	Events []services.FlagEvent `json:"events"`
}

// AttemptHandler serves the candidate attempt lifecycle and recruiter reports.
type AttemptHandler struct {
	attempts   *services.AttemptService
	proctoring *services.ProctoringService
	debug      bool
}

func NewAttemptHandler(attempts *services.AttemptService, proctoring *services.ProctoringService, debug bool) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, proctoring: proctoring, debug: debug}
}

// AttemptRouter registers attempt routes on the given router.
func AttemptRouter(
	r chi.Router,
	attempts *services.AttemptService,
	proctoring *services.ProctoringService,
	authMiddleware func(http.Handler) http.Handler,
	debug bool,
) {
	handler := NewAttemptHandler(attempts, proctoring, debug)

	r.Group(func(r chi.Router) {
		r.Use(withRole(authMiddleware, RoleCandidate)...)
		r.Post("/start", handler.StartAttempt)
		r.Get("/{attemptID}", handler.GetAttempt)
		r.Put("/{attemptID}/answers", handler.SaveAnswers)
		r.Post("/{attemptID}/submit", handler.SubmitAttempt)
		r.Patch("/{attemptID}/flags", handler.RecordFlags)
	})
	r.Group(func(r chi.Router) {
		r.Use(withRole(authMiddleware, RoleRecruiter)...)
		r.Get("/{attemptID}/report", handler.GetReport)
		r.Post("/{attemptID}/evaluate", handler.EvaluateAttempt)
	})
}

func (h *AttemptHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req StartAttemptRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.attempts.Start(r.Context(), principal.UserID, req.Token)
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to start attempt")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AttemptHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	attemptID, err := parseUUIDParam(r, "attemptID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.attempts.CandidateView(r.Context(), principal.UserID, attemptID)
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to load attempt")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AttemptHandler) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	attemptID, err := parseUUIDParam(r, "attemptID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req SaveAnswersRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.attempts.SaveAnswers(r.Context(), principal.UserID, attemptID, req.Answers); err != nil {
		writeServiceError(w, r, err, h.debug, "failed to save answers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AttemptHandler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	attemptID, err := parseUUIDParam(r, "attemptID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req SubmitAttemptRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.attempts.Submit(r.Context(), principal.UserID, attemptID, req.Answers)
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to submit attempt")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RecordFlags ingests proctoring events for an in-progress attempt.
func (h *AttemptHandler) RecordFlags(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	attemptID, err := parseUUIDParam(r, "attemptID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req FlagsRequest
	if err := readJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := req.Events
	if len(events) == 0 {
		if req.Event == "" {
			writeError(w, http.StatusBadRequest, "event is required")
			return
		}
		events = []services.FlagEvent{req.FlagEvent}
	}
	if len(events) > maxFlagBatch {
		writeError(w, http.StatusBadRequest, "too many events")
		return
	}
	for i := range events {
		if err := validateStruct(&events[i]); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	result, err := h.proctoring.RecordFlags(r.Context(), services.RecordFlagsInput{
		CandidateID: principal.UserID,
		AttemptID:   attemptID,
		Events:      events,
		UserAgent:   r.UserAgent(),
		RemoteAddr:  r.RemoteAddr,
	})
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to record flags")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AttemptHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	attemptID, err := parseUUIDParam(r, "attemptID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.attempts.Report(r.Context(), principal.CompanyID, attemptID)
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// EvaluateAttempt re-runs evaluation of a submitted attempt.
func (h *AttemptHandler) EvaluateAttempt(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	attemptID, err := parseUUIDParam(r, "attemptID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.attempts.Evaluate(r.Context(), principal.CompanyID, attemptID)
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to evaluate attempt")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
