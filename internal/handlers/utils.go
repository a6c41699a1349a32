package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/services"
	"github.com/hirelab/assessor/internal/store"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse is a simple error payload. Detail is only set when debug
// output is enabled.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps a service error onto a status code. Unexpected
// errors are logged and answered with fallback.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, debug bool, fallback string) {
	var limited *services.RateLimitedError
	switch {
	case errors.As(err, &limited):
		seconds := limited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: limited.Error(), RetryAfter: seconds})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrInsufficientCredits), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrAttemptNotStarted),
		errors.Is(err, services.ErrAttemptNotInProgress),
		errors.Is(err, services.ErrAttemptNotSubmitted),
		errors.Is(err, services.ErrAttemptExpired),
		errors.Is(err, services.ErrInviteInvalid),
		errors.Is(err, services.ErrInviteExpired),
		errors.Is(err, services.ErrUnsupportedLanguage),
		errors.Is(err, services.ErrLanguageNotAllowed),
		errors.Is(err, services.ErrNoTestCases),
		errors.Is(err, services.ErrNoValidEvents),
		errors.Is(err, services.ErrNotCodingQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg(fallback)
		resp := ErrorResponse{Error: fallback}
		if debug {
			resp.Detail = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// decodeJSON reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if err := readJSON(r, dst, allowEmpty); err != nil {
		return err
	}
	return validateStruct(dst)
}

func readJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		return errors.New("invalid request")
	}
	return nil
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0]
			return fmt.Errorf("invalid %s", lowerFirst(field.Field()))
		}
		return errors.New("invalid request")
	}
	return nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", strings.TrimSuffix(name, "ID")+" id")
	}
	return id, nil
}

func parseLimit(r *http.Request, fallback, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("invalid limit")
	}
	return min(limit, maxLimit), nil
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
