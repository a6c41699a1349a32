package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hirelab/assessor/internal/services"
)

const (
	defaultLedgerLimit = 20
	maxLedgerLimit     = 100
)

// CreditHandler exposes a company's credit balance.
type CreditHandler struct {
	ledger *services.LedgerService
	debug  bool
}

func NewCreditHandler(ledger *services.LedgerService, debug bool) *CreditHandler {
	return &CreditHandler{ledger: ledger, debug: debug}
}

// CreditRouter registers credit routes on the given router.
func CreditRouter(r chi.Router, ledger *services.LedgerService, authMiddleware func(http.Handler) http.Handler, debug bool) {
	handler := NewCreditHandler(ledger, debug)
	r.With(withRole(authMiddleware, RoleRecruiter)...).Get("/", handler.GetCredits)
}

func (h *CreditHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	limit, err := parseLimit(r, defaultLedgerLimit, maxLedgerLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	overview, err := h.ledger.Overview(r.Context(), principal.CompanyID, limit)
	if err != nil {
		writeServiceError(w, r, err, h.debug, "failed to load credits")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
