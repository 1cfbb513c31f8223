// backend/src/handlers/tax_handler.go
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type TaxHandler struct {
	importService services.ImportService
}

func NewTaxHandler(service services.ImportService) *TaxHandler {
	return &TaxHandler{
		importService: service,
	}
}

// HandleGetTaxSummary returns the short/long-term realized gain summary for
// a tax year (?year=2025, defaulting to the current year). The summary is
// recomputed from the disposal set, never incrementally patched.
func (h *TaxHandler) HandleGetTaxSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}

	year := time.Now().UTC().Year()
	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		parsed, err := strconv.Atoi(yearStr)
		if err != nil || parsed < 2009 || parsed > time.Now().UTC().Year()+1 {
			utils.SendJSONError(w, "Invalid year parameter", http.StatusBadRequest)
			return
		}
		year = parsed
	}
	periodStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC)

	summary, err := h.importService.GetTaxSummary(userID, periodStart, periodEnd)
	if err != nil {
		logger.FromContext(r.Context()).Error("Error computing tax summary", "year", year, "error", err)
		utils.SendJSONError(w, "Error computing tax summary", http.StatusInternalServerError)
		return
	}
	writeWithETag(w, r, summary)
}
