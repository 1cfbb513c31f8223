// backend/src/handlers/portfolio_handler.go
package handlers

import (
	"net/http"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type PortfolioHandler struct {
	importService services.ImportService
}

func NewPortfolioHandler(service services.ImportService) *PortfolioHandler {
	return &PortfolioHandler{
		importService: service,
	}
}

// HandleGetHoldings returns the user's open positions valued at current
// market prices. Assets whose price cannot be resolved are still listed,
// marked UNAVAILABLE.
func (h *PortfolioHandler) HandleGetHoldings(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}
	holdings, err := h.importService.GetHoldingsWithValue(userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Error retrieving holdings", "error", err)
		utils.SendJSONError(w, "Error retrieving holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []models.HoldingValue{}
	}
	writeWithETag(w, r, holdings)
}

// HandleGetLots returns the user's acquisition lots, open and consumed.
func (h *PortfolioHandler) HandleGetLots(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}
	lots, err := h.importService.GetLots(userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Error retrieving lots", "error", err)
		utils.SendJSONError(w, "Error retrieving lots", http.StatusInternalServerError)
		return
	}
	if lots == nil {
		lots = []models.Lot{}
	}
	writeWithETag(w, r, lots)
}
