// backend/src/handlers/transaction_handler.go
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type TransactionHandler struct {
	importService services.ImportService
}

func NewTransactionHandler(service services.ImportService) *TransactionHandler {
	return &TransactionHandler{
		importService: service,
	}
}

// HandleGetTrades returns the user's derived trades, with ETag support so
// clients polling the list don't re-download an unchanged payload.
func (h *TransactionHandler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}
	trades, err := h.importService.GetTrades(userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Error retrieving trades", "error", err)
		utils.SendJSONError(w, "Error retrieving trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeWithETag(w, r, trades)
}

// HandleGetEvents returns the raw normalized event history.
func (h *TransactionHandler) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}
	events, err := h.importService.GetEvents(userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Error retrieving events", "error", err)
		utils.SendJSONError(w, "Error retrieving events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.TransactionEvent{}
	}
	writeWithETag(w, r, events)
}

// HandleGetDisposals returns the user's disposals with their FIFO lot
// consumptions; needs_review disposals are included, never hidden.
func (h *TransactionHandler) HandleGetDisposals(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}
	disposals, err := h.importService.GetDisposals(userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Error retrieving disposals", "error", err)
		utils.SendJSONError(w, "Error retrieving disposals", http.StatusInternalServerError)
		return
	}
	if disposals == nil {
		disposals = []models.Disposal{}
	}
	writeWithETag(w, r, disposals)
}

// HandleDeleteData removes the user's imported data. An optional ?provider=
// query scopes the deletion to one exchange; derived state is rebuilt from
// whatever events remain.
func (h *TransactionHandler) HandleDeleteData(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}
	provider := r.URL.Query().Get("provider")
	if err := h.importService.DeleteUserData(userID, provider); err != nil {
		logger.FromContext(r.Context()).Error("Error deleting user data", "provider", provider, "error", err)
		utils.SendJSONError(w, "Error deleting data", http.StatusInternalServerError)
		return
	}
	logger.FromContext(r.Context()).Info("User data deleted", "provider", provider)
	utils.SendJSON(w, map[string]string{"status": "deleted"}, http.StatusOK)
}

// writeWithETag sends data as JSON, answering 304 when the client already
// holds the current representation.
func writeWithETag(w http.ResponseWriter, r *http.Request, data interface{}) {
	w.Header().Set("Cache-Control", "no-cache, private")

	currentETag, err := utils.GenerateETag(data)
	if err == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		for _, cETag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}
	utils.SendJSON(w, data, http.StatusOK)
}
