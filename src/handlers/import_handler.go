// backend/src/handlers/import_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/security/validation"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type ImportHandler struct {
	importService services.ImportService
}

func NewImportHandler(service services.ImportService) *ImportHandler {
	return &ImportHandler{
		importService: service,
	}
}

// HandleUploadCSV accepts a provider export file as multipart form data and
// runs it through the import pipeline. The response is the batch report:
// counts plus a bounded list of row errors and unresolved buckets.
func (h *ImportHandler) HandleUploadCSV(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}
	ctxLogger := logger.FromContext(r.Context())

	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		ctxLogger.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to process upload or file too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	provider := r.FormValue("provider")
	if err := validation.ValidateProviderName(provider); err != nil {
		ctxLogger.Warn("Upload request carries invalid provider", "provider", provider, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		ctxLogger.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		ctxLogger.Warn("Uploaded file too large", "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	clientContentType := fileHeader.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		ctxLogger.Warn("Invalid client-declared file type", "contentType", clientContentType, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	detectedContentType, err := validation.ValidateFileContentByMagicBytes(file)
	if err != nil {
		ctxLogger.Warn("Server-side file content validation failed", "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctxLogger.Info("File content validated", "filename", fileHeader.Filename, "clientType", clientContentType, "detectedType", detectedContentType)

	result, err := h.importService.ProcessUpload(file, userID, provider, fileHeader.Filename, fileHeader.Size)
	if err != nil {
		var structural *models.StructuralError
		switch {
		case errors.Is(err, services.ErrUnknownProvider):
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &structural), errors.Is(err, services.ErrParsingFailed):
			utils.SendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			ctxLogger.Error("Import failed", "provider", provider, "error", err)
			utils.SendJSONError(w, "Import failed", http.StatusInternalServerError)
		}
		return
	}

	utils.SendJSON(w, result, http.StatusOK)
}

type fillsRequest struct {
	Provider string                `json:"provider"`
	Fills    []models.ExchangeFill `json:"fills"`
}

// HandleImportFills ingests fills fetched from an exchange API by an
// external sync worker. The worker owns credentials and HTTP; this endpoint
// owns the accounting.
func (h *ImportHandler) HandleImportFills(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity not found in context", http.StatusUnauthorized)
		return
	}
	ctxLogger := logger.FromContext(r.Context())

	var req fillsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctxLogger.Warn("Invalid fills request body", "error", err)
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateProviderName(req.Provider); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Fills) == 0 {
		utils.SendJSONError(w, "No fills supplied.", http.StatusBadRequest)
		return
	}

	result, err := h.importService.ProcessFills(req.Fills, userID, req.Provider)
	if err != nil {
		if errors.Is(err, services.ErrUnknownProvider) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctxLogger.Error("Fills import failed", "provider", req.Provider, "error", err)
		utils.SendJSONError(w, "Import failed", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, result, http.StatusOK)
}
