// backend/src/security/validation/file_validation.go
package validation

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/username/cryptofolio/backend/src/logger"
)

// Content types exchange export tools commonly declare for a CSV upload.
// Spreadsheet binary formats (.xlsx) are intentionally absent.
var allowedClientContentTypes = map[string]bool{
	"text/csv":        true,
	"application/csv": true,
	// Older Excel builds label CSV exports this way.
	"application/vnd.ms-excel": true,
	"text/plain":               true,
}

// ValidateClientContentType checks the Content-Type header the client sent
// with the upload. This is advisory only; the sniffed content is what
// actually gates the import.
func ValidateClientContentType(contentType string) error {
	if !allowedClientContentTypes[strings.ToLower(contentType)] {
		logger.L.Warn("rejected client-declared content type", "contentType", contentType)
		return fmt.Errorf("declared file type '%s' is not accepted for CSV import", contentType)
	}
	return nil
}

// looksBinary reports whether a sample of the upload contains null bytes or
// invalid UTF-8, neither of which appears in an exchange CSV export.
func looksBinary(sample []byte) bool {
	if bytes.IndexByte(sample, 0) != -1 {
		return true
	}
	return !utf8.Valid(sample)
}

// ValidateFileContentByMagicBytes sniffs the first kilobyte of the upload and
// rejects anything that is not recognizably text. The reader is rewound
// afterwards so the CSV parser sees the whole file.
func ValidateFileContentByMagicBytes(file io.ReadSeeker) (string, error) {
	if file == nil {
		return "", fmt.Errorf("file is nil")
	}

	sample := make([]byte, 1024)
	n, err := file.Read(sample)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to sample upload for content sniffing: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind upload after sniffing: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("file is empty")
	}

	if looksBinary(sample[:n]) {
		logger.L.Warn("rejected upload: binary content in CSV import")
		return "application/octet-stream", fmt.Errorf("file appears to be binary, not a CSV export")
	}

	detected := http.DetectContentType(sample[:n])
	detected = strings.ToLower(strings.Split(detected, ";")[0])

	// http.DetectContentType falls back to octet-stream for anything it does
	// not recognize. The binary check has already passed at this point, so an
	// octet-stream verdict means an odd text encoding; reject those too
	// rather than guess.
	switch detected {
	case "text/plain", "text/csv", "application/csv":
	default:
		logger.L.Warn("rejected upload: sniffed content type not accepted", "detectedContentType", detected)
		return detected, fmt.Errorf("detected file content type '%s' is not accepted", detected)
	}

	logger.L.Debug("upload content type accepted", "detectedContentType", detected)
	return detected, nil
}
