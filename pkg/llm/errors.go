package llm

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	Model      string
}

func (e *APIError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("API error (status %d, model %s): %s", e.StatusCode, e.Model, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsTransient reports whether err is a provider 5xx.
func IsTransient(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.StatusCode >= 500 && apiErr.StatusCode <= 599
}

// FileProblem classifies a rejected file reference.
type FileProblem int

const (
	FileOK FileProblem = iota
	// FileProcessing means the file exists but is not ACTIVE yet.
	FileProcessing
	FileExpired
	FilePermissionDenied
)

var (
	fileIDPath   = regexp.MustCompile(`(?i)\bfiles/([a-z0-9_-]+)`)
	// Bare ids must contain a digit so "file is expired" does not yield "is".
	fileIDBare   = regexp.MustCompile(`(?i)\bfile\s+([a-z0-9_-]*[0-9][a-z0-9_-]*)`)
	mimePattern  = regexp.MustCompile(`(?i)\b((?:application|audio|font|image|model|text|video)/[a-z0-9][a-z0-9.+-]*)`)
	fileAccessRe = regexp.MustCompile(`(?i)permission|access`)
)

// FileError classifies err as a file reference failure. The returned id
// is empty when the message does not name the file.
func FileError(err error) (problem FileProblem, fileID string) {
	apiErr, ok := asAPIError(err)
	if !ok {
		return FileOK, ""
	}
	msg := strings.ToLower(apiErr.Message)
	if !strings.Contains(msg, "file") {
		return FileOK, ""
	}

	switch {
	case strings.Contains(msg, "not in an active state"), strings.Contains(msg, "inactive"), strings.Contains(msg, "processing"):
		problem = FileProcessing
	case strings.Contains(msg, "expired"):
		problem = FileExpired
	case apiErr.StatusCode == http.StatusForbidden && fileAccessRe.MatchString(msg):
		problem = FilePermissionDenied
	default:
		return FileOK, ""
	}
	return problem, fileIDFrom(apiErr.Message)
}

func fileIDFrom(msg string) string {
	if m := fileIDPath.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	if m := fileIDBare.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

// UnsupportedMimeType returns the mime type a provider refused, if err is
// such a refusal.
func UnsupportedMimeType(err error) (string, bool) {
	apiErr, ok := asAPIError(err)
	if !ok {
		return "", false
	}
	msg := strings.ToLower(apiErr.Message)
	if !strings.Contains(msg, "mime") || !(strings.Contains(msg, "unsupported") || strings.Contains(msg, "not supported")) {
		return "", false
	}
	m := mimePattern.FindStringSubmatch(apiErr.Message)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}
