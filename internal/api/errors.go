package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clashxw/clashxw-core/internal/engine"
	"github.com/clashxw/clashxw-core/internal/process"
	"github.com/clashxw/clashxw-core/internal/profile"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeEngine       = "engine_error"
	ErrCodeStopTimeout  = "stop_timeout"
	ErrCodeUnavailable  = "unavailable"
)

// controlErrors maps controller failures to responses. The first entry
// whose target matches with errors.Is wins.
var controlErrors = []struct {
	target error
	status int
	code   string
}{
	{profile.ErrProfileNotFound, http.StatusNotFound, ErrCodeNotFound},
	{profile.ErrNotProfile, http.StatusBadRequest, ErrCodeValidation},
	{engine.ErrExecutableNotFound, http.StatusInternalServerError, ErrCodeEngine},
	{engine.ErrLaunchFailed, http.StatusInternalServerError, ErrCodeEngine},
	{process.ErrStopTimeout, http.StatusInternalServerError, ErrCodeStopTimeout},
	{engine.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// classifyControlError returns the status and code for err. ok is false
// for errors with no mapping, which are reported as internal errors.
func classifyControlError(err error) (status int, code string, ok bool) {
	for _, m := range controlErrors {
		if errors.Is(err, m.target) {
			return m.status, m.code, true
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal, false
}

// writeControlError writes the response for a failed controller operation.
// Unmapped errors are logged.
func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	status, code, ok := classifyControlError(err)
	if !ok {
		s.logger.Error("engine operation failed", "error", err)
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // The client may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}
