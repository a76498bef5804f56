package dispatch_api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
	writeJSON(w, r, status, errorBody{Error: err.Error(), Code: code})
}

// statusFor переводит доменную ошибку в HTTP-статус и машинный код.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrValidationFailed):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, models.ErrConflictingAssignment):
		return http.StatusConflict, "CONFLICTING_ASSIGNMENT"
	case errors.Is(err, models.ErrWindowExpired):
		return http.StatusGone, "WINDOW_EXPIRED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// decode: пустое тело допустимо, кривой JSON — ValidationFailed.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrapf(models.ErrValidationFailed, "invalid body: %v", err)
	}
	return nil
}
