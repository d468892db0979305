package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/karmgyan/internal/orchestrator"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeErrorBody(w, code, map[string]any{
		"message": fmt.Sprintf(format, args...),
		"type":    errType,
	})
}

func writeErrorBody(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// statusFor maps an orchestrator error kind to an HTTP status.
func statusFor(kind orchestrator.Kind) int {
	switch kind {
	case orchestrator.KindInvalidRequest:
		return http.StatusBadRequest
	case orchestrator.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case orchestrator.KindNotFound:
		return http.StatusNotFound
	case orchestrator.KindEngineProcessFailure,
		orchestrator.KindEngineMalformedOutput,
		orchestrator.KindEngineApplicationFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// serviceError writes err as the JSON error envelope. Only the user-safe
// message leaves the process; internal causes are logged.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var e *orchestrator.Error
	if !errors.As(err, &e) {
		if ctxErr := r.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// The connection may still be open, so it still gets an answer.
			slog.Info("request cancelled before completion", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusServiceUnavailable, "request_cancelled", "request was cancelled before it completed; no credits were charged")
			return
		}
		slog.Error("unclassified service error", "path", r.URL.Path, "error", err)
		httpError(w, http.StatusInternalServerError, string(orchestrator.KindInternal), "internal error")
		return
	}

	code := statusFor(e.Kind)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	}
	body := map[string]any{
		"message": e.Message(),
		"type":    string(e.Kind),
	}
	if e.Kind == orchestrator.KindInsufficientCredits {
		body["credits_required"] = e.Required
		body["credits_available"] = e.Available
	}
	writeErrorBody(w, code, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
