package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/karmgyan/internal/conversation"
	"github.com/kalambet/karmgyan/internal/credits"
	"github.com/kalambet/karmgyan/internal/orchestrator"
	"github.com/kalambet/karmgyan/internal/reports"
)

type AskRequest struct {
	ChartData      json.RawMessage `json:"chartData"`
	Question       string          `json:"question"`
	ConversationID string          `json:"conversationId,omitempty"`
}

type ReportRequest struct {
	ChartData  json.RawMessage `json:"chartData"`
	ReportType string          `json:"reportType,omitempty"`
}

type PurchaseRequest struct {
	Amount    int    `json:"amount"`
	PaymentID string `json:"paymentId,omitempty"`
}

// decodeBody reads exactly one JSON value from the request body.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func handleAsk(svc *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}

		out, err := svc.Ask(r.Context(), orchestrator.AskInput{
			UserID:         userFrom(r.Context()),
			ChartData:      req.ChartData,
			Question:       req.Question,
			ConversationID: req.ConversationID,
		})
		if err != nil {
			serviceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			orchestrator.AskOutput
		}{true, out})
	}
}

func handleGenerateReport(svc *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReportRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}

		out, err := svc.GenerateReport(r.Context(), orchestrator.ReportInput{
			UserID:     userFrom(r.Context()),
			ChartData:  req.ChartData,
			ReportType: req.ReportType,
		})
		if err != nil {
			serviceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			orchestrator.ReportOutput
		}{true, out})
	}
}

func handleCredits(svc *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.Credits(r.Context(), userFrom(r.Context()))
		if err != nil {
			serviceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			orchestrator.CreditsOutput
		}{true, out})
	}
}

func handlePurchase(svc *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PurchaseRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}

		out, err := svc.PurchaseCredits(r.Context(), userFrom(r.Context()), req.Amount, req.PaymentID)
		if err != nil {
			serviceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			orchestrator.PurchaseOutput
		}{true, out})
	}
}

func handleCreditPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"packages":    credits.Packages(),
		"usage_costs": credits.UsageCosts(),
	})
}

func handleGetConversation(svc *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, turns, err := svc.Conversation(r.Context(), userFrom(r.Context()), r.URL.Query().Get("conversationId"))
		if err != nil {
			serviceError(w, r, err)
			return
		}
		if turns == nil {
			turns = []conversation.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"conversation_id": convID,
			"messages":        turns,
		})
	}
}

func handleClearConversation(svc *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearConversation(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
			serviceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Conversation cleared",
		})
	}
}

func handleListReports(svc *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListReports(r.Context(), userFrom(r.Context()))
		if err != nil {
			serviceError(w, r, err)
			return
		}
		if list == nil {
			list = []reports.Summary{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"reports": list,
		})
	}
}

func handleGetReport(svc *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := svc.GetReport(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"report":  rep,
		})
	}
}
