package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/karmgyan/internal/conversation"
	"github.com/kalambet/karmgyan/internal/credits"
	"github.com/kalambet/karmgyan/internal/engine"
	"github.com/kalambet/karmgyan/internal/orchestrator"
	"github.com/kalambet/karmgyan/internal/reports"
)

const testToken = "test-token"

const testChart = `{"ascendant":"Leo","planets":{"sun":"Aries"}}`

// stubEngine answers every request with a fixed outcome.
type stubEngine struct {
	mu      sync.Mutex
	outcome engine.Outcome
	calls   []engine.Request
}

func (s *stubEngine) Invoke(_ context.Context, req engine.Request, _ time.Duration) (engine.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	return s.outcome, nil
}

func (s *stubEngine) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func answer(text string) engine.Outcome {
	return engine.Outcome{
		Kind:   engine.OutcomeSuccess,
		Answer: text,
		Model:  "vedic-1",
		Usage:  json.RawMessage(`{"total_tokens":42}`),
	}
}

func newTestService(t *testing.T, eng engine.Engine) *orchestrator.Service {
	t.Helper()
	svc, err := orchestrator.New(
		credits.NewLedger(credits.NewMemoryStore()),
		conversation.NewWindow(conversation.NewMemoryStore(), conversation.DefaultMaxExchanges),
		reports.NewArchive(reports.NewMemoryStore()),
		eng,
		orchestrator.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
	)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return svc
}

func newTestHandler(t *testing.T, eng engine.Engine) http.Handler {
	t.Helper()
	return NewHandler(Deps{Service: newTestService(t, eng), Token: testToken})
}

// call performs an authenticated request as user and returns the recorder.
func call(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return body
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decode(t, rr)
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %v", body)
	}
	return e
}
