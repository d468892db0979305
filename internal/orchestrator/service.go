// Package orchestrator composes the credit ledger, conversation window,
// report archive and engine into the ask and report operations. Credits are
// charged only after the engine reports success, and the charge is committed
// together with the conversation append or report insert, or not at all.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/karmgyan/internal/conversation"
	"github.com/kalambet/karmgyan/internal/credits"
	"github.com/kalambet/karmgyan/internal/engine"
	"github.com/kalambet/karmgyan/internal/metrics"
	"github.com/kalambet/karmgyan/internal/reports"
)

const (
	DefaultAskTimeout        = 60 * time.Second
	DefaultReportTimeout     = 120 * time.Second
	DefaultMaxQuestionLength = 2000
)

var reportTypePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Config tunes a Service. Zero values select the defaults.
type Config struct {
	AskTimeout        time.Duration
	ReportTimeout     time.Duration
	MaxQuestionLength int
	Logger            *slog.Logger
}

// Service implements the user-facing operations.
type Service struct {
	ledger  *credits.Ledger
	window  *conversation.Window
	archive *reports.Archive
	engine  engine.Engine

	askTimeout    time.Duration
	reportTimeout time.Duration
	maxQuestion   int
	logger        *slog.Logger
}

// New wires a Service.
func New(ledger *credits.Ledger, window *conversation.Window, archive *reports.Archive, eng engine.Engine, cfg Config) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("orchestrator: ledger must not be nil")
	}
	if window == nil {
		return nil, errors.New("orchestrator: conversation window must not be nil")
	}
	if archive == nil {
		return nil, errors.New("orchestrator: report archive must not be nil")
	}
	if eng == nil {
		return nil, errors.New("orchestrator: engine must not be nil")
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = DefaultAskTimeout
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = DefaultReportTimeout
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = DefaultMaxQuestionLength
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:        ledger,
		window:        window,
		archive:       archive,
		engine:        eng,
		askTimeout:    cfg.AskTimeout,
		reportTimeout: cfg.ReportTimeout,
		maxQuestion:   cfg.MaxQuestionLength,
		logger:        logger,
	}, nil
}

// AskInput is a question about a chart. An empty ConversationID selects the
// user's default conversation.
type AskInput struct {
	UserID         string
	ChartData      json.RawMessage
	Question       string
	ConversationID string
}

// AskOutput is a charged answer together with the balance left after it.
type AskOutput struct {
	Answer           string          `json:"answer"`
	Usage            json.RawMessage `json:"usage,omitempty"`
	Model            string          `json:"model,omitempty"`
	IsMock           bool            `json:"is_mock"`
	Timestamp        string          `json:"timestamp,omitempty"`
	CreditsUsed      int             `json:"credits_used"`
	CreditsRemaining int             `json:"credits_remaining"`
	ConversationID   string          `json:"conversation_id"`
}

// Ask answers a question about a chart, using the conversation's recent turns
// as context.
func (s *Service) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	if err := validateUser(in.UserID); err != nil {
		return AskOutput{}, err
	}
	if err := validateChart(in.ChartData); err != nil {
		return AskOutput{}, err
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AskOutput{}, newError(KindInvalidRequest, "question is required", nil)
	}
	if utf8.RuneCountInString(question) > s.maxQuestion {
		return AskOutput{}, newError(KindInvalidRequest, "question is too long", nil)
	}
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = conversation.DefaultKey(in.UserID)
	}
	key := conversationKey(in.UserID, convID)

	cost := credits.PriceQuestion
	if err := s.precheck(ctx, in.UserID, cost); err != nil {
		return AskOutput{}, err
	}

	history, err := s.window.Read(ctx, key)
	if err != nil {
		return AskOutput{}, newError(KindInternal, "reading conversation", err)
	}

	out, err := s.invoke(ctx, in.UserID, engine.Request{
		Action:    engine.ActionAsk,
		ChartData: in.ChartData,
		Question:  question,
		History:   toMessages(history),
	}, s.askTimeout)
	if err != nil {
		return AskOutput{}, err
	}

	remaining, err := s.settle(ctx, in.UserID, "question", cost, func(ctx context.Context) error {
		return s.window.Append(ctx, key, conversation.Exchange(question, out.Answer))
	})
	if err != nil {
		return AskOutput{}, err
	}

	return AskOutput{
		Answer:           out.Answer,
		Usage:            out.Usage,
		Model:            out.Model,
		IsMock:           out.IsMock,
		Timestamp:        out.Timestamp,
		CreditsUsed:      cost,
		CreditsRemaining: remaining,
		ConversationID:   convID,
	}, nil
}

// ReportInput asks for a report. An empty ReportType means comprehensive.
type ReportInput struct {
	UserID     string
	ChartData  json.RawMessage
	ReportType string
}

// ReportOutput is an archived report and what it cost.
type ReportOutput struct {
	ReportID         string          `json:"report_id"`
	ReportType       string          `json:"report_type"`
	Content          string          `json:"content"`
	Usage            json.RawMessage `json:"usage,omitempty"`
	Model            string          `json:"model,omitempty"`
	IsMock           bool            `json:"is_mock"`
	Timestamp        string          `json:"timestamp,omitempty"`
	CreditsUsed      int             `json:"credits_used"`
	CreditsRemaining int             `json:"credits_remaining"`
}

// GenerateReport produces and archives a report. An empty report type means
// comprehensive; types the price table does not know are billed as
// comprehensive.
func (s *Service) GenerateReport(ctx context.Context, in ReportInput) (ReportOutput, error) {
	if err := validateUser(in.UserID); err != nil {
		return ReportOutput{}, err
	}
	if err := validateChart(in.ChartData); err != nil {
		return ReportOutput{}, err
	}
	reportType := strings.TrimSpace(in.ReportType)
	if reportType == "" {
		reportType = string(reports.TypeComprehensive)
	}
	if !reportTypePattern.MatchString(reportType) {
		return ReportOutput{}, newError(KindInvalidRequest, "report type is malformed", nil)
	}

	cost := credits.ReportCost(reportType)
	if err := s.precheck(ctx, in.UserID, cost); err != nil {
		return ReportOutput{}, err
	}

	out, err := s.invoke(ctx, in.UserID, engine.Request{
		Action:     engine.ActionReport,
		ChartData:  in.ChartData,
		ReportType: reportType,
	}, s.reportTimeout)
	if err != nil {
		return ReportOutput{}, err
	}

	var reportID string
	remaining, err := s.settle(ctx, in.UserID, "report", cost, func(ctx context.Context) error {
		id, err := s.archive.Store(ctx, reports.Report{
			UserID:     in.UserID,
			ReportType: reportType,
			Content:    out.Answer,
			ChartData:  in.ChartData,
			Model:      out.Model,
			Usage:      out.Usage,
		})
		reportID = id
		return err
	})
	if err != nil {
		return ReportOutput{}, err
	}

	return ReportOutput{
		ReportID:         reportID,
		ReportType:       reportType,
		Content:          out.Answer,
		Usage:            out.Usage,
		Model:            out.Model,
		IsMock:           out.IsMock,
		Timestamp:        out.Timestamp,
		CreditsUsed:      cost,
		CreditsRemaining: remaining,
	}, nil
}

// precheck reads the balance without reserving anything. The real charge
// happens in settle.
func (s *Service) precheck(ctx context.Context, userID string, cost int) error {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return newError(KindInternal, "reading balance", err)
	}
	if balance < cost {
		return insufficient(cost, balance)
	}
	return nil
}

// invoke runs the engine and maps every non-success outcome to an *Error.
// When ctx ends first the process is left running and ctx.Err() is returned.
func (s *Service) invoke(ctx context.Context, userID string, req engine.Request, timeout time.Duration) (engine.Outcome, error) {
	out, err := s.engine.Invoke(ctx, req, timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.Info("caller gone before engine finished; nothing charged",
				"user", userID, "action", string(req.Action), "err", ctxErr)
			return engine.Outcome{}, ctxErr
		}
		if errors.Is(err, engine.ErrInvalidRequest) {
			return engine.Outcome{}, newError(KindInvalidRequest, "request cannot be sent to the engine", err)
		}
		return engine.Outcome{}, newError(KindInternal, "invoking engine", err)
	}

	if out.OK() {
		return out, nil
	}

	attrs := []any{
		"user", userID,
		"action", string(req.Action),
		"outcome", string(out.Kind),
		"message", out.Message,
		"exit_code", out.ExitCode,
		"timed_out", out.TimedOut,
		"duration", out.Duration,
	}
	if out.Stderr != "" {
		attrs = append(attrs, "stderr", out.Stderr)
	}
	if out.Raw != "" {
		attrs = append(attrs, "stdout", out.Raw)
	}
	s.logger.Error("engine request failed", attrs...)

	switch out.Kind {
	case engine.OutcomeApplicationFailure:
		return out, newError(KindEngineApplicationFailure, out.Message, nil)
	case engine.OutcomeMalformedOutput:
		return out, newError(KindEngineMalformedOutput, "engine output unreadable", errors.New(out.Message))
	default:
		return out, newError(KindEngineProcessFailure, "engine did not complete", errors.New(out.Message))
	}
}

// settle charges cost and runs commit. If commit fails the charge is refunded
// so that neither side effect survives.
func (s *Service) settle(ctx context.Context, userID, operation string, cost int, commit func(context.Context) error) (int, error) {
	if err := ctx.Err(); err != nil {
		s.logger.Info("caller gone after engine success; result discarded, nothing charged",
			"user", userID, "operation", operation)
		return 0, err
	}
	// Once charging starts it runs to the end regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	remaining, ok, err := s.ledger.TryDeduct(ctx, userID, cost)
	if err != nil {
		return 0, newError(KindInternal, "deducting credits", err)
	}
	if !ok {
		// A concurrent request spent the balance while the engine ran.
		return 0, insufficient(cost, remaining)
	}

	if err := commit(ctx); err != nil {
		if _, rerr := s.ledger.Add(ctx, userID, cost); rerr != nil {
			s.logger.Error("refund after failed commit did not go through",
				"user", userID, "operation", operation, "amount", cost, "err", rerr)
		}
		return 0, newError(KindInternal, "saving "+operation, err)
	}

	metrics.RecordCharge(operation, cost)
	s.logger.Info("credits charged", "user", userID, "operation", operation, "amount", cost, "remaining", remaining)
	return remaining, nil
}

// CreditsOutput is the balance together with the price list.
type CreditsOutput struct {
	Credits int                `json:"credits"`
	Pricing credits.PriceTable `json:"pricing"`
}

// Credits returns the user's balance, granting the starting credits on first
// access.
func (s *Service) Credits(ctx context.Context, userID string) (CreditsOutput, error) {
	if err := validateUser(userID); err != nil {
		return CreditsOutput{}, err
	}
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return CreditsOutput{}, newError(KindInternal, "reading balance", err)
	}
	return CreditsOutput{Credits: balance, Pricing: credits.Prices()}, nil
}

// AddCredits tops up a balance and returns the new one.
func (s *Service) AddCredits(ctx context.Context, userID string, amount int) (int, error) {
	if err := validateUser(userID); err != nil {
		return 0, err
	}
	balance, err := s.ledger.Add(ctx, userID, amount)
	if errors.Is(err, credits.ErrInvalidAmount) {
		return 0, newError(KindInvalidRequest, "amount must be a positive integer", err)
	}
	if err != nil {
		return 0, newError(KindInternal, "adding credits", err)
	}
	s.logger.Info("credits added", "user", userID, "amount", amount, "balance", balance)
	return balance, nil
}

// PurchaseOutput describes an applied payment.
type PurchaseOutput struct {
	CreditsAdded int    `json:"credits_added"`
	NewBalance   int    `json:"new_balance"`
	PaymentID    string `json:"payment_id"`
}

// PurchaseCredits credits a completed payment. Each payment id is applied at
// most once; a replay is rejected as an invalid request. An empty id is
// replaced with a generated demo id.
func (s *Service) PurchaseCredits(ctx context.Context, userID string, amount int, paymentID string) (PurchaseOutput, error) {
	if err := validateUser(userID); err != nil {
		return PurchaseOutput{}, err
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		paymentID = fmt.Sprintf("demo_%d", time.Now().UnixMilli())
	}
	balance, applied, err := s.ledger.Purchase(ctx, userID, paymentID, amount)
	if errors.Is(err, credits.ErrInvalidAmount) {
		return PurchaseOutput{}, newError(KindInvalidRequest, "amount must be a positive integer", err)
	}
	if err != nil {
		return PurchaseOutput{}, newError(KindInternal, "applying purchase", err)
	}
	if !applied {
		return PurchaseOutput{}, newError(KindInvalidRequest, "payment "+paymentID+" was already applied", nil)
	}
	s.logger.Info("credits purchased", "user", userID, "payment_id", paymentID, "amount", amount, "balance", balance)
	return PurchaseOutput{CreditsAdded: amount, NewBalance: balance, PaymentID: paymentID}, nil
}

// Conversation returns the stored turns of a conversation. An empty id means
// the user's default conversation; unknown conversations are empty.
func (s *Service) Conversation(ctx context.Context, userID, conversationID string) (string, []conversation.Turn, error) {
	if err := validateUser(userID); err != nil {
		return "", nil, err
	}
	convID := strings.TrimSpace(conversationID)
	if convID == "" {
		convID = conversation.DefaultKey(userID)
	}
	turns, err := s.window.Read(ctx, conversationKey(userID, convID))
	if err != nil {
		return "", nil, newError(KindInternal, "reading conversation", err)
	}
	return convID, turns, nil
}

// ClearConversation drops a conversation. Clearing an unknown one succeeds.
func (s *Service) ClearConversation(ctx context.Context, userID, conversationID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	convID := strings.TrimSpace(conversationID)
	if convID == "" {
		return newError(KindInvalidRequest, "conversation id is required", nil)
	}
	if err := s.window.Clear(ctx, conversationKey(userID, convID)); err != nil {
		return newError(KindInternal, "clearing conversation", err)
	}
	return nil
}

// ListReports returns the user's report summaries, newest first.
func (s *Service) ListReports(ctx context.Context, userID string) ([]reports.Summary, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	list, err := s.archive.ListByUser(ctx, userID)
	if err != nil {
		return nil, newError(KindInternal, "listing reports", err)
	}
	return list, nil
}

// GetReport returns one of the user's reports. Reports owned by someone else
// are reported as not found.
func (s *Service) GetReport(ctx context.Context, userID, reportID string) (reports.Report, error) {
	if err := validateUser(userID); err != nil {
		return reports.Report{}, err
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return reports.Report{}, newError(KindInvalidRequest, "report id is required", nil)
	}
	r, err := s.archive.Get(ctx, reportID)
	if errors.Is(err, reports.ErrNotFound) {
		return reports.Report{}, newError(KindNotFound, "report not found", err)
	}
	if err != nil {
		return reports.Report{}, newError(KindInternal, "reading report", err)
	}
	if r.UserID != userID {
		return reports.Report{}, newError(KindNotFound, "report not found", nil)
	}
	return r, nil
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return newError(KindInvalidRequest, "user id is required", nil)
	}
	return nil
}

func validateChart(chart json.RawMessage) error {
	trimmed := bytes.TrimSpace(chart)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return newError(KindInvalidRequest, "chart data is required", nil)
	}
	if len(trimmed) > engine.MaxArgBytes {
		return newError(KindInvalidRequest, "chart data is too large", nil)
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return newError(KindInvalidRequest, "chart data must be a JSON object", nil)
	}
	return nil
}

// conversationKey scopes conversation ids to their user so one user cannot
// read or clear another's history by guessing an id.
func conversationKey(userID, conversationID string) string {
	return userID + "/" + conversationID
}

func toMessages(turns []conversation.Turn) []engine.Message {
	msgs := make([]engine.Message, len(turns))
	for i, t := range turns {
		msgs[i] = engine.Message{Role: string(t.Role), Content: t.Content}
	}
	return msgs
}
