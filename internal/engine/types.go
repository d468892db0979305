package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Action selects the engine entry point.
type Action string

const (
	ActionAsk    Action = "ask"
	ActionReport Action = "report"
)

// Message is one prior conversation turn passed to the engine as history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one engine invocation.
type Request struct {
	Action     Action
	ChartData  json.RawMessage
	Question   string    // ask only
	History    []Message // ask only
	ReportType string    // report only
}

// ErrInvalidRequest wraps problems building the engine command line.
var ErrInvalidRequest = errors.New("invalid engine request")

// MaxArgBytes is the largest single command-line argument sent to the engine.
// Linux refuses to exec an argument of 128 KiB or more (MAX_ARG_STRLEN).
const MaxArgBytes = 120 << 10

// args renders the command-line arguments understood by the engine script.
func (r Request) args() ([]string, error) {
	if len(r.ChartData) == 0 {
		return nil, fmt.Errorf("%w: chart data is required", ErrInvalidRequest)
	}
	chart, err := compactJSON(r.ChartData)
	if err != nil {
		return nil, fmt.Errorf("%w: chart data: %v", ErrInvalidRequest, err)
	}
	if len(chart) > MaxArgBytes {
		return nil, fmt.Errorf("%w: chart data is %d bytes, limit is %d", ErrInvalidRequest, len(chart), MaxArgBytes)
	}

	args := []string{"--action", string(r.Action), "--chart-data", chart}
	switch r.Action {
	case ActionAsk:
		if len(r.Question) > MaxArgBytes {
			return nil, fmt.Errorf("%w: question is too long", ErrInvalidRequest)
		}
		h, err := renderHistory(r.History)
		if err != nil {
			return nil, err
		}
		args = append(args, "--question", r.Question, "--history", h)
	case ActionReport:
		args = append(args, "--report-type", r.ReportType)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, r.Action)
	}
	return args, nil
}

// renderHistory encodes history as JSON, dropping the oldest exchanges until
// it fits in MaxArgBytes.
func renderHistory(history []Message) (string, error) {
	if history == nil {
		history = []Message{}
	}
	for {
		h, err := json.Marshal(history)
		if err != nil {
			return "", fmt.Errorf("%w: history: %v", ErrInvalidRequest, err)
		}
		if len(h) <= MaxArgBytes {
			return string(h), nil
		}
		if len(history) == 0 {
			return "", fmt.Errorf("%w: history does not fit in an argument", ErrInvalidRequest)
		}
		drop := min(2, len(history))
		history = history[drop:]
	}
}

// OutcomeKind classifies how an invocation ended.
type OutcomeKind string

const (
	OutcomeSuccess            OutcomeKind = "success"
	OutcomeProcessFailure     OutcomeKind = "process_failure"
	OutcomeMalformedOutput    OutcomeKind = "malformed_output"
	OutcomeApplicationFailure OutcomeKind = "application_failure"
)

// Outcome is the classified result of one engine process.
type Outcome struct {
	Kind OutcomeKind

	// Populated on success.
	Answer    string
	Model     string
	Usage     json.RawMessage
	IsMock    bool
	Timestamp string

	// Message is the engine's own error for application failures and a
	// description of what went wrong for process or output failures.
	Message  string
	ExitCode int
	TimedOut bool
	Stderr   string // bounded tail of the diagnostic stream
	Raw      string // stdout, kept only when it could not be parsed

	Duration time.Duration
}

// OK reports whether the outcome carries a usable answer.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// payload is the single JSON object the engine writes to stdout.
type payload struct {
	Success   *bool           `json:"success"`
	Answer    *string         `json:"answer"`
	Error     string          `json:"error"`
	Usage     json.RawMessage `json:"usage"`
	Model     string          `json:"model"`
	IsMock    bool            `json:"is_mock"`
	Timestamp string          `json:"timestamp"`
}
