package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const unknownEngineError = "engine reported failure without a message"

func compactJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// decodePayload requires stdout to hold exactly one JSON object.
func decodePayload(stdout []byte) (payload, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return payload{}, errors.New("engine produced no output")
	}
	if trimmed[0] != '{' {
		return payload{}, errors.New("engine output is not a JSON object")
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&p); err != nil {
		return payload{}, fmt.Errorf("decode engine output: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return payload{}, errors.New("decode engine output: multiple JSON values")
		}
		return payload{}, fmt.Errorf("decode engine output trailing data: %w", err)
	}
	return p, nil
}

// classify turns the stdout of a process that exited cleanly into an
// Outcome. A missing success flag counts as failure.
func classify(stdout []byte, out Outcome) Outcome {
	p, err := decodePayload(stdout)
	if err != nil {
		out.Kind = OutcomeMalformedOutput
		out.Message = err.Error()
		out.Raw = string(stdout)
		return out
	}

	if p.Success == nil || !*p.Success {
		out.Kind = OutcomeApplicationFailure
		out.Message = strings.TrimSpace(p.Error)
		if out.Message == "" {
			out.Message = unknownEngineError
		}
		return out
	}

	if p.Answer == nil || strings.TrimSpace(*p.Answer) == "" {
		out.Kind = OutcomeMalformedOutput
		out.Message = "engine reported success without an answer"
		out.Raw = string(stdout)
		return out
	}

	out.Kind = OutcomeSuccess
	out.Answer = *p.Answer
	out.Model = p.Model
	out.IsMock = p.IsMock
	out.Timestamp = p.Timestamp
	if len(p.Usage) > 0 && !bytes.Equal(p.Usage, []byte("null")) {
		out.Usage = p.Usage
	}
	return out
}
