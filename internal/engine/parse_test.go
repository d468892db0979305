package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		kind   OutcomeKind
		answer string
	}{
		{"success", `{"success": true, "answer": "yes"}`, OutcomeSuccess, "yes"},
		{"pretty printed", "{\n  \"success\": true,\n  \"answer\": \"yes\"\n}\n", OutcomeSuccess, "yes"},
		{"extra fields ignored", `{"success": true, "answer": "yes", "report_type": "career"}`, OutcomeSuccess, "yes"},
		{"success false", `{"success": false, "error": "nope"}`, OutcomeApplicationFailure, ""},
		{"success missing", `{"answer": "yes"}`, OutcomeApplicationFailure, ""},
		{"success not bool", `{"success": "true", "answer": "yes"}`, OutcomeMalformedOutput, ""},
		{"empty answer", `{"success": true, "answer": "  "}`, OutcomeMalformedOutput, ""},
		{"answer missing", `{"success": true}`, OutcomeMalformedOutput, ""},
		{"array", `[{"success": true}]`, OutcomeMalformedOutput, ""},
		{"null", `null`, OutcomeMalformedOutput, ""},
		{"trailing text", `{"success": true, "answer": "yes"} done`, OutcomeMalformedOutput, ""},
		{"empty", "", OutcomeMalformedOutput, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classify([]byte(tt.stdout), Outcome{})
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.answer, out.Answer)
		})
	}
}

func TestClassify_ApplicationFailureWithoutMessage(t *testing.T) {
	out := classify([]byte(`{"success": false}`), Outcome{})
	assert.Equal(t, OutcomeApplicationFailure, out.Kind)
	assert.Equal(t, unknownEngineError, out.Message)
}

func TestClassify_NullUsageDropped(t *testing.T) {
	out := classify([]byte(`{"success": true, "answer": "a", "usage": null}`), Outcome{})
	assert.True(t, out.OK())
	assert.Nil(t, out.Usage)
}
