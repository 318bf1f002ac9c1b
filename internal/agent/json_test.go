package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "fenced json block",
			input: "Here you go:\n```json\n{\"a\": 1}\n```\nDone.",
			want:  `{"a": 1}`,
		},
		{
			name:  "plain fence",
			input: "```\n[1, 2, 3]\n```",
			want:  `[1, 2, 3]`,
		},
		{
			name:  "bare object",
			input: `The result is {"verdict": "False", "n": 2} as requested.`,
			want:  `{"verdict": "False", "n": 2}`,
		},
		{
			name:  "bare array",
			input: `["a", "b"]`,
			want:  `["a", "b"]`,
		},
		{
			name:  "braces inside strings",
			input: `{"text": "a } inside", "done": true}`,
			want:  `{"text": "a } inside", "done": true}`,
		},
		{
			name:  "escaped quotes inside strings",
			input: `{"quote": "he said \"hi}\" loudly"}`,
			want:  `{"quote": "he said \"hi}\" loudly"}`,
		},
		{
			name:  "nested objects",
			input: `prefix {"outer": {"inner": [1, {"deep": 2}]}} suffix`,
			want:  `{"outer": {"inner": [1, {"deep": 2}]}}`,
		},
		{
			name:    "no json",
			input:   "I could not produce a structured answer.",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "   ",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			input:   `{"a": 1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
