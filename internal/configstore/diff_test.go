package configstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffSummary(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		next     string
		expected []string
	}{
		{
			name:     "initial document has only additions",
			previous: "",
			next:     `{"threshold": 0.5, "lookback": 40}`,
			expected: []string{"+ lookback", "+ threshold"},
		},
		{
			name:     "identical documents produce no entries",
			previous: `{"threshold": 0.5}`,
			next:     `{"threshold": 0.5}`,
			expected: nil,
		},
		{
			name:     "changed scalar",
			previous: `{"threshold": 0.5}`,
			next:     `{"threshold": 0.7}`,
			expected: []string{"~ threshold: 0.5 -> 0.7"},
		},
		{
			name:     "nested change keeps dotted path",
			previous: `{"absorption": {"noise_floor": 1.0, "min_oi": 100}}`,
			next:     `{"absorption": {"noise_floor": 1.5, "min_oi": 100}}`,
			expected: []string{"~ absorption.noise_floor: 1 -> 1.5"},
		},
		{
			name:     "removed key",
			previous: `{"threshold": 0.5, "legacy": true}`,
			next:     `{"threshold": 0.5}`,
			expected: []string{"- legacy"},
		},
		{
			name:     "type change is a change, not add plus remove",
			previous: `{"horizons": ["short"]}`,
			next:     `{"horizons": {"short": "4h"}}`,
			expected: []string{`~ horizons: ["short"] -> {"short":"4h"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffSummary(json.RawMessage(tt.previous), json.RawMessage(tt.next))
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		document string
		valid    bool
	}{
		{"valid object", `{"threshold": 0.5}`, true},
		{"empty document", ``, false},
		{"malformed json", `{"threshold":`, false},
		{"array at top level", `[1, 2, 3]`, false},
		{"scalar at top level", `42`, false},
		{"empty object", `{}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := Validate(json.RawMessage(tt.document))
			if tt.valid {
				assert.Empty(t, issues)
			} else {
				assert.NotEmpty(t, issues)
			}
		})
	}
}

func TestValidateRejectsOversizedDocument(t *testing.T) {
	big := make([]byte, 0, MaxDocumentBytes+64)
	big = append(big, `{"blob": "`...)
	for len(big) < MaxDocumentBytes+1 {
		big = append(big, 'x')
	}
	big = append(big, `"}`...)

	issues := Validate(big)
	assert.NotEmpty(t, issues)
}
