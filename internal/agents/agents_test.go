package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "input", DirectionInput.String())
	assert.Equal(t, "output", DirectionOutput.String())
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"agent":"RAG"}`, `{"agent":"RAG"}`},
		{"markdown fenced", "```json\n{\"agent\":\"RAG\"}\n```", `{"agent":"RAG"}`},
		{"surrounding prose", `Sure! Here you go: {"agent":"RAG"} Hope that helps.`, `{"agent":"RAG"}`},
		{"nested object", `{"a":{"b":1}}`, `{"a":{"b":1}}`},
		{"no object at all", "SAFE", "SAFE"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}
