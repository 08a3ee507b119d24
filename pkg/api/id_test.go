package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "MySource", "mysource"},
		{"spaces to hyphens", "open router", "open-router"},
		{"invalid chars removed", "api/key!", "apikey"},
		{"trims hyphens", "-edge-", "edge"},
		{"keeps dots and plus", "gpt-4.1+turbo", "gpt-4.1+turbo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(
				t, api.SourceID(tt.expected),
				api.SanitizeID(api.SourceID(tt.input)),
			)
		})
	}
}
