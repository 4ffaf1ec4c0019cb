package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	bindings := map[string]string{
		"name": "Bob",
		"city": "Pune",
	}
	for scenario, tc := range map[string]struct {
		text     string
		expected string
	}{
		"no placeholder":      {"hi there", "hi there"},
		"simple binding":      {"hi {{name}}", "hi Bob"},
		"jsonpath binding":    {"hi {{$.name}} from {{$.city}}", "hi Bob from Pune"},
		"missing binding":     {"hi {{unknown}}!", "hi !"},
		"missing jsonpath":    {"hi {{$.unknown}}!", "hi !"},
		"multiple same token": {"{{name}} {{name}}", "Bob Bob"},
		"empty token":         {"hi {{ }}", "hi "},
	} {
		t.Run(scenario, func(t *testing.T) {
			require.Equal(t, tc.expected, RenderTemplate(tc.text, bindings))
		})
	}
}
