package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// RenderTemplate substitutes {{...}} placeholders in authored message
// text with captured bindings. Tokens starting with "$" are JSONPath
// lookups over the bindings map, bare tokens are direct binding names.
// Unresolvable placeholders render as empty string so a missing
// binding never leaks template syntax to the end user.
func RenderTemplate(text string, bindings map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	var data map[string]any
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		token := strings.TrimSpace(match[2 : len(match)-2])
		if token == "" {
			return ""
		}
		if strings.HasPrefix(token, "$") {
			if data == nil {
				data = make(map[string]any, len(bindings))
				for k, v := range bindings {
					data[k] = v
				}
			}
			value, err := jsonpath.JsonPathLookup(data, token)
			if err != nil {
				return ""
			}
			return fmt.Sprintf("%v", value)
		}
		return bindings[token]
	})
}
