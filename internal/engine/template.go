package engine

import "strings"

// RenderTemplate substitutes {key} placeholders with their values.
// Empty values fall back to a visible marker rather than vanishing.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		if v == "" {
			v = "<unknown>"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// RenderForRecipient renders the campaign template for one recipient name.
func RenderForRecipient(template, name string) string {
	return RenderTemplate(template, map[string]string{"name": name})
}
