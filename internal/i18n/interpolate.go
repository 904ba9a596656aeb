package i18n

import "strings"

// Interpolate replaces every {name} token with values[name]. Tokens with no
// matching value are left as written.
func Interpolate(template string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(template, "{") {
		return template
	}
	pairs := make([]string, 0, len(values)*2)
	for name, value := range values {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
