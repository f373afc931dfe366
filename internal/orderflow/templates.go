package orderflow

import (
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// RenderTemplate подставляет значения вместо плейсхолдеров вида {order_code}.
// Неизвестные плейсхолдеры остаются в тексте как есть.
func RenderTemplate(template string, values map[string]string) string {
	if len(values) == 0 {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := values[key]; ok {
			return v
		}
		return match
	})
}
