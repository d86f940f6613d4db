package campaign

import (
	"regexp"
	"strings"
)

var (
	namePattern = regexp.MustCompile(`(?i)\{\{name\}\}`)
	varPattern  = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	numericKey  = regexp.MustCompile(`^v\d+$`)
)

// Personalize resolves a message template for one recipient. {{name}} becomes
// the recipient name (empty when absent), {{v1}}..{{v10}} always resolve (empty
// when not provided), and any other {{key}} is replaced only when the variables
// map has it; unknown custom keys stay literal. Template text is trusted
// input from the campaign author; no escaping is applied.
func Personalize(template string, variables map[string]string, recipientName string) string {
	if template == "" {
		return template
	}

	text := namePattern.ReplaceAllString(template, recipientName)

	return varPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := strings.TrimSpace(match[2 : len(match)-2])
		lower := strings.ToLower(key)

		if numericKey.MatchString(lower) {
			if v, ok := lookupFold(variables, key); ok {
				return v
			}
			return ""
		}

		if v, ok := variables[key]; ok {
			return v
		}
		return match
	})
}

// lookupFold finds a variable by key, falling back to a case-insensitive scan
// so {{V1}} and {{v1}} both resolve.
func lookupFold(variables map[string]string, key string) (string, bool) {
	if v, ok := variables[key]; ok {
		return v, true
	}
	for k, v := range variables {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
