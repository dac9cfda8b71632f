package utils

import (
	"fmt"
	"regexp"
	"strings"
)

const DefaultMaxInputLength = 1000

var (
	angleBrackets  = regexp.MustCompile(`[<>]`)
	jsProtocol     = regexp.MustCompile(`(?i)javascript:`)
	eventHandler   = regexp.MustCompile(`(?i)on\w+=`)
	sqlFragments   = regexp.MustCompile(`(?i)('|;|--|\s+(or|and)\s+)`)
	disallowedChar = regexp.MustCompile(`[^\w\s\-@.,]`)

	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script\b.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)union\s+select`),
		regexp.MustCompile(`(?i)drop\s+table`),
		regexp.MustCompile(`(?i)insert\s+into`),
		regexp.MustCompile(`(?i)delete\s+from`),
		regexp.MustCompile(`(?i)update\s+set`),
	}
)

// SanitizeInput strips markup, script protocols, inline handlers, SQL
// fragments and any character outside letters, digits, whitespace and
// "-@.,". Input longer than maxLength runes is rejected.
func SanitizeInput(input string, maxLength int) (string, error) {
	if input == "" {
		return "", nil
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxInputLength
	}
	if len([]rune(input)) > maxLength {
		return "", &ValidationError{Field: "input", Message: fmt.Sprintf("Input exceeds maximum length of %d", maxLength)}
	}

	out := strings.TrimSpace(input)
	out = angleBrackets.ReplaceAllString(out, "")
	out = jsProtocol.ReplaceAllString(out, "")
	out = eventHandler.ReplaceAllString(out, "")
	out = sqlFragments.ReplaceAllString(out, "")
	out = disallowedChar.ReplaceAllString(out, "")
	return out, nil
}

// SanitizeValue sanitizes every string in a decoded JSON value, map keys
// included. Numbers, booleans and nulls pass through.
func SanitizeValue(v any, maxLength int) (any, error) {
	switch val := v.(type) {
	case string:
		return SanitizeInput(val, maxLength)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			s, err := SanitizeValue(item, maxLength)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, err := SanitizeInput(k, maxLength)
			if err != nil {
				return nil, err
			}
			s, err := SanitizeValue(item, maxLength)
			if err != nil {
				return nil, err
			}
			out[key] = s
		}
		return out, nil
	}
	return v, nil
}

// ContainsSuspiciousPattern reports whether s looks like script injection or
// SQL injection.
func ContainsSuspiciousPattern(s string) bool {
	for _, p := range suspiciousPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
