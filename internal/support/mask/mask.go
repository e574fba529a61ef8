// Package mask provides PII masking helpers used by the reporter and the
// audit event log. Phone numbers are written to artifacts with at most the
// last four digits visible.
package mask

import "strings"

// Phone masks a phone-like string, leaving only the trailing digits visible:
// four digits for long numbers, two for short ones. Non-digit characters
// (plus signs, separators) are preserved.
func Phone(number string) string {
	if number == "" {
		return ""
	}

	digits := 0
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits == 0 {
		return number
	}

	visible := 4
	if digits <= 6 {
		visible = 2
	}
	if visible > digits {
		visible = digits
	}

	var sb strings.Builder
	sb.Grow(len(number))
	maskUntil := digits - visible
	seen := 0
	for _, r := range number {
		if r >= '0' && r <= '9' {
			if seen < maskUntil {
				sb.WriteRune('*')
			} else {
				sb.WriteRune(r)
			}
			seen++
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// phoneFields are the event-payload keys whose values are masked before an
// audit event is written.
var phoneFields = map[string]struct{}{
	"from":        {},
	"to":          {},
	"from_number": {},
	"to_number":   {},
	"phone":       {},
}

// EventFields returns a copy of an audit event payload with phone-like
// fields masked.
func EventFields(fields map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return map[string]interface{}{}
	}
	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if _, ok := phoneFields[k]; ok {
			if s, ok := v.(string); ok {
				masked[k] = Phone(s)
				continue
			}
		}
		masked[k] = v
	}
	return masked
}
