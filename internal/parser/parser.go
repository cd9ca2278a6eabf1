// Package parser recovers structured data from generative-service output that
// may be fenced, truncated, or partially invalid JSON. Recovery is layered:
// each attempt is cheaper to trust than the next, and the attempt number is
// recorded on the persisted pass output for later diagnostics.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Attempt tags for PassOutput.ParseAttempt.
const (
	AttemptDirect  = 1 // raw text parsed as-is
	AttemptCleaned = 2 // fences stripped, control chars and escapes repaired
	AttemptExtract = 3 // outermost JSON object carved out of surrounding prose
	AttemptSalvage = 4 // single known field recovered by pattern match
)

// ErrUnrecoverable is returned when every layer fails.
var ErrUnrecoverable = eris.New("parser: response is not recoverable JSON")

var objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Parse recovers a JSON object from text, trying attempts 1-3 in order.
// It returns the recovered raw JSON and the attempt that produced it.
func Parse(text string) (json.RawMessage, int, error) {
	trimmed := strings.TrimSpace(text)

	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed), AttemptDirect, nil
	}

	cleaned := sanitize(stripFences(trimmed))
	if json.Valid([]byte(cleaned)) && strings.HasPrefix(cleaned, "{") {
		return json.RawMessage(cleaned), AttemptCleaned, nil
	}

	if m := objectPattern.FindString(cleaned); m != "" {
		candidate := sanitize(m)
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), AttemptExtract, nil
		}
	}

	// A truncated response often just lacks closing braces. Repair from the
	// first opening brace through the end of the text, not the regexp match:
	// the match stops at the last brace already present and would drop
	// whatever the truncation cut off after it.
	if idx := strings.Index(cleaned, "{"); idx >= 0 {
		if repaired := closeBraces(cleaned[idx:]); json.Valid([]byte(repaired)) {
			return json.RawMessage(repaired), AttemptExtract, nil
		}
	}

	return nil, 0, ErrUnrecoverable
}

// ParseWithSalvage runs Parse and, when all structural recovery fails, falls
// back to attempt 4: pattern-matching the first of the given fields out of the
// raw text and wrapping it in a minimal object.
func ParseWithSalvage(text string, fields ...string) (json.RawMessage, int, error) {
	raw, attempt, err := Parse(text)
	if err == nil {
		return raw, attempt, nil
	}

	for _, field := range fields {
		if val, ok := salvageField(text, field); ok {
			obj, mErr := json.Marshal(map[string]any{field: val})
			if mErr != nil {
				continue
			}
			return obj, AttemptSalvage, nil
		}
	}

	return nil, 0, ErrUnrecoverable
}

// stripFences removes markdown code fences around the payload.
func stripFences(text string) string {
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// sanitize walks the text tracking string state, escaping raw control
// characters inside strings and repairing invalid escape sequences, the two
// defects models most commonly introduce.
func sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '"':
			inString = !inString
			b.WriteByte(c)
		case inString && c == '\\':
			if i+1 < len(text) && isValidEscape(text[i+1]) {
				b.WriteByte(c)
				b.WriteByte(text[i+1])
				i++
			} else {
				// Invalid escape: escape the backslash itself; the following
				// char is written as-is on the next iteration.
				b.WriteByte('\\')
				b.WriteByte('\\')
			}
		case inString && c == '\n':
			b.WriteString(`\n`)
		case inString && c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 && c != '\n' && c != '\t' && c != '\r':
			// Drop stray control characters everywhere.
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isValidEscape(c byte) bool {
	switch c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}

// closeBraces appends missing closing braces/brackets to a truncated object.
func closeBraces(text string) string {
	var stack []byte
	inString := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(text, ", \n\t"))
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// salvageField pulls a single scalar field value out of unparseable text.
func salvageField(text, field string) (any, bool) {
	strPat := regexp.MustCompile(fmt.Sprintf(`"%s"\s*:\s*"((?:[^"\\]|\\.)*)"`, regexp.QuoteMeta(field)))
	if m := strPat.FindStringSubmatch(text); m != nil {
		var s string
		if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &s); err == nil {
			return s, true
		}
		return m[1], true
	}

	numPat := regexp.MustCompile(fmt.Sprintf(`"%s"\s*:\s*(-?\d+(?:\.\d+)?)`, regexp.QuoteMeta(field)))
	if m := numPat.FindStringSubmatch(text); m != nil {
		var f float64
		if err := json.Unmarshal([]byte(m[1]), &f); err == nil {
			return f, true
		}
	}

	return nil, false
}
