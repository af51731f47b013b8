// Package jsonx extracts JSON from LLM output. Models wrap JSON in prose,
// code fences, or truncate it mid-object; extraction tries progressively
// looser strategies and a small set of mechanical repairs before giving up.
package jsonx

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no strategy yields parseable JSON.
var ErrNoJSON = errors.New("no JSON found in text")

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// Unmarshal extracts the first JSON value from text and decodes it into v.
func Unmarshal(text string, v any) error {
	candidate, err := Extract(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(candidate), v)
}

// Extract returns the first parseable JSON value in text. Candidates are
// tried strictly first, then again after repair.
func Extract(text string) (string, error) {
	candidates := collectCandidates(text)

	for _, c := range candidates {
		if json.Valid([]byte(c)) {
			return c, nil
		}
	}
	for _, c := range candidates {
		if repaired, ok := repair(c); ok {
			return repaired, nil
		}
	}
	return "", ErrNoJSON
}

// collectCandidates runs the extraction strategies in order of strictness:
// whole text, fenced block, balanced object/array, greedy first-to-last
// delimiter, raw trimmed text.
func collectCandidates(text string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}

	trimmed := strings.TrimSpace(text)
	add(trimmed)

	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	add(balancedSlice(text, '{', '}'))
	add(balancedSlice(text, '[', ']'))

	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		add(text[i : j+1])
	}

	return out
}

// balancedSlice returns the first delimiter-balanced region, tracking string
// literals and escapes so braces inside strings do not count.
func balancedSlice(text string, open, close rune) string {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == open:
			if depth == 0 {
				start = i
			}
			depth++
		case r == close:
			if depth > 0 {
				depth--
				if depth == 0 {
					return text[start : i+len(string(close))]
				}
			}
		}
	}
	return ""
}

// repair applies mechanical fixes in stages, returning the first stage whose
// output parses: trailing commas stripped, unterminated string closed, then
// missing closers appended.
func repair(candidate string) (string, bool) {
	stage1 := trailingCommaRe.ReplaceAllString(candidate, "$1")
	if json.Valid([]byte(stage1)) {
		return stage1, true
	}

	stage2 := closeString(stage1)
	if json.Valid([]byte(stage2)) {
		return stage2, true
	}

	stage3 := closeDelimiters(stage2)
	stage3 = trailingCommaRe.ReplaceAllString(stage3, "$1")
	if json.Valid([]byte(stage3)) {
		return stage3, true
	}
	return "", false
}

// closeString terminates a dangling string literal at end of input.
func closeString(s string) string {
	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		}
	}
	if inString {
		return s + `"`
	}
	return s
}

// closeDelimiters appends the closers for any unbalanced braces/brackets, in
// nesting order.
func closeDelimiters(s string) string {
	var stack []rune
	inString := false
	escaped := false

	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{' || r == '[':
			stack = append(stack, r)
		case r == '}' || r == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	// Drop a trailing comma before closing.
	trimmed := strings.TrimRight(s, " \t\n")
	trimmed = strings.TrimSuffix(trimmed, ",")

	var sb strings.Builder
	sb.WriteString(trimmed)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			sb.WriteByte('}')
		} else {
			sb.WriteByte(']')
		}
	}
	return sb.String()
}
