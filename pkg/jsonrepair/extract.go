package jsonrepair

import (
	"strings"

	"github.com/bytedance/sonic"
)

// ExtractJSON returns the first balanced JSON object or array substring
// found in text, preferring one found inside a fenced code block over one
// found in plain prose. Returns ok=false when nothing balanced is found.
func ExtractJSON(text string) (result string, ok bool) {
	if fenced, found := firstFencedJSON(text); found {
		return fenced, true
	}
	return firstBalancedJSON(text)
}

func firstFencedJSON(text string) (string, bool) {
	const fence = "```"
	idx := 0
	for {
		start := strings.Index(text[idx:], fence)
		if start < 0 {
			return "", false
		}
		start += idx
		bodyStart := start + len(fence)
		// Skip an optional language tag (e.g. "json") up to the next newline.
		if nl := strings.IndexByte(text[bodyStart:], '\n'); nl >= 0 && nl < 20 {
			bodyStart += nl + 1
		}
		end := strings.Index(text[bodyStart:], fence)
		if end < 0 {
			return "", false
		}
		body := text[bodyStart : bodyStart+end]
		if candidate, found := firstBalancedJSON(body); found {
			return candidate, true
		}
		idx = bodyStart + end + len(fence)
	}
}

func firstBalancedJSON(text string) (string, bool) {
	for i, c := range text {
		if c != '{' && c != '[' {
			continue
		}
		if end, ok := findBalancedEnd(text, i); ok {
			return text[i : end+1], true
		}
	}
	return "", false
}

// findBalancedEnd returns the index of the character that closes the
// bracket/brace opened at start, respecting string literals and escapes.
func findBalancedEnd(text string, start int) (int, bool) {
	open := text[start]
	close := byte('}')
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// SafeParse parses text into v, trying a direct decode first and falling
// back to ExtractJSON + Repair only when the direct decode fails. When
// repair is false, no repair catalogue is applied and a failed direct
// decode is returned as-is.
func SafeParse(text string, v any, repair bool) error {
	if err := sonic.UnmarshalString(text, v); err == nil {
		return nil
	} else if !repair {
		return err
	}

	candidate := text
	if extracted, ok := ExtractJSON(text); ok {
		candidate = extracted
	}

	repaired, err := Repair(candidate, DefaultMaxAttempts)
	if err != nil {
		return err
	}

	return sonic.UnmarshalString(repaired, v)
}
