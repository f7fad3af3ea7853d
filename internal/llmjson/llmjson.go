// Package llmjson pulls JSON payloads out of chatty LLM replies.
//
// Chat models frequently wrap JSON in markdown code fences or prepend
// conversational filler. The helpers here strip fences and cut the payload
// out by bracket position before decoding.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when the reply contains no bracketed payload.
var ErrNoJSON = errors.New("no JSON payload in response")

// StripFences removes a surrounding ```json ... ``` or ``` ... ``` block.
// Text outside the first fenced block is discarded.
func StripFences(resp string) string {
	s := strings.TrimSpace(resp)
	idx := strings.Index(s, "```")
	if idx == -1 {
		return s
	}
	s = s[idx+3:]
	s = strings.TrimPrefix(s, "json")
	if end := strings.Index(s, "```"); end != -1 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// Extract returns the substring from the first open rune to the last close
// rune, after stripping code fences.
func Extract(resp string, open, close rune) (string, error) {
	s := StripFences(resp)
	start := strings.IndexRune(s, open)
	end := strings.LastIndex(s, string(close))
	if start == -1 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// Object decodes the JSON object embedded in resp into v.
func Object(resp string, v any) error {
	raw, err := Extract(resp, '{', '}')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding JSON object: %w", err)
	}
	return nil
}

// Array decodes the JSON array embedded in resp into v.
func Array(resp string, v any) error {
	raw, err := Extract(resp, '[', ']')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding JSON array: %w", err)
	}
	return nil
}
