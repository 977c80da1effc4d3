package router

import (
	"bytes"
	"encoding/json"
	"strings"
)

// JSONField extracts a top-level field of a JSON object, e.g. "channel"
// in {"channel":"chat","data":"hi"}.
func JSONField(name string) Extractor {
	return JSONPath(name)
}

// JSONPath extracts a nested field of a JSON object, e.g. ("meta",
// "channel") in {"meta":{"channel":"chat"}}. String and number values
// become keys; anything else yields no key.
func JSONPath(path ...string) Extractor {
	return func(msg []byte) (string, bool) {
		raw := json.RawMessage(msg)
		for _, field := range path {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return "", false
			}
			next, ok := obj[field]
			if !ok {
				return "", false
			}
			raw = next
		}
		return scalarKey(raw)
	}
}

func scalarKey(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
	return "", false
}

// FirstOf tries each extractor in turn and returns the first key found.
// It covers message shapes that carry the key under different fields.
func FirstOf(extractors ...Extractor) Extractor {
	return func(msg []byte) (string, bool) {
		for _, ex := range extractors {
			if key, ok := ex(msg); ok {
				return key, true
			}
		}
		return "", false
	}
}

// Prefix extracts the part of a text frame before sep, e.g. "chat" in
// "chat:hello". Frames without sep have no key.
func Prefix(sep string) Extractor {
	return func(msg []byte) (string, bool) {
		key, _, found := strings.Cut(string(msg), sep)
		if !found || key == "" {
			return "", false
		}
		return key, true
	}
}
