package security

import (
	"errors"
	"fmt"
	"io"
)

// Webhook payload limits.
const (
	DefaultMaxPayload   = 1 << 20
	DefaultMaxJSONDepth = 32
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrJSONTooDeep     = errors.New("JSON nesting exceeds maximum depth")
	ErrInvalidJSON     = errors.New("invalid JSON")
)

// ReadPayload reads a webhook body of at most limit bytes (DefaultMaxPayload
// when limit <= 0) and rejects JSON nested deeper than DefaultMaxJSONDepth.
// Oversized bodies are refused without being buffered in full.
func ReadPayload(r io.Reader, limit int) ([]byte, error) {
	data, err := ReadBody(r, limit)
	if err != nil {
		return nil, err
	}
	if err := CheckJSONDepth(data, DefaultMaxJSONDepth); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadBody reads at most limit bytes (DefaultMaxPayload when limit <= 0)
// without looking at the content.
func ReadBody(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limit)
	}
	return data, nil
}

// CheckJSONDepth scans data for object and array nesting deeper than max.
// It only tracks brackets and strings; full syntax errors are left to the
// decoder that runs afterwards. Empty input passes.
func CheckJSONDepth(data []byte, max int) error {
	depth := 0
	inString, escaped := false, false
	for i, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > max {
				return fmt.Errorf("%w: over %d levels at byte %d", ErrJSONTooDeep, max, i)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced %q at byte %d", ErrInvalidJSON, c, i)
			}
		}
	}
	if inString || depth != 0 {
		return fmt.Errorf("%w: unexpected end of input", ErrInvalidJSON)
	}
	return nil
}
