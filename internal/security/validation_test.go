package security

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckJSONDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		max     int
		wantErr error
	}{
		{name: "empty", data: "", max: 2},
		{name: "flat update", data: `{"update_id":1,"message":{"text":"hi"}}`, max: 2},
		{name: "at limit", data: `[[1]]`, max: 2},
		{name: "over limit", data: `[[[1]]]`, max: 2, wantErr: ErrJSONTooDeep},
		{name: "brackets in strings", data: `{"text":"[[[{{{ \"]]]"}`, max: 1},
		{name: "escaped backslash", data: `{"path":"C:\\"}`, max: 1},
		{name: "truncated", data: `{"a":`, max: 4, wantErr: ErrInvalidJSON},
		{name: "unterminated string", data: `{"a":"b}`, max: 4, wantErr: ErrInvalidJSON},
		{name: "unbalanced close", data: `{}}`, max: 4, wantErr: ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckJSONDepth([]byte(tt.data), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		limit   int
		wantErr error
	}{
		{name: "ok", body: `{"object":"page"}`, limit: 64},
		{name: "exactly limit", body: `{"a":1}`, limit: 7},
		{name: "too large", body: `{"text":"` + strings.Repeat("a", 100) + `"}`, limit: 32, wantErr: ErrPayloadTooLarge},
		{name: "bomb", body: strings.Repeat("[", DefaultMaxJSONDepth+1) + strings.Repeat("]", DefaultMaxJSONDepth+1), wantErr: ErrJSONTooDeep},
		{name: "default limit", body: `{}`, limit: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := ReadPayload(strings.NewReader(tt.body), tt.limit)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && string(data) != tt.body {
				t.Errorf("data = %q", data)
			}
		})
	}
}

func FuzzCheckJSONDepth(f *testing.F) {
	f.Add([]byte(`{"entry":[{"messaging":[{"message":{"text":"x"}}]}]}`))
	f.Add([]byte(`"\\\"[`))
	f.Fuzz(func(t *testing.T, data []byte) {
		_ = CheckJSONDepth(data, 8)
	})
}

func TestReadBody(t *testing.T) {
	t.Parallel()

	got, err := ReadBody(strings.NewReader(`Body={"half`), 64)
	if err != nil || string(got) != `Body={"half` {
		t.Fatalf("ReadBody = %q, %v", got, err)
	}
	if _, err := ReadBody(strings.NewReader(strings.Repeat("x", 65)), 64); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized err = %v, want ErrPayloadTooLarge", err)
	}
}
