package validate

import (
	"strings"
	"testing"
)

func TestEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantErr string
	}{
		{in: "test@example.com"},
		{in: "  first.last+tag@sub.example.co.kr "},
		{in: "", wantErr: "enter your email"},
		{in: "a@b", wantErr: "too short"},
		{in: "test@@example.com", wantErr: "@ symbol"},
		{in: "test.example.com", wantErr: "@ symbol"},
		{in: "test@example", wantErr: "valid email"},
		{in: "@example.com", wantErr: "valid email"},
		{in: "te st@example.com", wantErr: "valid email"},
		{in: strings.Repeat("a", 250) + "@example.com", wantErr: "too long"},
	}
	for _, tt := range tests {
		got, err := Email(tt.in)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("Email(%q) error = %v", tt.in, err)
			} else if got != strings.TrimSpace(tt.in) {
				t.Errorf("Email(%q) = %q", tt.in, got)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("Email(%q) error = %v, want containing %q", tt.in, err, tt.wantErr)
		}
		if !IsValidationError(err) {
			t.Errorf("Email(%q) error is not a validation error", tt.in)
		}
	}
}

func TestVerifyCode(t *testing.T) {
	t.Parallel()

	for in, ok := range map[string]bool{
		"123456":   true,
		" 000000 ": true,
		"12345":    false,
		"1234567":  false,
		"12a456":   false,
		"":         false,
	} {
		_, err := VerifyCode(in)
		if (err == nil) != ok {
			t.Errorf("VerifyCode(%q) error = %v, want ok=%v", in, err, ok)
		}
	}
}
