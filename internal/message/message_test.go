package message

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		input          string
		maxLength      int
		hasAttachments bool
		want           string
		wantErr        error
	}{
		{"valid simple", "hello world", 2000, false, "hello world", nil},
		{"trims whitespace", "  hello  ", 2000, false, "hello", nil},
		{"exact max length", strings.Repeat("a", 100), 100, false, strings.Repeat("a", 100), nil},
		{"multibyte at limit", strings.Repeat("日", 50), 50, false, strings.Repeat("日", 50), nil},
		{"empty after trim", "   ", 2000, false, "", ErrEmptyContent},
		{"empty string", "", 2000, false, "", ErrEmptyContent},
		{"empty with attachment allowed", "", 2000, true, "", nil},
		{"blank with attachment allowed", "   ", 2000, true, "", nil},
		{"exceeds max length", strings.Repeat("a", 101), 100, false, "", ErrContentTooLong},
		{"multibyte exceeds max", strings.Repeat("日", 51), 50, false, "", ErrContentTooLong},
		{"exceeds max length even with attachment", strings.Repeat("a", 101), 100, true, "", ErrContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateContent(tt.input, tt.maxLength, tt.hasAttachments)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateContent(%q, %d, %v) error = %v, wantErr %v", tt.input, tt.maxLength, tt.hasAttachments, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ValidateContent(%q, %d, %v) = %q, want %q", tt.input, tt.maxLength, tt.hasAttachments, got, tt.want)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input int
		want  int
	}{
		{"zero defaults", 0, DefaultLimit},
		{"negative defaults", -1, DefaultLimit},
		{"within range", 25, 25},
		{"at minimum boundary", 1, 1},
		{"at maximum boundary", MaxLimit, MaxLimit},
		{"exceeds maximum", MaxLimit + 1, MaxLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ClampLimit(tt.input); got != tt.want {
				t.Errorf("ClampLimit(%d) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
