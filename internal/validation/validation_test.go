package validation

import (
	"strings"
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"req_a1b2c3d4e5f60718293a4b5c", true},
		{"dsp_000000000000000000000000", true},
		{"6fa1c0de-4b5c-4d6e-8f90-123456789abc", true},
		{"user-42", true},

		// Invalid cases
		{"", false},
		{"has spaces", false},
		{"semi;colon", false},
		{strings.Repeat("a", 65), false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Valid input
	errors := Validate(
		Required("userId", "usr_1"),
		ValidID("userId", "usr_1"),
		MinLength("description", "a perfectly reasonable description of a dispute that is long enough", 50),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Missing required field
	errors = Validate(Required("userId", "  "))
	if len(errors) != 1 || errors[0].Field != "userId" {
		t.Errorf("Expected userId required error, got %v", errors)
	}

	// Short description
	errors = Validate(MinLength("description", "too short", 50))
	if len(errors) != 1 {
		t.Errorf("Expected one error, got %v", errors)
	}

	// Score bounds
	errors = Validate(ScoreInRange("trustScore", 120, 0, 100))
	if len(errors) != 1 {
		t.Errorf("Expected out-of-range error, got %v", errors)
	}
	errors = Validate(ScoreInRange("trustScore", 85, 0, 100))
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}
}
