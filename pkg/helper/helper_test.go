package helper

import "testing"

func TestIsSlug(t *testing.T) {
	tests := []struct {
		candidate string
		ok        bool
	}{
		{"build", true},
		{"python-3-6", true},
		{"unit_tests", true},
		{"Build", false},
		{"lint check", false},
		{"tests!", false},
	}
	for _, tt := range tests {
		ok, bad := IsSlug(tt.candidate)
		if ok != tt.ok {
			t.Errorf("IsSlug(%q) = %v (offending %q), want %v", tt.candidate, ok, bad, tt.ok)
		}
	}
}
