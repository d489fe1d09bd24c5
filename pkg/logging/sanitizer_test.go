package logging

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeConnectionString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		hidden   string
	}{
		{"key value password", "host=db user=ekaya password=s3cret dbname=review", "password=" + RedactedText, "s3cret"},
		{"url credentials", "postgres://ekaya:s3cret@db:5432/review", "://" + RedactedText + "@" + RedactedText, "s3cret"},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeConnectionString(tt.input)
			assert.Contains(t, got, tt.contains)
			if tt.hidden != "" {
				assert.NotContains(t, got, tt.hidden)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))

	err := errors.New(`post "https://hooks.example.com/x?token=abcdefghijklmnop": Bearer aaa.bbb.ccc rejected`)
	got := SanitizeError(err)
	assert.NotContains(t, got, "abcdefghijklmnop")
	assert.NotContains(t, got, "aaa.bbb.ccc")
	assert.Contains(t, got, "rejected")
}

func TestSanitizeError_Truncates(t *testing.T) {
	got := SanitizeError(errors.New(strings.Repeat("x", MaxErrorLength+50)))
	assert.Len(t, got, MaxErrorLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abc...", TruncateString("abcdef", 3))
}
