package models

import "testing"

func TestProvenanceSource_IsValid(t *testing.T) {
	tests := []struct {
		source   ProvenanceSource
		expected bool
	}{
		{SourceInference, true},
		{SourceMCP, true},
		{SourceManual, true},
		{"", false},
		{"classifier", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			if got := tt.source.IsValid(); got != tt.expected {
				t.Errorf("ProvenanceSource(%q).IsValid() = %v, want %v", tt.source, got, tt.expected)
			}
		})
	}
}
