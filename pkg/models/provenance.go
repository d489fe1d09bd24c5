// Package models contains domain types for the review engine.
package models

// ProvenanceSource represents who produced a change proposal.
type ProvenanceSource string

// Provenance source constants. These represent HOW a proposal was produced.
const (
	SourceInference ProvenanceSource = "inference" // Upstream classifier or extraction pipeline
	SourceMCP       ProvenanceSource = "mcp"       // Agent tooling
	SourceManual    ProvenanceSource = "manual"    // Human reviewer via UI
)

// String returns the string representation of a ProvenanceSource.
func (s ProvenanceSource) String() string {
	return string(s)
}

// IsValid returns true if the source is a valid provenance source.
func (s ProvenanceSource) IsValid() bool {
	switch s {
	case SourceInference, SourceMCP, SourceManual:
		return true
	default:
		return false
	}
}
