package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisibilityGrant_CanAccess(t *testing.T) {
	hcm := &VisibilityGrant{Areas: []string{"HCM"}}

	tests := []struct {
		name     string
		grant    *VisibilityGrant
		area     string
		expected bool
	}{
		{"area in grant", hcm, "HCM", true},
		{"untagged record", hcm, "", true},
		{"whitespace area is untagged", hcm, "  ", true},
		{"area outside grant", hcm, "Payroll", false},
		{"view all", FullVisibility(), "Payroll", true},
		{"fail closed grant", NoVisibility(), "HCM", false},
		{"fail closed sees untagged", NoVisibility(), "", true},
		{"nil grant", nil, "HCM", false},
		{"case sensitive", hcm, "hcm", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.grant.CanAccess(tt.area))
		})
	}
}
