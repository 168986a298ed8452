package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGovernmentBranch(t *testing.T) {
	tests := []struct {
		input   string
		want    GovernmentBranch
		wantErr bool
	}{
		{"executive", BranchExecutive, false},
		{"Legislative", BranchLegislative, false},
		{" JUDICIAL ", BranchJudicial, false},
		{"congressional", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseGovernmentBranch(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOrganizationType(t *testing.T) {
	got, err := ParseOrganizationType("Independent_Agency")
	require.NoError(t, err)
	assert.Equal(t, OrgTypeIndependentAgency, got)

	_, err = ParseOrganizationType("ministry")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid orgType")
}
