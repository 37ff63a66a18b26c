package kv

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePartitionName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"simple", "rules", false},
		{"with underscores", "security_policy_tree", false},
		{"empty", "", true},
		{"max length", strings.Repeat("a", MaxPartitionNameLen), false},
		{"too long", strings.Repeat("a", MaxPartitionNameLen+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePartitionName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePartitionName(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("error %v does not wrap ErrStoreUnavailable", err)
			}
		})
	}
}
