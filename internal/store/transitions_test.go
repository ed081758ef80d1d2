package store

import (
	"errors"
	"testing"

	"ddrc/queue-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   models.TokenStatus
		valid  bool
	}{
		{"enqueue", models.TokenCreated, true},
		{"enqueue", models.TokenQueued, false},
		{"enqueue", models.TokenDone, false},
		{"transfer", models.TokenQueued, true},
		{"transfer", models.TokenCreated, false},
		{"transfer", models.TokenDone, false},
		{"reorder", models.TokenQueued, true},
		{"call", models.TokenQueued, true},
		{"call", models.TokenDone, false},
		{"complete", models.TokenQueued, true},
		{"complete", models.TokenDone, false},
		{"tag", models.TokenDone, true},
		{"unknown", models.TokenQueued, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestErrorCategories(t *testing.T) {
	notFound := []error{ErrDepartmentNotFound, ErrTokenNotFound, ErrTestNotFound, ErrPatientNotFound, ErrBranchNotFound}
	for _, err := range notFound {
		if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidOperation) {
			t.Fatalf("%v should only be a not-found error", err)
		}
	}
	invalid := []error{ErrInvalidIndex, ErrSameDepartment, ErrTokenQueued, ErrInvalidState, ErrInvalidEntity}
	for _, err := range invalid {
		if !errors.Is(err, ErrInvalidOperation) || errors.Is(err, ErrNotFound) {
			t.Fatalf("%v should only be an invalid-operation error", err)
		}
	}
}
