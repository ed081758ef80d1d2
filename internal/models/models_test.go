package models

import (
	"errors"
	"testing"
)

func TestParseToken(t *testing.T) {
	cases := []struct {
		raw   string
		valid bool
		num   int64
	}{
		{"T-111", true, 111},
		{" T-7 ", true, 7},
		{"T-", false, 0},
		{"T-1a", false, 0},
		{"X-100", false, 0},
		{"", false, 0},
	}
	for _, tt := range cases {
		token, err := ParseToken(tt.raw)
		if tt.valid != (err == nil) {
			t.Fatalf("ParseToken(%q) err=%v, want valid=%v", tt.raw, err, tt.valid)
		}
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			continue
		}
		if n, _ := token.Number(); n != tt.num {
			t.Fatalf("ParseToken(%q) number=%d, want %d", tt.raw, n, tt.num)
		}
	}
	if FormatToken(402) != "T-402" {
		t.Fatalf("unexpected format %q", FormatToken(402))
	}
}

func TestNewPatient(t *testing.T) {
	base := Patient{Name: " Asha ", Mobile: "9876543210", Age: 30, Token: "T-500", Tests: []string{"tst-cbc"}, Tags: []string{"Urgent", " ", "Urgent"}}

	p, err := NewPatient(base)
	if err != nil {
		t.Fatalf("new patient: %v", err)
	}
	if p.Name != "Asha" || p.Status != PatientWaiting || p.Completed {
		t.Fatalf("unexpected patient %+v", p)
	}
	if len(p.Tags) != 1 || p.Tags[0] != "Urgent" {
		t.Fatalf("unexpected tags %v", p.Tags)
	}

	bad := []func(p *Patient){
		func(p *Patient) { p.Name = "" },
		func(p *Patient) { p.Mobile = "12345" },
		func(p *Patient) { p.Mobile = "98765x3210" },
		func(p *Patient) { p.Age = 0 },
		func(p *Patient) { p.Token = "502" },
		func(p *Patient) { p.Tests = nil },
		func(p *Patient) { p.Status = "lost" },
	}
	for i, mutate := range bad {
		candidate := base
		mutate(&candidate)
		if _, err := NewPatient(candidate); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("case %d: expected ErrInvalidRecord, got %v", i, err)
		}
	}

	done, err := NewPatient(Patient{Name: "B", Mobile: "9876543210", Age: 40, Token: "T-1", Tests: []string{"x"}, Status: PatientCompleted})
	if err != nil || !done.Completed {
		t.Fatalf("expected completed flag to follow status, got %+v err=%v", done, err)
	}
}

func TestStatusValidFor(t *testing.T) {
	if !StatusPaused.ValidFor("department") || StatusInactive.ValidFor("department") {
		t.Fatalf("department statuses misclassified")
	}
	if StatusPaused.ValidFor("user") || !StatusInactive.ValidFor("role") {
		t.Fatalf("user/role statuses misclassified")
	}
}

func TestPermissionAllows(t *testing.T) {
	p := Permission{View: true, Edit: true}
	if !p.Allows("view") || !p.Allows("edit") || p.Allows("create") || p.Allows("delete") {
		t.Fatalf("unexpected permission evaluation for %+v", p)
	}
}
