package models

import (
	"errors"
	"fmt"
	"strings"
)

type PatientStatus string

const (
	PatientWaiting   PatientStatus = "waiting"
	PatientCompleted PatientStatus = "completed"
)

func (s PatientStatus) Valid() bool {
	return s == PatientWaiting || s == PatientCompleted
}

const (
	PaymentDesk   = "desk"
	PaymentOnline = "online"
)

const MobileLength = 10

var ErrInvalidRecord = errors.New("invalid record")

type Patient struct {
	ID          int64         `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Mobile      string        `json:"mobile" yaml:"mobile"`
	Age         int           `json:"age" yaml:"age"`
	Token       Token         `json:"token" yaml:"token"`
	Tests       []string      `json:"tests" yaml:"tests"`
	Status      PatientStatus `json:"status" yaml:"status"`
	Completed   bool          `json:"completed" yaml:"completed"`
	Tags        []string      `json:"tags" yaml:"tags"`
	BranchID    string        `json:"branch_id,omitempty" yaml:"branch"`
	VisitDate   string        `json:"visit_date,omitempty" yaml:"date"`
	TotalAmount int           `json:"total_amount,omitempty" yaml:"total_amount"`
	PaymentMode string        `json:"payment_mode,omitempty" yaml:"payment_mode"`
}

// NewPatient validates a patient record and returns a normalized copy.
func NewPatient(p Patient) (Patient, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Mobile = strings.TrimSpace(p.Mobile)
	if p.Name == "" {
		return Patient{}, fmt.Errorf("%w: patient name is required", ErrInvalidRecord)
	}
	if !IsValidMobile(p.Mobile) {
		return Patient{}, fmt.Errorf("%w: mobile must be %d digits", ErrInvalidRecord, MobileLength)
	}
	if p.Age <= 0 {
		return Patient{}, fmt.Errorf("%w: age must be positive", ErrInvalidRecord)
	}
	if _, ok := p.Token.Number(); !ok {
		return Patient{}, fmt.Errorf("%w: token %q", ErrInvalidRecord, p.Token)
	}
	if len(p.Tests) == 0 {
		return Patient{}, fmt.Errorf("%w: at least one test is required", ErrInvalidRecord)
	}
	if p.Status == "" {
		p.Status = PatientWaiting
	}
	if !p.Status.Valid() {
		return Patient{}, fmt.Errorf("%w: status %q", ErrInvalidRecord, p.Status)
	}
	p.Completed = p.Status == PatientCompleted
	p.Tests = append([]string(nil), p.Tests...)
	p.Tags = NormalizeTags(p.Tags)
	return p, nil
}

func IsValidMobile(value string) bool {
	if len(value) != MobileLength {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers cannot alias registry slices.
func (p Patient) Clone() Patient {
	p.Tests = append([]string(nil), p.Tests...)
	p.Tags = append([]string{}, p.Tags...)
	return p
}

// NormalizeTags trims, drops empties and de-duplicates while keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
