// Package registration stages patient intake and commits it to the token
// engine once payment is settled at the desk or confirmed online.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrNotStaged          = fmt.Errorf("registration %w", store.ErrNotFound)
	ErrPaymentPending     = errors.New("online payment pending confirmation")
	ErrNotAwaitingPayment = fmt.Errorf("%w: registration is not awaiting online payment", store.ErrInvalidOperation)
	ErrInvalidPaymentMode = fmt.Errorf("%w: unknown payment mode", store.ErrInvalidOperation)
)

// ValidationError reports bad intake input against a single field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type Engine interface {
	RegisterPatient(input store.PatientInput) (models.Patient, string, error)
}

type Catalog interface {
	Test(id string) (models.Test, bool)
	Branch(id string) (models.Branch, bool)
}

type Input struct {
	Name     string   `json:"name"`
	Mobile   string   `json:"mobile"`
	Age      string   `json:"age"`
	Tests    []string `json:"tests"`
	BranchID string   `json:"branch_id"`
	Tags     []string `json:"tags"`
}

type Quote struct {
	Name   string        `json:"name"`
	Mobile string        `json:"mobile"`
	Age    int           `json:"age"`
	Tests  []models.Test `json:"tests"`
	Total  int           `json:"total"`
}

type Pending struct {
	ID              string    `json:"id"`
	Input           Input     `json:"input"`
	Quote           Quote     `json:"quote"`
	PaymentMode     string    `json:"payment_mode,omitempty"`
	AwaitingPayment bool      `json:"awaiting_payment"`
	StagedAt        time.Time `json:"staged_at"`
}

type Receipt struct {
	Patient      models.Patient `json:"patient"`
	DepartmentID string         `json:"department_id,omitempty"`
	Total        int            `json:"total"`
}

type Flow struct {
	mu      sync.Mutex
	engine  Engine
	catalog Catalog
	pending map[string]*Pending
	now     func() time.Time
}

func New(engine Engine, catalog Catalog) *Flow {
	return &Flow{
		engine:  engine,
		catalog: catalog,
		pending: make(map[string]*Pending),
		now:     time.Now,
	}
}

// Validate checks intake input and prices the selected tests.
func (f *Flow) Validate(in Input) (Quote, error) {
	name := strings.TrimSpace(in.Name)
	mobile := strings.TrimSpace(in.Mobile)
	rawAge := strings.TrimSpace(in.Age)
	switch {
	case name == "":
		return Quote{}, &ValidationError{Field: "name", Message: "name is required"}
	case mobile == "":
		return Quote{}, &ValidationError{Field: "mobile", Message: "mobile is required"}
	case rawAge == "":
		return Quote{}, &ValidationError{Field: "age", Message: "age is required"}
	}
	if !models.IsValidMobile(mobile) {
		return Quote{}, &ValidationError{Field: "mobile", Message: fmt.Sprintf("mobile must be %d digits", models.MobileLength)}
	}
	age, err := strconv.Atoi(rawAge)
	if err != nil || age <= 0 {
		return Quote{}, &ValidationError{Field: "age", Message: "age must be a positive number"}
	}
	if len(in.Tests) == 0 {
		return Quote{}, &ValidationError{Field: "tests", Message: "select at least one test"}
	}
	if in.BranchID != "" {
		if _, ok := f.catalog.Branch(in.BranchID); !ok {
			return Quote{}, &ValidationError{Field: "branch_id", Message: "unknown branch " + in.BranchID, Err: store.ErrBranchNotFound}
		}
	}

	quote := Quote{Name: name, Mobile: mobile, Age: age, Tests: make([]models.Test, 0, len(in.Tests))}
	for _, id := range in.Tests {
		test, ok := f.catalog.Test(id)
		if !ok {
			return Quote{}, &ValidationError{Field: "tests", Message: "unknown test " + id, Err: store.ErrTestNotFound}
		}
		quote.Tests = append(quote.Tests, test)
		quote.Total += test.Price
	}
	return quote, nil
}

// Stage validates in and holds it until it is confirmed or reset. Nothing is
// committed to the engine.
func (f *Flow) Stage(in Input) (Pending, error) {
	quote, err := f.Validate(in)
	if err != nil {
		return Pending{}, err
	}
	p := &Pending{
		ID:       uuid.NewString(),
		Input:    in,
		Quote:    quote,
		StagedAt: f.now().UTC(),
	}
	p.Input.Tests = append([]string(nil), in.Tests...)

	f.mu.Lock()
	f.pending[p.ID] = p
	f.mu.Unlock()
	return *p, nil
}

func (f *Flow) Pending(id string) (Pending, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pending[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// Confirm settles a staged registration. Desk payment commits at once; online
// payment parks the registration until ConfirmOnlinePayment is called.
func (f *Flow) Confirm(ctx context.Context, id, mode string) (Receipt, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pending[id]
	if !ok {
		return Receipt{}, ErrNotStaged
	}
	switch mode {
	case models.PaymentDesk:
		p.PaymentMode = mode
		p.AwaitingPayment = false
		return f.commitLocked(ctx, p)
	case models.PaymentOnline:
		p.PaymentMode = mode
		p.AwaitingPayment = true
		return Receipt{}, ErrPaymentPending
	default:
		return Receipt{}, ErrInvalidPaymentMode
	}
}

func (f *Flow) ConfirmOnlinePayment(ctx context.Context, id string) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pending[id]
	if !ok {
		return Receipt{}, ErrNotStaged
	}
	if !p.AwaitingPayment {
		return Receipt{}, ErrNotAwaitingPayment
	}
	return f.commitLocked(ctx, p)
}

// Reset discards a staged registration.
func (f *Flow) Reset(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[id]; !ok {
		return ErrNotStaged
	}
	delete(f.pending, id)
	return nil
}

func (f *Flow) commitLocked(ctx context.Context, p *Pending) (Receipt, error) {
	_, span := otel.Tracer("ddrc/registration").Start(ctx, "registration.commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("registration.id", p.ID),
		attribute.String("registration.payment_mode", p.PaymentMode),
		attribute.Int("registration.total", p.Quote.Total),
	)

	testIDs := make([]string, 0, len(p.Quote.Tests))
	for _, t := range p.Quote.Tests {
		testIDs = append(testIDs, t.ID)
	}
	patient, deptID, err := f.engine.RegisterPatient(store.PatientInput{
		Name:        p.Quote.Name,
		Mobile:      p.Quote.Mobile,
		Age:         p.Quote.Age,
		Tests:       testIDs,
		Tags:        p.Input.Tags,
		BranchID:    p.Input.BranchID,
		VisitDate:   f.now().Format("2006-01-02"),
		TotalAmount: p.Quote.Total,
		PaymentMode: p.PaymentMode,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, fmt.Errorf("commit registration: %w", err)
	}
	delete(f.pending, p.ID)
	span.SetAttributes(attribute.String("token", patient.Token.String()), attribute.String("department.id", deptID))
	return Receipt{Patient: patient, DepartmentID: deptID, Total: p.Quote.Total}, nil
}
