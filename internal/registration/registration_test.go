package registration

import (
	"context"
	"errors"
	"testing"

	"ddrc/queue-service/internal/catalog"
	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/seed"
	"ddrc/queue-service/internal/store"
	"ddrc/queue-service/internal/store/memory"
)

type fakeEngine struct {
	registerFn func(store.PatientInput) (models.Patient, string, error)
	calls      int
}

func (f *fakeEngine) RegisterPatient(input store.PatientInput) (models.Patient, string, error) {
	f.calls++
	if f.registerFn != nil {
		return f.registerFn(input)
	}
	return models.Patient{Token: "T-1", Name: input.Name}, "", nil
}

func newFlow(t *testing.T) (*Flow, *memory.Store) {
	t.Helper()
	s, err := seed.Default()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	cat := catalog.New(s.Catalog)
	engine, err := memory.NewStore(cat, s.State)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return New(engine, cat), engine
}

func validInput() Input {
	return Input{
		Name:     "Asha",
		Mobile:   "9000000001",
		Age:      "34",
		Tests:    []string{"tst-xray-chest", "tst-cbc"},
		BranchID: "br-kochi-main",
	}
}

func TestValidate(t *testing.T) {
	flow, _ := newFlow(t)

	cases := []struct {
		name  string
		edit  func(*Input)
		field string
	}{
		{"missing name", func(in *Input) { in.Name = "  " }, "name"},
		{"missing mobile", func(in *Input) { in.Mobile = "" }, "mobile"},
		{"missing age", func(in *Input) { in.Age = "" }, "age"},
		{"short mobile", func(in *Input) { in.Mobile = "12345" }, "mobile"},
		{"letters in mobile", func(in *Input) { in.Mobile = "98765abcde" }, "mobile"},
		{"age not a number", func(in *Input) { in.Age = "ten" }, "age"},
		{"age zero", func(in *Input) { in.Age = "0" }, "age"},
		{"no tests", func(in *Input) { in.Tests = nil }, "tests"},
		{"unknown test", func(in *Input) { in.Tests = []string{"tst-missing"} }, "tests"},
		{"unknown branch", func(in *Input) { in.BranchID = "br-missing" }, "branch_id"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.edit(&in)
			_, err := flow.Validate(in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}

	quote, err := flow.Validate(validInput())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if quote.Total != 700 || quote.Age != 34 || len(quote.Tests) != 2 {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestUnknownTestIsNotFound(t *testing.T) {
	flow, _ := newFlow(t)
	in := validInput()
	in.Tests = []string{"tst-missing"}
	_, err := flow.Validate(in)
	if !errors.Is(err, store.ErrTestNotFound) {
		t.Fatalf("expected ErrTestNotFound in chain, got %v", err)
	}
}

func TestShortMobileCreatesNothing(t *testing.T) {
	flow, engine := newFlow(t)
	before := len(engine.Patients())
	in := validInput()
	in.Mobile = "12345"

	_, err := flow.Stage(in)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if engine.Counter() != 402 || len(engine.Patients()) != before {
		t.Fatalf("state changed after validation failure")
	}
}

func TestDeskConfirmCommits(t *testing.T) {
	flow, engine := newFlow(t)

	pending, err := flow.Stage(validInput())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if engine.Counter() != 402 {
		t.Fatalf("stage must not issue a token")
	}

	receipt, err := flow.Confirm(context.Background(), pending.ID, "desk")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if receipt.Patient.Token != "T-402" || receipt.Total != 700 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	dept, ok := engine.DepartmentForTest("tst-xray-chest")
	if !ok || receipt.DepartmentID != dept.ID {
		t.Fatalf("expected department %s, got %s", dept.ID, receipt.DepartmentID)
	}
	if loc, _ := engine.LocateToken("T-402"); loc != "dept-radiology" {
		t.Fatalf("token queued at %q", loc)
	}
	patient, _ := engine.PatientByToken("T-402")
	if patient.TotalAmount != 700 || patient.PaymentMode != models.PaymentDesk || patient.BranchID != "br-kochi-main" {
		t.Fatalf("unexpected patient %+v", patient)
	}
	if _, ok := flow.Pending(pending.ID); ok {
		t.Fatalf("pending should be cleared after commit")
	}
	if _, err := flow.Confirm(context.Background(), pending.ID, "desk"); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("expected ErrNotStaged on second confirm, got %v", err)
	}
}

func TestOnlineConfirmNeedsPaymentConfirmation(t *testing.T) {
	engine := &fakeEngine{}
	s, _ := seed.Default()
	flow := New(engine, catalog.New(s.Catalog))

	pending, err := flow.Stage(validInput())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := flow.ConfirmOnlinePayment(context.Background(), pending.ID); !errors.Is(err, ErrNotAwaitingPayment) {
		t.Fatalf("expected ErrNotAwaitingPayment, got %v", err)
	}
	if _, err := flow.Confirm(context.Background(), pending.ID, "online"); !errors.Is(err, ErrPaymentPending) {
		t.Fatalf("expected ErrPaymentPending, got %v", err)
	}
	if engine.calls != 0 {
		t.Fatalf("online confirm must not commit before payment")
	}
	staged, ok := flow.Pending(pending.ID)
	if !ok || !staged.AwaitingPayment || staged.PaymentMode != models.PaymentOnline {
		t.Fatalf("unexpected pending %+v", staged)
	}

	if _, err := flow.ConfirmOnlinePayment(context.Background(), pending.ID); err != nil {
		t.Fatalf("confirm online: %v", err)
	}
	if engine.calls != 1 {
		t.Fatalf("expected one commit, got %d", engine.calls)
	}
}

func TestConfirmErrors(t *testing.T) {
	failing := &fakeEngine{registerFn: func(store.PatientInput) (models.Patient, string, error) {
		return models.Patient{}, "", models.ErrInvalidRecord
	}}
	s, _ := seed.Default()
	flow := New(failing, catalog.New(s.Catalog))

	if _, err := flow.Confirm(context.Background(), "missing", "desk"); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("expected ErrNotStaged, got %v", err)
	}
	pending, err := flow.Stage(validInput())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := flow.Confirm(context.Background(), pending.ID, "card"); !errors.Is(err, ErrInvalidPaymentMode) {
		t.Fatalf("expected ErrInvalidPaymentMode, got %v", err)
	}
	if _, err := flow.Confirm(context.Background(), pending.ID, "desk"); !errors.Is(err, models.ErrInvalidRecord) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if _, ok := flow.Pending(pending.ID); !ok {
		t.Fatalf("failed commit should keep the pending registration")
	}
}

func TestResetDiscardsPending(t *testing.T) {
	flow, engine := newFlow(t)
	pending, err := flow.Stage(validInput())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := flow.Reset(pending.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := flow.Reset(pending.ID); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("expected ErrNotStaged, got %v", err)
	}
	if _, err := flow.Confirm(context.Background(), pending.ID, "desk"); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("expected ErrNotStaged after reset, got %v", err)
	}
	if engine.Counter() != 402 {
		t.Fatalf("reset must not commit")
	}
}
