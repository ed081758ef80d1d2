package store

import (
	"encoding/json"
	"time"

	"ddrc/queue-service/internal/models"
)

type PatientInput struct {
	Name        string
	Mobile      string
	Age         int
	Tests       []string
	Tags        []string
	BranchID    string
	VisitDate   string
	TotalAmount int
	PaymentMode string
}

// QueueStore owns the token counter, the patient registry and the department
// queues. Every mutation goes through it so queue exclusivity and counter
// monotonicity are enforced in one place.
type QueueStore interface {
	GenerateToken() models.Token
	Enqueue(deptID string, token models.Token) error
	Transfer(token models.Token, fromDept, toDept string) error
	Move(token models.Token, toDept string) (string, error)
	Reorder(deptID string, from, to int) error
	Call(token models.Token, deptID string) error
	Complete(token models.Token, deptID string) (models.Patient, error)
	RegisterPatient(input PatientInput) (models.Patient, string, error)
	SetTags(token models.Token, tags []string) (models.Patient, error)
	Reset() error

	PatientByToken(token models.Token) (models.Patient, bool)
	DepartmentForTest(testID string) (models.Department, bool)
	LocateToken(token models.Token) (string, bool)
	TokenStatus(token models.Token) models.TokenStatus
	Queue(deptID string) ([]models.Token, error)
	Queues() map[string][]models.Token
	Patients() []models.Patient
	Counter() int64
	Stats(branchID string) Stats
	Events(token models.Token) []TokenEvent
	VerifyJournal(token models.Token) error
}

// Stats are the dashboard counters. TotalVisits counts issued tokens above the
// base counter value of 100.
type Stats struct {
	Active      int   `json:"active"`
	TotalVisits int64 `json:"total_visits"`
	Completed   int   `json:"completed"`
}

const VisitBase = 100

// EventSink receives committed events after the store lock is released.
type EventSink interface {
	Publish(event Event)
}

// Event is one committed mutation, fanned out to the outbox, metrics and the
// display feed.
type Event struct {
	EventID      string          `json:"event_id"`
	Type         string          `json:"type"`
	Token        models.Token    `json:"token,omitempty"`
	DepartmentID string          `json:"department_id,omitempty"`
	BranchID     string          `json:"branch_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	Seq          int             `json:"seq,omitempty"`
	PrevHash     string          `json:"prev_hash,omitempty"`
	Hash         string          `json:"hash,omitempty"`
}

const (
	EventTokenCreated     = "token.created"
	EventTokenEnqueued    = "token.enqueued"
	EventTokenTransferred = "token.transferred"
	EventTokenReordered   = "token.reordered"
	EventTokenCalled      = "token.called"
	EventTokenCompleted   = "token.completed"
	EventTokenTagged      = "token.tagged"
	EventStateReset       = "state.reset"
)
