package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ddrc/queue-service/internal/models"
)

var ErrJournalBroken = errors.New("token journal hash mismatch")

type TokenEvent struct {
	Token     models.Token    `json:"token"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// TokenPayload is the body carried by every token event. Only the fields a
// given event changes are set.
type TokenPayload struct {
	Token        models.Token         `json:"token,omitempty"`
	PatientID    int64                `json:"patient_id,omitempty"`
	PatientName  string               `json:"patient_name,omitempty"`
	BranchID     string               `json:"branch_id,omitempty"`
	Status       models.TokenStatus   `json:"status,omitempty"`
	DepartmentID string               `json:"department_id,omitempty"`
	FromDeptID   string               `json:"from_department_id,omitempty"`
	ToDeptID     string               `json:"to_department_id,omitempty"`
	FromIndex    *int                 `json:"from_index,omitempty"`
	ToIndex      *int                 `json:"to_index,omitempty"`
	Tags         []string             `json:"tags,omitempty"`
	PatientState models.PatientStatus `json:"patient_status,omitempty"`
}

// TokenView is the state of a token rebuilt from its journal.
type TokenView struct {
	Token        models.Token
	PatientID    int64
	PatientName  string
	BranchID     string
	Status       models.TokenStatus
	DepartmentID string
	Tags         []string
	Calls        int
}

func ComputeTokenEventHash(prevHash string, token models.Token, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, token, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NextTokenEvent chains a new event onto journal.
func NextTokenEvent(journal []TokenEvent, token models.Token, eventType string, payload json.RawMessage, createdAt time.Time) TokenEvent {
	prevHash := ""
	seq := 1
	if n := len(journal); n > 0 {
		prevHash = journal[n-1].Hash
		seq = journal[n-1].Seq + 1
	}
	return TokenEvent{
		Token:     token,
		Seq:       seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeTokenEventHash(prevHash, token, eventType, payload, createdAt, seq),
	}
}

func VerifyTokenEvents(events []TokenEvent) error {
	prevHash := ""
	for i, event := range events {
		if event.Seq != i+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrJournalBroken, event.Seq, i)
		}
		if event.PrevHash != prevHash {
			return fmt.Errorf("%w: prev hash at seq %d", ErrJournalBroken, event.Seq)
		}
		want := ComputeTokenEventHash(prevHash, event.Token, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if event.Hash != want {
			return fmt.Errorf("%w: hash at seq %d", ErrJournalBroken, event.Seq)
		}
		prevHash = event.Hash
	}
	return nil
}

func RehydrateToken(events []TokenEvent) (TokenView, error) {
	var view TokenView
	for _, event := range events {
		if event.Type == EventTokenCalled {
			view.Calls++
		}
		if len(event.Payload) == 0 {
			continue
		}
		var payload TokenPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return TokenView{}, err
		}
		if payload.Token != "" {
			view.Token = payload.Token
		}
		if payload.PatientID != 0 {
			view.PatientID = payload.PatientID
		}
		if payload.PatientName != "" {
			view.PatientName = payload.PatientName
		}
		if payload.BranchID != "" {
			view.BranchID = payload.BranchID
		}
		if payload.Status != "" {
			view.Status = payload.Status
		}
		if payload.DepartmentID != "" {
			view.DepartmentID = payload.DepartmentID
		}
		if payload.ToDeptID != "" {
			view.DepartmentID = payload.ToDeptID
		}
		if payload.Tags != nil {
			view.Tags = append([]string(nil), payload.Tags...)
		}
	}
	return view, nil
}
