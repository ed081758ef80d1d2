// Package memory is the in-process token engine. All queue, patient and
// counter state lives here and every command runs as one critical section.
package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/seed"
	"ddrc/queue-service/internal/store"

	"github.com/google/uuid"
)

// Catalog is the subset of reference data the engine resolves against.
type Catalog interface {
	Department(id string) (models.Department, bool)
	Test(id string) (models.Test, bool)
	Departments() []models.Department
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithEventSink(sink store.EventSink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

type Store struct {
	mu       sync.Mutex
	catalog  Catalog
	initial  seed.State
	sink     store.EventSink
	now      func() time.Time
	counter  int64
	nextID   int64
	patients []models.Patient
	byToken  map[models.Token]int
	queues   map[string][]models.Token
	done     map[models.Token]bool
	journals map[models.Token][]store.TokenEvent
}

var _ store.QueueStore = (*Store)(nil)

func NewStore(catalog Catalog, state seed.State, opts ...Option) (*Store, error) {
	s := &Store{
		catalog: catalog,
		initial: state.Clone(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(s.initial.Clone()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(state seed.State) error {
	byToken := make(map[models.Token]int, len(state.Patients))
	patients := make([]models.Patient, 0, len(state.Patients))
	done := make(map[models.Token]bool)
	var maxID int64
	for _, raw := range state.Patients {
		p, err := models.NewPatient(raw)
		if err != nil {
			return fmt.Errorf("%w: patient %d: %v", store.ErrInvalidSeed, raw.ID, err)
		}
		if _, dup := byToken[p.Token]; dup {
			return fmt.Errorf("%w: duplicate patient token %s", store.ErrInvalidSeed, p.Token)
		}
		byToken[p.Token] = len(patients)
		patients = append(patients, p)
		if p.Completed {
			done[p.Token] = true
		}
		if p.ID > maxID {
			maxID = p.ID
		}
	}

	queues := make(map[string][]models.Token, len(state.Queues))
	seen := make(map[models.Token]string)
	for deptID, tokens := range state.Queues {
		if _, ok := s.catalog.Department(deptID); !ok {
			return fmt.Errorf("%w: queue for unknown department %s", store.ErrInvalidSeed, deptID)
		}
		for _, tok := range tokens {
			if _, ok := tok.Number(); !ok {
				return fmt.Errorf("%w: %s in %s", store.ErrInvalidSeed, tok, deptID)
			}
			if other, dup := seen[tok]; dup {
				return fmt.Errorf("%w: token %s queued in %s and %s", store.ErrInvalidSeed, tok, other, deptID)
			}
			seen[tok] = deptID
		}
		queues[deptID] = append([]models.Token{}, tokens...)
	}
	for _, d := range s.catalog.Departments() {
		if _, ok := queues[d.ID]; !ok {
			queues[d.ID] = []models.Token{}
		}
	}

	s.counter = state.TokenCounter
	s.nextID = maxID + 1
	s.patients = patients
	s.byToken = byToken
	s.queues = queues
	s.done = done
	s.journals = make(map[models.Token][]store.TokenEvent)
	return nil
}

func (s *Store) GenerateToken() models.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateLocked()
}

func (s *Store) generateLocked() models.Token {
	tok := models.FormatToken(s.counter)
	s.counter++
	return tok
}

func (s *Store) Enqueue(deptID string, token models.Token) error {
	s.mu.Lock()
	event, err := s.enqueueLocked(deptID, token)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(event)
	return nil
}

func (s *Store) enqueueLocked(deptID string, token models.Token) (store.Event, error) {
	if _, ok := token.Number(); !ok {
		return store.Event{}, fmt.Errorf("%w: %v", store.ErrInvalidOperation, models.ErrInvalidToken)
	}
	queue, ok := s.queueLocked(deptID)
	if !ok {
		return store.Event{}, store.ErrDepartmentNotFound
	}
	if _, queued := s.locateLocked(token); queued {
		return store.Event{}, store.ErrTokenQueued
	}
	if err := s.guardLocked("enqueue", token); err != nil {
		return store.Event{}, err
	}
	s.queues[deptID] = append(queue, token)
	return s.recordLocked(token, store.EventTokenEnqueued, deptID, store.TokenPayload{
		Status:       models.TokenQueued,
		DepartmentID: deptID,
	}), nil
}

func (s *Store) Transfer(token models.Token, fromDept, toDept string) error {
	s.mu.Lock()
	event, err := s.transferLocked(token, fromDept, toDept)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(event)
	return nil
}

func (s *Store) transferLocked(token models.Token, fromDept, toDept string) (store.Event, error) {
	from, ok := s.queueLocked(fromDept)
	if !ok {
		return store.Event{}, fmt.Errorf("from %w", store.ErrDepartmentNotFound)
	}
	to, ok := s.queueLocked(toDept)
	if !ok {
		return store.Event{}, fmt.Errorf("to %w", store.ErrDepartmentNotFound)
	}
	if fromDept == toDept {
		return store.Event{}, store.ErrSameDepartment
	}
	if err := s.guardLocked("transfer", token); err != nil {
		return store.Event{}, err
	}
	idx := indexOf(from, token)
	if idx < 0 {
		return store.Event{}, store.ErrTokenNotFound
	}
	s.queues[fromDept] = remove(from, idx)
	s.queues[toDept] = append(to, token)
	return s.recordLocked(token, store.EventTokenTransferred, toDept, store.TokenPayload{
		Status:     models.TokenQueued,
		FromDeptID: fromDept,
		ToDeptID:   toDept,
	}), nil
}

// Move transfers token out of whichever queue currently holds it and returns
// that source department.
func (s *Store) Move(token models.Token, toDept string) (string, error) {
	s.mu.Lock()
	fromDept, ok := s.locateLocked(token)
	if !ok {
		err := s.guardLocked("transfer", token)
		s.mu.Unlock()
		return "", err
	}
	event, err := s.transferLocked(token, fromDept, toDept)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	s.publish(event)
	return fromDept, nil
}

func (s *Store) Reorder(deptID string, from, to int) error {
	s.mu.Lock()
	queue, ok := s.queueLocked(deptID)
	if !ok {
		s.mu.Unlock()
		return store.ErrDepartmentNotFound
	}
	if from < 0 || from >= len(queue) || to < 0 || to >= len(queue) {
		s.mu.Unlock()
		return store.ErrInvalidIndex
	}
	if from == to {
		s.mu.Unlock()
		return nil
	}
	token := queue[from]
	if err := s.guardLocked("reorder", token); err != nil {
		s.mu.Unlock()
		return err
	}
	queue = remove(queue, from)
	queue = insert(queue, to, token)
	s.queues[deptID] = queue
	event := s.recordLocked(token, store.EventTokenReordered, deptID, store.TokenPayload{
		DepartmentID: deptID,
		FromIndex:    &from,
		ToIndex:      &to,
	})
	s.mu.Unlock()
	s.publish(event)
	return nil
}

// Call records that staff at deptID called token to the counter. The queue is
// left untouched.
func (s *Store) Call(token models.Token, deptID string) error {
	s.mu.Lock()
	queue, ok := s.queueLocked(deptID)
	if !ok {
		s.mu.Unlock()
		return store.ErrDepartmentNotFound
	}
	if err := s.guardLocked("call", token); err != nil {
		s.mu.Unlock()
		return err
	}
	if indexOf(queue, token) < 0 {
		s.mu.Unlock()
		return store.ErrTokenNotFound
	}
	event := s.recordLocked(token, store.EventTokenCalled, deptID, store.TokenPayload{DepartmentID: deptID})
	s.mu.Unlock()
	s.publish(event)
	return nil
}

// Complete is the terminal transition: the token leaves deptID's queue and the
// patient is marked completed. A completed token can not be queued again.
func (s *Store) Complete(token models.Token, deptID string) (models.Patient, error) {
	s.mu.Lock()
	queue, ok := s.queueLocked(deptID)
	if !ok {
		s.mu.Unlock()
		return models.Patient{}, store.ErrDepartmentNotFound
	}
	if err := s.guardLocked("complete", token); err != nil {
		s.mu.Unlock()
		return models.Patient{}, err
	}
	idx := indexOf(queue, token)
	if idx < 0 {
		s.mu.Unlock()
		return models.Patient{}, store.ErrTokenNotFound
	}
	s.queues[deptID] = remove(queue, idx)
	s.done[token] = true
	var patient models.Patient
	if i, ok := s.byToken[token]; ok {
		s.patients[i].Status = models.PatientCompleted
		s.patients[i].Completed = true
		patient = s.patients[i].Clone()
	}
	event := s.recordLocked(token, store.EventTokenCompleted, deptID, store.TokenPayload{
		Status:       models.TokenDone,
		DepartmentID: deptID,
		PatientState: models.PatientCompleted,
	})
	s.mu.Unlock()
	s.publish(event)
	return patient, nil
}

// RegisterPatient commits a confirmed registration: it issues the next token,
// stores the patient and queues the token at the department of the first
// test. The returned department id is empty when no department resolves.
// Nothing changes when the record is invalid.
func (s *Store) RegisterPatient(input store.PatientInput) (models.Patient, string, error) {
	s.mu.Lock()
	patient, err := models.NewPatient(models.Patient{
		ID:          s.nextID,
		Name:        input.Name,
		Mobile:      input.Mobile,
		Age:         input.Age,
		Token:       models.FormatToken(s.counter),
		Tests:       input.Tests,
		Status:      models.PatientWaiting,
		Tags:        input.Tags,
		BranchID:    input.BranchID,
		VisitDate:   input.VisitDate,
		TotalAmount: input.TotalAmount,
		PaymentMode: input.PaymentMode,
	})
	if err != nil {
		s.mu.Unlock()
		return models.Patient{}, "", err
	}
	if patient.VisitDate == "" {
		patient.VisitDate = s.now().Format("2006-01-02")
	}
	s.generateLocked()
	s.nextID++
	s.byToken[patient.Token] = len(s.patients)
	s.patients = append(s.patients, patient)

	events := []store.Event{s.recordLocked(patient.Token, store.EventTokenCreated, "", store.TokenPayload{
		Token:       patient.Token,
		PatientID:   patient.ID,
		PatientName: patient.Name,
		BranchID:    patient.BranchID,
		Status:      models.TokenCreated,
		Tags:        patient.Tags,
	})}

	deptID := ""
	if dept, ok := s.departmentForTestLocked(patient.Tests[0]); ok {
		if event, err := s.enqueueLocked(dept.ID, patient.Token); err == nil {
			deptID = dept.ID
			events = append(events, event)
		}
	}
	s.mu.Unlock()
	s.publish(events...)
	return patient.Clone(), deptID, nil
}

func (s *Store) SetTags(token models.Token, tags []string) (models.Patient, error) {
	s.mu.Lock()
	i, ok := s.byToken[token]
	if !ok {
		s.mu.Unlock()
		return models.Patient{}, store.ErrPatientNotFound
	}
	if err := s.guardLocked("tag", token); err != nil {
		s.mu.Unlock()
		return models.Patient{}, err
	}
	s.patients[i].Tags = models.NormalizeTags(tags)
	patient := s.patients[i].Clone()
	deptID, _ := s.locateLocked(token)
	event := s.recordLocked(token, store.EventTokenTagged, deptID, store.TokenPayload{Tags: append([]string{}, patient.Tags...)})
	s.mu.Unlock()
	s.publish(event)
	return patient, nil
}

// Reset restores the state the store was created with and drops every token
// journal.
func (s *Store) Reset() error {
	s.mu.Lock()
	if err := s.load(s.initial.Clone()); err != nil {
		s.mu.Unlock()
		return err
	}
	event := store.Event{
		EventID:   uuid.NewString(),
		Type:      store.EventStateReset,
		Payload:   json.RawMessage(fmt.Sprintf(`{"token_counter":%d}`, s.counter)),
		CreatedAt: s.now().UTC(),
	}
	s.mu.Unlock()
	s.publish(event)
	return nil
}

func (s *Store) PatientByToken(token models.Token) (models.Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byToken[token]
	if !ok {
		return models.Patient{}, false
	}
	return s.patients[i].Clone(), true
}

func (s *Store) DepartmentForTest(testID string) (models.Department, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.departmentForTestLocked(testID)
}

func (s *Store) departmentForTestLocked(testID string) (models.Department, bool) {
	test, ok := s.catalog.Test(testID)
	if !ok {
		return models.Department{}, false
	}
	dept, ok := s.catalog.Department(test.DepartmentID)
	if !ok {
		return models.Department{}, false
	}
	return dept, true
}

func (s *Store) LocateToken(token models.Token) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locateLocked(token)
}

func (s *Store) TokenStatus(token models.Token) models.TokenStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(token)
}

func (s *Store) Queue(deptID string) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.queueLocked(deptID)
	if !ok {
		return nil, store.ErrDepartmentNotFound
	}
	return append([]models.Token{}, queue...), nil
}

func (s *Store) Queues() map[string][]models.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.catalog.Departments() {
		s.queueLocked(d.ID)
	}
	out := make(map[string][]models.Token, len(s.queues))
	for deptID, queue := range s.queues {
		out[deptID] = append([]models.Token{}, queue...)
	}
	return out
}

// Patients returns every patient ordered by id.
func (s *Store) Patients() []models.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Counter() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Stats counts patients of branchID, or of every branch when branchID is
// empty.
func (s *Store) Stats(branchID string) store.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := store.Stats{TotalVisits: s.counter - store.VisitBase}
	if stats.TotalVisits < 0 {
		stats.TotalVisits = 0
	}
	for _, p := range s.patients {
		if branchID != "" && p.BranchID != branchID {
			continue
		}
		if p.Completed {
			stats.Completed++
		} else {
			stats.Active++
		}
	}
	return stats
}

func (s *Store) Events(token models.Token) []store.TokenEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.TokenEvent(nil), s.journals[token]...)
}

func (s *Store) VerifyJournal(token models.Token) error {
	return store.VerifyTokenEvents(s.Events(token))
}

// queueLocked returns the queue of deptID, creating an empty one for catalog
// departments added after start.
func (s *Store) queueLocked(deptID string) ([]models.Token, bool) {
	if queue, ok := s.queues[deptID]; ok {
		return queue, true
	}
	if _, ok := s.catalog.Department(deptID); !ok {
		return nil, false
	}
	s.queues[deptID] = []models.Token{}
	return s.queues[deptID], true
}

func (s *Store) locateLocked(token models.Token) (string, bool) {
	for deptID, queue := range s.queues {
		if indexOf(queue, token) >= 0 {
			return deptID, true
		}
	}
	return "", false
}

// guardLocked checks action against the token's current status. A token that
// was never queued is reported as not found; a completed one as invalid state.
func (s *Store) guardLocked(action string, token models.Token) error {
	status := s.statusLocked(token)
	if store.ValidTransition(action, status) {
		return nil
	}
	if status == models.TokenCreated {
		return store.ErrTokenNotFound
	}
	return store.ErrInvalidState
}

func (s *Store) statusLocked(token models.Token) models.TokenStatus {
	if _, ok := s.locateLocked(token); ok {
		return models.TokenQueued
	}
	if s.done[token] {
		return models.TokenDone
	}
	return models.TokenCreated
}

func (s *Store) recordLocked(token models.Token, eventType, deptID string, payload store.TokenPayload) store.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	branchID := payload.BranchID
	if i, ok := s.byToken[token]; ok && branchID == "" {
		branchID = s.patients[i].BranchID
	}
	createdAt := s.now().UTC()
	entry := store.NextTokenEvent(s.journals[token], token, eventType, raw, createdAt)
	s.journals[token] = append(s.journals[token], entry)
	return store.Event{
		EventID:      uuid.NewString(),
		Type:         eventType,
		Token:        token,
		DepartmentID: deptID,
		BranchID:     branchID,
		Payload:      raw,
		CreatedAt:    createdAt,
		Seq:          entry.Seq,
		PrevHash:     entry.PrevHash,
		Hash:         entry.Hash,
	}
}

func (s *Store) publish(events ...store.Event) {
	if s.sink == nil {
		return
	}
	for _, event := range events {
		s.sink.Publish(event)
	}
}

func indexOf(queue []models.Token, token models.Token) int {
	for i, t := range queue {
		if t == token {
			return i
		}
	}
	return -1
}

func remove(queue []models.Token, idx int) []models.Token {
	out := make([]models.Token, 0, len(queue)-1)
	out = append(out, queue[:idx]...)
	return append(out, queue[idx+1:]...)
}

func insert(queue []models.Token, idx int, token models.Token) []models.Token {
	out := make([]models.Token, 0, len(queue)+1)
	out = append(out, queue[:idx]...)
	out = append(out, token)
	return append(out, queue[idx:]...)
}
