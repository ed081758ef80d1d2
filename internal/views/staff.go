package views

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"

	"github.com/google/uuid"
)

const (
	LabelNext    = "Next"
	LabelWaiting = "Waiting"
)

var (
	ErrSessionNotFound = fmt.Errorf("staff session %w", store.ErrNotFound)
	ErrNoDepartment    = fmt.Errorf("%w: no department for staff session", store.ErrInvalidOperation)
	ErrNothingSelected = fmt.Errorf("%w: no token selected", store.ErrInvalidOperation)
)

type Panel struct {
	DepartmentID string         `json:"department_id"`
	Department   string         `json:"department"`
	Selected     models.Token   `json:"selected,omitempty"`
	Entries      []PanelEntry   `json:"entries"`
	Suggested    *SuggestedDept `json:"suggested,omitempty"`
}

type PanelEntry struct {
	Position int          `json:"position"`
	Token    models.Token `json:"token"`
	Label    string       `json:"label"`
	Name     string       `json:"name"`
	Tags     []string     `json:"tags"`
	Selected bool         `json:"selected"`
}

type SuggestedDept struct {
	DepartmentID string `json:"department_id"`
	Department   string `json:"department"`
}

// StaffPanel renders one department queue for the staff screen. When selected
// is empty or no longer queued the head of the queue is selected.
func StaffPanel(q QueueReader, depts Departments, deptID string, selected models.Token) (Panel, error) {
	dept, ok := depts.Department(deptID)
	if !ok {
		return Panel{}, store.ErrDepartmentNotFound
	}
	queue, err := q.Queue(deptID)
	if err != nil {
		return Panel{}, err
	}
	if !contains(queue, selected) {
		selected = ""
		if len(queue) > 0 {
			selected = queue[0]
		}
	}
	panel := Panel{
		DepartmentID: dept.ID,
		Department:   dept.Name,
		Selected:     selected,
		Entries:      make([]PanelEntry, 0, len(queue)),
	}
	for i, tok := range queue {
		c := card(q, tok)
		label := LabelWaiting
		if i == 0 {
			label = LabelNext
		}
		panel.Entries = append(panel.Entries, PanelEntry{
			Position: i,
			Token:    tok,
			Label:    label,
			Name:     c.Name,
			Tags:     c.Tags,
			Selected: tok == selected,
		})
	}
	if next, ok := SuggestNextDepartment(depts.Departments(), deptID); ok {
		panel.Suggested = &SuggestedDept{DepartmentID: next.ID, Department: next.Name}
	}
	return panel, nil
}

type StaffEngine interface {
	QueueReader
	Call(token models.Token, deptID string) error
	Transfer(token models.Token, fromDept, toDept string) error
}

type StaffDirectory interface {
	Departments
	User(id string) (models.User, bool)
}

type Session struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id,omitempty"`
	DepartmentID string       `json:"department_id"`
	Selected     models.Token `json:"selected,omitempty"`
	OpenedAt     time.Time    `json:"opened_at"`
}

// Sessions tracks the token each staff screen is serving. Selections are
// screen state only and never change the queues.
type Sessions struct {
	mu       sync.Mutex
	engine   StaffEngine
	dir      StaffDirectory
	sessions map[string]*Session
	now      func() time.Time
}

func NewSessions(engine StaffEngine, dir StaffDirectory) *Sessions {
	return &Sessions{
		engine:   engine,
		dir:      dir,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Open starts a session for userID at deptID. When deptID is empty the
// department is taken from the user's role label.
func (s *Sessions) Open(userID, deptID string) (Session, error) {
	if deptID == "" {
		user, ok := s.dir.User(userID)
		if !ok {
			return Session{}, store.ErrUserNotFound
		}
		deptID = DepartmentForRole(s.dir.Departments(), user.RoleLabel)
		if deptID == "" {
			return Session{}, ErrNoDepartment
		}
	}
	if _, ok := s.dir.Department(deptID); !ok {
		return Session{}, store.ErrDepartmentNotFound
	}
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		DepartmentID: deptID,
		OpenedAt:     s.now().UTC(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return *sess, nil
}

func (s *Sessions) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

func (s *Sessions) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Sessions) Panel(id string) (Panel, error) {
	sess, err := s.Get(id)
	if err != nil {
		return Panel{}, err
	}
	return StaffPanel(s.engine, s.dir, sess.DepartmentID, sess.Selected)
}

func (s *Sessions) Select(id string, token models.Token) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	queue, err := s.engine.Queue(sess.DepartmentID)
	if err != nil {
		return Session{}, err
	}
	if !contains(queue, token) {
		return Session{}, store.ErrTokenNotFound
	}
	sess.Selected = token
	return *sess, nil
}

func (s *Sessions) Clear(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	sess.Selected = ""
	return *sess, nil
}

// Call announces the selected token, or the head of the queue when nothing
// is selected, and returns it.
func (s *Sessions) Call(id string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", ErrSessionNotFound
	}
	token, err := s.currentLocked(sess)
	if err != nil {
		return "", err
	}
	if err := s.engine.Call(token, sess.DepartmentID); err != nil {
		return "", err
	}
	sess.Selected = token
	return token, nil
}

// AssignNext sends the selected token to toDept and clears the selection.
func (s *Sessions) AssignNext(id, toDept string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", ErrSessionNotFound
	}
	token, err := s.currentLocked(sess)
	if err != nil {
		return "", err
	}
	if err := s.engine.Transfer(token, sess.DepartmentID, toDept); err != nil {
		return "", err
	}
	sess.Selected = ""
	return token, nil
}

func (s *Sessions) currentLocked(sess *Session) (models.Token, error) {
	queue, err := s.engine.Queue(sess.DepartmentID)
	if err != nil {
		return "", err
	}
	if sess.Selected != "" && contains(queue, sess.Selected) {
		return sess.Selected, nil
	}
	if len(queue) == 0 {
		return "", ErrNothingSelected
	}
	return queue[0], nil
}

// DepartmentForRole maps a staff role label such as "Staff - Radiology" to
// the department whose name starts with the same word.
func DepartmentForRole(depts []models.Department, roleLabel string) string {
	label := strings.ToLower(roleLabel)
	for _, d := range depts {
		fields := strings.Fields(d.Name)
		if len(fields) == 0 {
			continue
		}
		if strings.Contains(label, strings.ToLower(fields[0])) {
			return d.ID
		}
	}
	return ""
}

func contains(queue []models.Token, token models.Token) bool {
	if token == "" {
		return false
	}
	for _, t := range queue {
		if t == token {
			return true
		}
	}
	return false
}
