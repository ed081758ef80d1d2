// Package views builds the read-side projections of the queue state: the
// public display board, the admin kanban, the staff panel and the dashboard.
package views

import (
	"sort"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"
)

const (
	NoServing   = "--"
	NoNext      = "-"
	NextSlots   = 2
	ClockLayout = "15:04"
)

type QueueReader interface {
	Queue(deptID string) ([]models.Token, error)
	Queues() map[string][]models.Token
	PatientByToken(token models.Token) (models.Patient, bool)
	Stats(branchID string) store.Stats
}

type Departments interface {
	Department(id string) (models.Department, bool)
	Departments() []models.Department
}

type Board struct {
	Time string     `json:"time"`
	Rows []BoardRow `json:"rows"`
}

type BoardRow struct {
	DepartmentID string   `json:"department_id"`
	Department   string   `json:"department"`
	Code         string   `json:"code"`
	Serving      string   `json:"serving"`
	Next         []string `json:"next"`
}

// PublicBoard lists every active department in display order with the token
// being served and the next two in line.
func PublicBoard(queues map[string][]models.Token, depts []models.Department, now time.Time) Board {
	board := Board{Time: now.Format(ClockLayout), Rows: make([]BoardRow, 0, len(depts))}
	for _, d := range sortedByOrder(depts) {
		if !d.Active() {
			continue
		}
		queue := queues[d.ID]
		row := BoardRow{
			DepartmentID: d.ID,
			Department:   d.Name,
			Code:         d.Code,
			Serving:      NoServing,
			Next:         make([]string, NextSlots),
		}
		if len(queue) > 0 {
			row.Serving = queue[0].String()
		}
		for i := 0; i < NextSlots; i++ {
			row.Next[i] = NoNext
			if i+1 < len(queue) {
				row.Next[i] = queue[i+1].String()
			}
		}
		board.Rows = append(board.Rows, row)
	}
	return board
}

type KanbanColumn struct {
	DepartmentID string        `json:"department_id"`
	Department   string        `json:"department"`
	Status       models.Status `json:"status"`
	Count        int           `json:"count"`
	Cards        []Card        `json:"cards"`
}

type Card struct {
	Token models.Token `json:"token"`
	Name  string       `json:"name"`
	Tags  []string     `json:"tags"`
}

const UnknownPatient = "Unknown"

// Kanban returns one column per department serving branchID. An empty
// branchID selects every department.
func Kanban(q QueueReader, depts Departments, branchID string) []KanbanColumn {
	queues := q.Queues()
	all := depts.Departments()
	columns := make([]KanbanColumn, 0, len(all))
	for _, d := range sortedByOrder(all) {
		if branchID != "" && !d.Serves(branchID) {
			continue
		}
		queue := queues[d.ID]
		col := KanbanColumn{
			DepartmentID: d.ID,
			Department:   d.Name,
			Status:       d.Status,
			Count:        len(queue),
			Cards:        make([]Card, 0, len(queue)),
		}
		for _, tok := range queue {
			col.Cards = append(col.Cards, card(q, tok))
		}
		columns = append(columns, col)
	}
	return columns
}

func card(q QueueReader, tok models.Token) Card {
	c := Card{Token: tok, Name: UnknownPatient, Tags: []string{}}
	if p, ok := q.PatientByToken(tok); ok {
		c.Name = p.Name
		c.Tags = p.Tags
	}
	return c
}

type Dashboard struct {
	BranchID string `json:"branch_id,omitempty"`
	store.Stats
}

func DashboardFor(q QueueReader, branchID string) Dashboard {
	return Dashboard{BranchID: branchID, Stats: q.Stats(branchID)}
}

// SuggestNextDepartment returns the first active department in display order
// other than current.
func SuggestNextDepartment(depts []models.Department, current string) (models.Department, bool) {
	for _, d := range sortedByOrder(depts) {
		if d.ID != current && d.Active() {
			return d, true
		}
	}
	return models.Department{}, false
}

func sortedByOrder(depts []models.Department) []models.Department {
	out := append([]models.Department(nil), depts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
