package models

type Status string

const (
	StatusActive   Status = "Active"
	StatusPaused   Status = "Paused"
	StatusInactive Status = "Inactive"
)

// ValidFor reports whether the status is allowed for the given entity kind.
// Departments and branches pause; regions, users and roles deactivate.
func (s Status) ValidFor(kind string) bool {
	switch kind {
	case "department", "branch":
		return s == StatusActive || s == StatusPaused
	default:
		return s == StatusActive || s == StatusInactive
	}
}

type Region struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Status Status `json:"status" yaml:"status"`
}

type Branch struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Code        string `json:"code" yaml:"code"`
	RegionID    string `json:"region_id" yaml:"region_id"`
	QueueActive bool   `json:"queue_active" yaml:"queue_active"`
	Status      Status `json:"status" yaml:"status"`
}

type Department struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Code      string   `json:"code" yaml:"code"`
	BranchIDs []string `json:"branch_ids" yaml:"branch_ids"`
	Status    Status   `json:"status" yaml:"status"`
	Order     int      `json:"order" yaml:"order"`
}

func (d Department) Active() bool {
	return d.Status == StatusActive
}

func (d Department) Serves(branchID string) bool {
	for _, id := range d.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}

type Test struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Code         string   `json:"code" yaml:"code"`
	Price        int      `json:"price" yaml:"price"`
	DepartmentID string   `json:"department_id" yaml:"department_id"`
	BranchIDs    []string `json:"branch_ids" yaml:"branch_ids"`
	EstTime      string   `json:"est_time,omitempty" yaml:"est_time"`
}

type User struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Username  string   `json:"username" yaml:"username"`
	RoleLabel string   `json:"role" yaml:"role"`
	RoleID    string   `json:"role_id" yaml:"role_id"`
	RegionID  string   `json:"region_id" yaml:"region_id"`
	BranchIDs []string `json:"branch_ids" yaml:"branch_ids"`
	Status    Status   `json:"status" yaml:"status"`
}

type Role struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Status Status `json:"status" yaml:"status"`
}

type Module struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

type Permission struct {
	View   bool `json:"view" yaml:"view"`
	Edit   bool `json:"edit" yaml:"edit"`
	Create bool `json:"create" yaml:"create"`
}

// Allows reports whether the permission grants action (view, edit or create).
func (p Permission) Allows(action string) bool {
	switch action {
	case "view":
		return p.View
	case "edit":
		return p.Edit
	case "create":
		return p.Create
	default:
		return false
	}
}
