// Package catalog holds the reference data of the centre: regions, branches,
// departments, tests, users, roles, modules and the role permission matrix.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/seed"
	"ddrc/queue-service/internal/store"
)

type Catalog struct {
	mu          sync.RWMutex
	regions     []models.Region
	branches    []models.Branch
	departments []models.Department
	tests       []models.Test
	users       []models.User
	roles       []models.Role
	modules     []models.Module
	permissions map[string]map[string]models.Permission
}

func New(c seed.Catalog) *Catalog {
	cat := &Catalog{}
	cat.load(c)
	return cat
}

// Reset replaces every entity with the given seed.
func (c *Catalog) Reset(s seed.Catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(s)
}

func (c *Catalog) load(s seed.Catalog) {
	c.regions = append([]models.Region(nil), s.Regions...)
	c.branches = make([]models.Branch, 0, len(s.Branches))
	c.branches = append(c.branches, s.Branches...)
	c.departments = make([]models.Department, 0, len(s.Departments))
	for _, d := range s.Departments {
		d.BranchIDs = append([]string(nil), d.BranchIDs...)
		c.departments = append(c.departments, d)
	}
	c.tests = make([]models.Test, 0, len(s.Tests))
	for _, t := range s.Tests {
		t.BranchIDs = append([]string(nil), t.BranchIDs...)
		c.tests = append(c.tests, t)
	}
	c.users = make([]models.User, 0, len(s.Users))
	for _, u := range s.Users {
		u.BranchIDs = append([]string(nil), u.BranchIDs...)
		c.users = append(c.users, u)
	}
	c.roles = append([]models.Role(nil), s.Roles...)
	c.modules = append([]models.Module(nil), s.Modules...)
	c.permissions = make(map[string]map[string]models.Permission, len(s.Permissions))
	for role, mods := range s.Permissions {
		row := make(map[string]models.Permission, len(mods))
		for mod, p := range mods {
			row[mod] = p
		}
		c.permissions[role] = row
	}
}

func (c *Catalog) Regions() []models.Region {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Region(nil), c.regions...)
}

func (c *Catalog) Branches() []models.Branch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Branch(nil), c.branches...)
}

// BranchesInRegion returns the branches of regionID, or all of them when
// regionID is empty.
func (c *Catalog) BranchesInRegion(regionID string) []models.Branch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Branch, 0, len(c.branches))
	for _, b := range c.branches {
		if regionID == "" || b.RegionID == regionID {
			out = append(out, b)
		}
	}
	return out
}

// Departments returns every department sorted by display order.
func (c *Catalog) Departments() []models.Department {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Department, 0, len(c.departments))
	for _, d := range c.departments {
		d.BranchIDs = append([]string(nil), d.BranchIDs...)
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (c *Catalog) Tests() []models.Test {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Test, 0, len(c.tests))
	for _, t := range c.tests {
		t.BranchIDs = append([]string(nil), t.BranchIDs...)
		out = append(out, t)
	}
	return out
}

func (c *Catalog) Users() []models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.User, 0, len(c.users))
	for _, u := range c.users {
		u.BranchIDs = append([]string(nil), u.BranchIDs...)
		out = append(out, u)
	}
	return out
}

func (c *Catalog) Roles() []models.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Role(nil), c.roles...)
}

func (c *Catalog) Modules() []models.Module {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Module(nil), c.modules...)
}

func (c *Catalog) Region(id string) (models.Region, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.regions {
		if r.ID == id {
			return r, true
		}
	}
	return models.Region{}, false
}

func (c *Catalog) Branch(id string) (models.Branch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.branches {
		if b.ID == id {
			return b, true
		}
	}
	return models.Branch{}, false
}

func (c *Catalog) Department(id string) (models.Department, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.departments {
		if d.ID == id {
			d.BranchIDs = append([]string(nil), d.BranchIDs...)
			return d, true
		}
	}
	return models.Department{}, false
}

func (c *Catalog) Test(id string) (models.Test, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tests {
		if t.ID == id {
			t.BranchIDs = append([]string(nil), t.BranchIDs...)
			return t, true
		}
	}
	return models.Test{}, false
}

func (c *Catalog) User(id string) (models.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.users {
		if u.ID == id {
			u.BranchIDs = append([]string(nil), u.BranchIDs...)
			return u, true
		}
	}
	return models.User{}, false
}

func (c *Catalog) Role(id string) (models.Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roleLocked(id)
}

func (c *Catalog) roleLocked(id string) (models.Role, bool) {
	for _, r := range c.roles {
		if r.ID == id {
			return r, true
		}
	}
	return models.Role{}, false
}

func (c *Catalog) moduleLocked(id string) bool {
	for _, m := range c.modules {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (c *Catalog) regionLocked(id string) bool {
	for _, r := range c.regions {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (c *Catalog) branchLocked(id string) bool {
	for _, b := range c.branches {
		if b.ID == id {
			return true
		}
	}
	return false
}

func (c *Catalog) departmentLocked(id string) bool {
	for _, d := range c.departments {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (c *Catalog) UpsertRegion(r models.Region) (models.Region, error) {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	if err := checkEntity("region", r.ID, r.Name, &r.Status); err != nil {
		return models.Region{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions = upsert(c.regions, r, func(x models.Region) string { return x.ID })
	return r, nil
}

func (c *Catalog) UpsertBranch(b models.Branch) (models.Branch, error) {
	b.ID = strings.TrimSpace(b.ID)
	b.Name = strings.TrimSpace(b.Name)
	if err := checkEntity("branch", b.ID, b.Name, &b.Status); err != nil {
		return models.Branch{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.regionLocked(b.RegionID) {
		return models.Branch{}, fmt.Errorf("branch %s: %w", b.ID, store.ErrRegionNotFound)
	}
	c.branches = upsert(c.branches, b, func(x models.Branch) string { return x.ID })
	return b, nil
}

func (c *Catalog) UpsertDepartment(d models.Department) (models.Department, error) {
	d.ID = strings.TrimSpace(d.ID)
	d.Name = strings.TrimSpace(d.Name)
	if err := checkEntity("department", d.ID, d.Name, &d.Status); err != nil {
		return models.Department{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range d.BranchIDs {
		if !c.branchLocked(id) {
			return models.Department{}, fmt.Errorf("department %s: %w", d.ID, store.ErrBranchNotFound)
		}
	}
	d.BranchIDs = append([]string(nil), d.BranchIDs...)
	c.departments = upsert(c.departments, d, func(x models.Department) string { return x.ID })
	return d, nil
}

func (c *Catalog) UpsertTest(t models.Test) (models.Test, error) {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	if t.ID == "" || t.Name == "" {
		return models.Test{}, fmt.Errorf("test: %w", store.ErrInvalidEntity)
	}
	if t.Price < 0 {
		return models.Test{}, fmt.Errorf("test %s: negative price: %w", t.ID, store.ErrInvalidEntity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.departmentLocked(t.DepartmentID) {
		return models.Test{}, fmt.Errorf("test %s: %w", t.ID, store.ErrDepartmentNotFound)
	}
	t.BranchIDs = append([]string(nil), t.BranchIDs...)
	c.tests = upsert(c.tests, t, func(x models.Test) string { return x.ID })
	return t, nil
}

func (c *Catalog) UpsertUser(u models.User) (models.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.Name = strings.TrimSpace(u.Name)
	if err := checkEntity("user", u.ID, u.Name, &u.Status); err != nil {
		return models.User{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roleLocked(u.RoleID); !ok {
		return models.User{}, fmt.Errorf("user %s: %w", u.ID, store.ErrRoleNotFound)
	}
	for _, id := range u.BranchIDs {
		if !c.branchLocked(id) {
			return models.User{}, fmt.Errorf("user %s: %w", u.ID, store.ErrBranchNotFound)
		}
	}
	u.BranchIDs = append([]string(nil), u.BranchIDs...)
	c.users = upsert(c.users, u, func(x models.User) string { return x.ID })
	return u, nil
}

func (c *Catalog) UpsertRole(r models.Role) (models.Role, error) {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	if err := checkEntity("role", r.ID, r.Name, &r.Status); err != nil {
		return models.Role{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = upsert(c.roles, r, func(x models.Role) string { return x.ID })
	return r, nil
}

func (c *Catalog) UpsertModule(m models.Module) (models.Module, error) {
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	if m.ID == "" || m.Name == "" {
		return models.Module{}, fmt.Errorf("module: %w", store.ErrInvalidEntity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = upsert(c.modules, m, func(x models.Module) string { return x.ID })
	return m, nil
}

// Permissions returns the module permission row for roleID. Modules without
// an entry are reported with every flag off.
func (c *Catalog) Permissions(roleID string) (map[string]models.Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.roleLocked(roleID); !ok {
		return nil, store.ErrRoleNotFound
	}
	out := make(map[string]models.Permission, len(c.modules))
	for _, m := range c.modules {
		out[m.ID] = c.permissions[roleID][m.ID]
	}
	return out, nil
}

func (c *Catalog) SetPermission(roleID, moduleID string, p models.Permission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roleLocked(roleID); !ok {
		return store.ErrRoleNotFound
	}
	if !c.moduleLocked(moduleID) {
		return store.ErrModuleNotFound
	}
	row, ok := c.permissions[roleID]
	if !ok {
		row = make(map[string]models.Permission)
		c.permissions[roleID] = row
	}
	row[moduleID] = p
	return nil
}

// Allows reports whether roleID may perform action on moduleID. Unknown roles,
// modules or actions are denied.
func (c *Catalog) Allows(roleID, moduleID, action string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.permissions[roleID][moduleID].Allows(action)
}

func checkEntity(kind, id, name string, status *models.Status) error {
	if id == "" || name == "" {
		return fmt.Errorf("%s: id and name are required: %w", kind, store.ErrInvalidEntity)
	}
	if *status == "" {
		*status = models.StatusActive
	}
	if !status.ValidFor(kind) {
		return fmt.Errorf("%s %s: status %q: %w", kind, id, *status, store.ErrInvalidEntity)
	}
	return nil
}

func upsert[T any](items []T, item T, key func(T) string) []T {
	for i := range items {
		if key(items[i]) == key(item) {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}
