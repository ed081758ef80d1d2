package httpapi

import (
	"net/http"
	"strings"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"
)

type permissionRequest struct {
	RoleID     string            `json:"role_id"`
	ModuleID   string            `json:"module_id"`
	Permission models.Permission `json:"permission"`
}

type permissionsResponse struct {
	RoleID      string                       `json:"role_id"`
	Permissions map[string]models.Permission `json:"permissions"`
}

type permissionCheckResponse struct {
	RoleID   string `json:"role_id"`
	ModuleID string `json:"module_id"`
	Action   string `json:"action"`
	Allowed  bool   `json:"allowed"`
}

// handleCatalog serves GET (list) and PUT (upsert) for every catalog entity
// plus the role/module permission matrix.
func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/catalog/")
	if len(parts) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	kind := parts[0]
	if kind == "permissions" {
		h.handlePermissions(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.listCatalog(w, r, kind)
	case http.MethodPut:
		h.upsertCatalog(w, r, kind)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request, kind string) {
	switch kind {
	case "regions":
		writeJSON(w, http.StatusOK, h.catalog.Regions())
	case "branches":
		if regionID := strings.TrimSpace(r.URL.Query().Get("region_id")); regionID != "" {
			if _, ok := h.catalog.Region(regionID); !ok {
				writeMappedError(w, r, store.ErrRegionNotFound)
				return
			}
			writeJSON(w, http.StatusOK, h.catalog.BranchesInRegion(regionID))
			return
		}
		writeJSON(w, http.StatusOK, h.catalog.Branches())
	case "departments":
		writeJSON(w, http.StatusOK, h.catalog.Departments())
	case "tests":
		writeJSON(w, http.StatusOK, filterTests(h.catalog.Tests(), r.URL.Query().Get("q")))
	case "users":
		writeJSON(w, http.StatusOK, h.catalog.Users())
	case "roles":
		writeJSON(w, http.StatusOK, h.catalog.Roles())
	case "modules":
		writeJSON(w, http.StatusOK, h.catalog.Modules())
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) upsertCatalog(w http.ResponseWriter, r *http.Request, kind string) {
	var (
		saved any
		err   error
	)
	switch kind {
	case "regions":
		var in models.Region
		if !decodeRequest(w, r, &in) {
			return
		}
		saved, err = h.catalog.UpsertRegion(in)
	case "branches":
		var in models.Branch
		if !decodeRequest(w, r, &in) {
			return
		}
		saved, err = h.catalog.UpsertBranch(in)
	case "departments":
		var in models.Department
		if !decodeRequest(w, r, &in) {
			return
		}
		saved, err = h.catalog.UpsertDepartment(in)
	case "tests":
		var in models.Test
		if !decodeRequest(w, r, &in) {
			return
		}
		saved, err = h.catalog.UpsertTest(in)
	case "users":
		var in models.User
		if !decodeRequest(w, r, &in) {
			return
		}
		saved, err = h.catalog.UpsertUser(in)
	case "roles":
		var in models.Role
		if !decodeRequest(w, r, &in) {
			return
		}
		saved, err = h.catalog.UpsertRole(in)
	case "modules":
		var in models.Module
		if !decodeRequest(w, r, &in) {
			return
		}
		saved, err = h.catalog.UpsertModule(in)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		roleID := strings.TrimSpace(query.Get("role_id"))
		if action := strings.TrimSpace(query.Get("action")); action != "" {
			h.checkPermission(w, r, roleID, strings.TrimSpace(query.Get("module_id")), action)
			return
		}
		h.writePermissions(w, r, roleID)
	case http.MethodPut:
		var req permissionRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		roleID := strings.TrimSpace(req.RoleID)
		if err := h.catalog.SetPermission(roleID, strings.TrimSpace(req.ModuleID), req.Permission); err != nil {
			writeMappedError(w, r, err)
			return
		}
		h.writePermissions(w, r, roleID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) writePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	perms, err := h.catalog.Permissions(roleID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{RoleID: roleID, Permissions: perms})
}

// checkPermission answers whether roleID may perform action on moduleID.
func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request, roleID, moduleID, action string) {
	if _, ok := h.catalog.Role(roleID); !ok {
		writeMappedError(w, r, store.ErrRoleNotFound)
		return
	}
	writeJSON(w, http.StatusOK, permissionCheckResponse{
		RoleID:   roleID,
		ModuleID: moduleID,
		Action:   action,
		Allowed:  h.catalog.Allows(roleID, moduleID, action),
	})
}

// filterTests keeps tests whose name or code contains q, ignoring case.
func filterTests(tests []models.Test, q string) []models.Test {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return tests
	}
	out := make([]models.Test, 0, len(tests))
	for _, t := range tests {
		if strings.Contains(strings.ToLower(t.Name), q) || strings.Contains(strings.ToLower(t.Code), q) {
			out = append(out, t)
		}
	}
	return out
}
