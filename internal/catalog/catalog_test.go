package catalog

import (
	"errors"
	"testing"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/seed"
	"ddrc/queue-service/internal/store"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	s, err := seed.Default()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return New(s.Catalog)
}

func TestDepartmentsSortedByOrder(t *testing.T) {
	cat := newTestCatalog(t)
	if _, err := cat.UpsertDepartment(models.Department{ID: "dept-first", Name: "First", Status: models.StatusActive, Order: 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	depts := cat.Departments()
	if depts[0].ID != "dept-first" || depts[1].ID != "dept-phlebotomy" {
		t.Fatalf("unexpected order: %s, %s", depts[0].ID, depts[1].ID)
	}
	for i := 1; i < len(depts); i++ {
		if depts[i-1].Order > depts[i].Order {
			t.Fatalf("departments not sorted at %d", i)
		}
	}
}

func TestUpsertValidation(t *testing.T) {
	cat := newTestCatalog(t)
	cases := []struct {
		name string
		run  func() error
		want error
	}{
		{"region without name", func() error { _, err := cat.UpsertRegion(models.Region{ID: "reg-x"}); return err }, store.ErrInvalidEntity},
		{"paused region", func() error {
			_, err := cat.UpsertRegion(models.Region{ID: "reg-x", Name: "X", Status: models.StatusPaused})
			return err
		}, store.ErrInvalidEntity},
		{"branch unknown region", func() error {
			_, err := cat.UpsertBranch(models.Branch{ID: "br-x", Name: "X", RegionID: "reg-missing"})
			return err
		}, store.ErrRegionNotFound},
		{"department unknown branch", func() error {
			_, err := cat.UpsertDepartment(models.Department{ID: "dept-x", Name: "X", BranchIDs: []string{"br-missing"}})
			return err
		}, store.ErrBranchNotFound},
		{"inactive department", func() error {
			_, err := cat.UpsertDepartment(models.Department{ID: "dept-x", Name: "X", Status: models.StatusInactive})
			return err
		}, store.ErrInvalidEntity},
		{"test unknown department", func() error {
			_, err := cat.UpsertTest(models.Test{ID: "tst-x", Name: "X", DepartmentID: "dept-missing"})
			return err
		}, store.ErrDepartmentNotFound},
		{"test negative price", func() error {
			_, err := cat.UpsertTest(models.Test{ID: "tst-x", Name: "X", DepartmentID: "dept-radiology", Price: -1})
			return err
		}, store.ErrInvalidEntity},
		{"user unknown role", func() error {
			_, err := cat.UpsertUser(models.User{ID: "usr-x", Name: "X", RoleID: "role-missing"})
			return err
		}, store.ErrRoleNotFound},
		{"module without id", func() error { _, err := cat.UpsertModule(models.Module{Name: "X"}); return err }, store.ErrInvalidEntity},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUpsertReplacesInPlace(t *testing.T) {
	cat := newTestCatalog(t)
	before := len(cat.Tests())
	updated, err := cat.UpsertTest(models.Test{ID: "tst-cbc", Name: "CBC", Price: 350, DepartmentID: "dept-phlebotomy"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if updated.Price != 350 || len(cat.Tests()) != before {
		t.Fatalf("expected replacement, got %+v with %d tests", updated, len(cat.Tests()))
	}
	got, ok := cat.Test("tst-cbc")
	if !ok || got.Price != 350 {
		t.Fatalf("unexpected test %+v", got)
	}

	region, err := cat.UpsertRegion(models.Region{ID: "reg-east", Name: "East"})
	if err != nil {
		t.Fatalf("upsert region: %v", err)
	}
	if region.Status != models.StatusActive {
		t.Fatalf("expected default status Active, got %q", region.Status)
	}
	if len(cat.Regions()) != 4 {
		t.Fatalf("expected appended region")
	}
}

func TestPermissionMatrix(t *testing.T) {
	cat := newTestCatalog(t)
	if !cat.Allows("role-staff", "mod-queue", "edit") || cat.Allows("role-staff", "mod-queue", "create") {
		t.Fatalf("unexpected staff queue permissions")
	}
	if cat.Allows("role-receptionist", "mod-patients", "view") {
		t.Fatalf("role without row should be denied")
	}

	if err := cat.SetPermission("role-receptionist", "mod-patients", models.Permission{View: true, Create: true}); err != nil {
		t.Fatalf("set permission: %v", err)
	}
	if !cat.Allows("role-receptionist", "mod-patients", "create") {
		t.Fatalf("expected granted permission")
	}

	row, err := cat.Permissions("role-receptionist")
	if err != nil {
		t.Fatalf("permissions: %v", err)
	}
	if len(row) != len(cat.Modules()) || row["mod-users"].View {
		t.Fatalf("unexpected row %+v", row)
	}

	if err := cat.SetPermission("role-missing", "mod-patients", models.Permission{}); !errors.Is(err, store.ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	if err := cat.SetPermission("role-admin", "mod-missing", models.Permission{}); !errors.Is(err, store.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestResetRestoresSeed(t *testing.T) {
	s, err := seed.Default()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	cat := New(s.Catalog)
	if _, err := cat.UpsertRole(models.Role{ID: "role-x", Name: "X"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	cat.Reset(s.Catalog)
	if _, ok := cat.Role("role-x"); ok {
		t.Fatalf("reset should drop added role")
	}
	if got := len(cat.BranchesInRegion("reg-central")); got != 3 {
		t.Fatalf("expected 3 central branches, got %d", got)
	}
}
