package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
)

var (
	ErrDepartmentNotFound = fmt.Errorf("department %w", ErrNotFound)
	ErrTokenNotFound      = fmt.Errorf("token %w", ErrNotFound)
	ErrTestNotFound       = fmt.Errorf("test %w", ErrNotFound)
	ErrPatientNotFound    = fmt.Errorf("patient %w", ErrNotFound)
	ErrRegionNotFound     = fmt.Errorf("region %w", ErrNotFound)
	ErrBranchNotFound     = fmt.Errorf("branch %w", ErrNotFound)
	ErrRoleNotFound       = fmt.Errorf("role %w", ErrNotFound)
	ErrModuleNotFound     = fmt.Errorf("module %w", ErrNotFound)
	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)

	ErrInvalidIndex   = fmt.Errorf("%w: index out of range", ErrInvalidOperation)
	ErrSameDepartment = fmt.Errorf("%w: source and target department are the same", ErrInvalidOperation)
	ErrTokenQueued    = fmt.Errorf("%w: token already queued", ErrInvalidOperation)
	ErrInvalidState   = fmt.Errorf("%w: token state does not allow this action", ErrInvalidOperation)
	ErrInvalidEntity  = fmt.Errorf("%w: invalid catalog entity", ErrInvalidOperation)
	ErrInvalidSeed    = errors.New("invalid seed state")
)
