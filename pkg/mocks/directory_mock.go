package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockDirectory is a mock implementation of directory.Directory interface.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) IsSuperadmin(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)

	return args.Bool(0), args.Error(1)
}

func (m *MockDirectory) UserHasRole(ctx context.Context, userID, roleID string) (bool, error) {
	args := m.Called(ctx, userID, roleID)

	return args.Bool(0), args.Error(1)
}

func (m *MockDirectory) UserHasDepartmentRole(ctx context.Context, userID, departmentID string) (bool, error) {
	args := m.Called(ctx, userID, departmentID)

	return args.Bool(0), args.Error(1)
}

func (m *MockDirectory) UserProjectAssignments(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)

	projects, _ := args.Get(0).([]string)

	return projects, args.Error(1)
}

func (m *MockDirectory) ProjectMembersWithRole(ctx context.Context, projectID, roleID string) ([]string, error) {
	args := m.Called(ctx, projectID, roleID)

	members, _ := args.Get(0).([]string)

	return members, args.Error(1)
}
