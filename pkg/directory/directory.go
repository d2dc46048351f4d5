// Package directory resolves who may act in a project: superadmins, role holders, department
// membership and project assignments.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrUnknownUser = errors.New("unknown user")

// Directory is the permission lookup the engine consumes.
type Directory interface {
	IsSuperadmin(ctx context.Context, userID string) (bool, error)
	UserHasRole(ctx context.Context, userID, roleID string) (bool, error)
	// UserHasDepartmentRole reports whether the user holds any role of the department.
	UserHasDepartmentRole(ctx context.Context, userID, departmentID string) (bool, error)
	UserProjectAssignments(ctx context.Context, userID string) ([]string, error)
	// ProjectMembersWithRole lists project members holding the role.
	ProjectMembersWithRole(ctx context.Context, projectID, roleID string) ([]string, error)
}

// Roster is the YAML document behind a StaticDirectory.
type Roster struct {
	Superadmins []string        `yaml:"superadmins" json:"superadmins"`
	Roles       []RosterRole    `yaml:"roles"       json:"roles"`
	Projects    []RosterProject `yaml:"projects"    json:"projects"`
}

type RosterRole struct {
	ID         string   `yaml:"id"         json:"id"`
	Name       string   `yaml:"name"       json:"name"`
	Department string   `yaml:"department" json:"department"`
	Members    []string `yaml:"members"    json:"members"`
}

type RosterProject struct {
	ID      string   `yaml:"id"      json:"id"`
	Members []string `yaml:"members" json:"members"`
}

// StaticDirectory answers lookups from an in-memory roster.
type StaticDirectory struct {
	mu     sync.RWMutex
	roster Roster
}

func NewStaticDirectory(roster Roster) *StaticDirectory {
	return &StaticDirectory{roster: roster}
}

// LoadStatic reads a roster YAML file.
func LoadStatic(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file %s: %w", path, err)
	}

	return ParseRoster(data)
}

// ParseRoster builds a StaticDirectory from roster YAML.
func ParseRoster(data []byte) (*StaticDirectory, error) {
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("failed to parse roster YAML: %w", err)
	}

	for _, role := range roster.Roles {
		if role.ID == "" {
			return nil, errors.New("roster role without id")
		}
	}

	for _, project := range roster.Projects {
		if project.ID == "" {
			return nil, errors.New("roster project without id")
		}
	}

	return NewStaticDirectory(roster), nil
}

// Replace swaps the roster, e.g. after the roster file changed.
func (d *StaticDirectory) Replace(roster Roster) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roster = roster
}

func (d *StaticDirectory) IsSuperadmin(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return slices.Contains(d.roster.Superadmins, userID), nil
}

func (d *StaticDirectory) UserHasRole(_ context.Context, userID, roleID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, role := range d.roster.Roles {
		if role.ID == roleID && slices.Contains(role.Members, userID) {
			return true, nil
		}
	}

	return false, nil
}

func (d *StaticDirectory) UserHasDepartmentRole(_ context.Context, userID, departmentID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, role := range d.roster.Roles {
		if role.Department == departmentID && slices.Contains(role.Members, userID) {
			return true, nil
		}
	}

	return false, nil
}

func (d *StaticDirectory) UserProjectAssignments(_ context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	projects := make([]string, 0)

	for _, project := range d.roster.Projects {
		if slices.Contains(project.Members, userID) {
			projects = append(projects, project.ID)
		}
	}

	return projects, nil
}

func (d *StaticDirectory) ProjectMembersWithRole(_ context.Context, projectID, roleID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var members []string

	for _, project := range d.roster.Projects {
		if project.ID == projectID {
			members = project.Members

			break
		}
	}

	result := make([]string, 0)

	for _, role := range d.roster.Roles {
		if role.ID != roleID {
			continue
		}

		for _, member := range role.Members {
			if slices.Contains(members, member) && !slices.Contains(result, member) {
				result = append(result, member)
			}
		}
	}

	return result, nil
}

// IsProjectMember reports whether the user is assigned to the project.
func IsProjectMember(ctx context.Context, dir Directory, userID, projectID string) (bool, error) {
	projects, err := dir.UserProjectAssignments(ctx, userID)
	if err != nil {
		return false, err
	}

	return slices.Contains(projects, projectID), nil
}
