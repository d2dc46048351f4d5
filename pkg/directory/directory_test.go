package directory_test

import (
	"testing"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roster = `
superadmins: [root]
roles:
  - id: designer
    name: Designer
    department: creative
    members: [dana, otto]
  - id: art-director
    department: creative
    members: [ari]
  - id: developer
    department: engineering
    members: [devon]
projects:
  - id: p1
    members: [dana, ari, devon]
  - id: p2
    members: [devon, otto]
`

func newRoster(t *testing.T) *directory.StaticDirectory {
	t.Helper()

	dir, err := directory.ParseRoster([]byte(roster))
	require.NoError(t, err)

	return dir
}

func TestStaticDirectory_Lookups(t *testing.T) {
	ctx := t.Context()
	dir := newRoster(t)

	superadmin, err := dir.IsSuperadmin(ctx, "root")
	require.NoError(t, err)
	assert.True(t, superadmin)

	superadmin, err = dir.IsSuperadmin(ctx, "dana")
	require.NoError(t, err)
	assert.False(t, superadmin)

	hasRole, err := dir.UserHasRole(ctx, "otto", "designer")
	require.NoError(t, err)
	assert.True(t, hasRole)

	hasRole, err = dir.UserHasRole(ctx, "devon", "designer")
	require.NoError(t, err)
	assert.False(t, hasRole)

	inDepartment, err := dir.UserHasDepartmentRole(ctx, "ari", "creative")
	require.NoError(t, err)
	assert.True(t, inDepartment)

	inDepartment, err = dir.UserHasDepartmentRole(ctx, "ari", "engineering")
	require.NoError(t, err)
	assert.False(t, inDepartment)

	projects, err := dir.UserProjectAssignments(ctx, "devon")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, projects)

	projects, err = dir.UserProjectAssignments(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestStaticDirectory_ProjectMembersWithRole(t *testing.T) {
	ctx := t.Context()
	dir := newRoster(t)

	// otto is a designer but not on p1.
	members, err := dir.ProjectMembersWithRole(ctx, "p1", "designer")
	require.NoError(t, err)
	assert.Equal(t, []string{"dana"}, members)

	members, err = dir.ProjectMembersWithRole(ctx, "p2", "designer")
	require.NoError(t, err)
	assert.Equal(t, []string{"otto"}, members)

	members, err = dir.ProjectMembersWithRole(ctx, "p1", "unknown")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestIsProjectMember(t *testing.T) {
	ctx := t.Context()
	dir := newRoster(t)

	member, err := directory.IsProjectMember(ctx, dir, "otto", "p2")
	require.NoError(t, err)
	assert.True(t, member)

	member, err = directory.IsProjectMember(ctx, dir, "otto", "p1")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestParseRoster_Invalid(t *testing.T) {
	_, err := directory.ParseRoster([]byte("roles: [{name: nameless}]"))
	require.Error(t, err)

	_, err = directory.ParseRoster([]byte("projects: [{members: [a]}]"))
	require.Error(t, err)

	_, err = directory.ParseRoster([]byte("roles: : :"))
	require.Error(t, err)
}

func TestStaticDirectory_Replace(t *testing.T) {
	ctx := t.Context()
	dir := newRoster(t)

	dir.Replace(directory.Roster{Superadmins: []string{"dana"}})

	superadmin, err := dir.IsSuperadmin(ctx, "dana")
	require.NoError(t, err)
	assert.True(t, superadmin)

	superadmin, err = dir.IsSuperadmin(ctx, "root")
	require.NoError(t, err)
	assert.False(t, superadmin)
}
