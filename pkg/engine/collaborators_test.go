package engine_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/events"
	"github.com/dukex/handoff/pkg/mocks"
	"github.com/dukex/handoff/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPublishFailure_DoesNotFailTransition(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(errors.New("broker down"))

	e, p := newTestEngine(t, engine.WithPublisher(bus))
	saveTemplate(t, p, linearTemplate())

	instance := start(t, e, "linear")

	bus.AssertCalled(t, "Publish", mock.Anything, instance.ID, mock.MatchedBy(func(event any) bool {
		started, ok := event.(events.InstanceStarted)

		return ok && started.InstanceID == instance.ID
	}))

	stored, err := e.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.UpdatedAt, stored.UpdatedAt)
}

func newMockDirectoryEngine(t *testing.T) (*engine.Engine, *mocks.MockDirectory, string) {
	t.Helper()

	dir := &mocks.MockDirectory{}
	dir.On("ProjectMembersWithRole", mock.Anything, "p1", mock.Anything).Return([]string{"dana"}, nil).Maybe()

	p := file.NewPersistence(t.TempDir())
	e := engine.New(p, dir, slog.New(slog.DiscardHandler))
	saveTemplate(t, p, linearTemplate())

	return e, dir, start(t, e, "linear").ID
}

func TestCanAct_DirectoryFailure(t *testing.T) {
	e, dir, instanceID := newMockDirectoryEngine(t)
	dir.On("IsSuperadmin", mock.Anything, "dana").Return(false, errors.New("directory unavailable"))

	_, err := e.LoadActionable(t.Context(), instanceID, "dana")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory unavailable")
}

func TestCanAct_RoleLookup(t *testing.T) {
	e, dir, instanceID := newMockDirectoryEngine(t)
	dir.On("IsSuperadmin", mock.Anything, mock.Anything).Return(false, nil)
	dir.On("UserProjectAssignments", mock.Anything, mock.Anything).Return([]string{"p1"}, nil)
	dir.On("UserHasRole", mock.Anything, "dana", "designer").Return(true, nil)
	dir.On("UserHasRole", mock.Anything, "devon", "designer").Return(false, nil)

	instance, err := e.GetInstance(t.Context(), instanceID)
	require.NoError(t, err)

	live := liveSteps(t, e, instanceID)
	require.Len(t, live, 1)

	decision, err := e.CanAct(t.Context(), "dana", instance, live[0])
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, engine.ReasonRole, decision.Reason)

	decision, err = e.CanAct(t.Context(), "devon", instance, live[0])
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, engine.ReasonMissingRole, decision.Reason)

	dir.AssertExpectations(t)
}
