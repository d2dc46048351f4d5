package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/handoff/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		templateErr := persistence.NewTemplateError("GetByID", "template-123", persistence.ErrTemplateNotFound)
		instanceErr := persistence.NewInstanceError("GetByID", "instance-456", persistence.ErrInstanceNotFound)
		stepErr := persistence.NewStepError("Step", "instance-456", "step-1", persistence.ErrStepNotFound)

		assert.True(t, persistence.IsTemplateNotFound(templateErr))
		assert.True(t, persistence.IsInstanceNotFound(instanceErr))
		assert.True(t, persistence.IsStepNotFound(stepErr))
		assert.False(t, persistence.IsInstanceNotFound(templateErr))
	})

	t.Run("conflicts survive wrapping", func(t *testing.T) {
		stale := fmt.Errorf("commit: %w", persistence.NewInstanceError("CommitTransition", "i-1", persistence.ErrStaleInstance))
		completed := persistence.NewStepError("CommitTransition", "i-1", "s-1", persistence.ErrStepAlreadyCompleted)

		assert.True(t, persistence.IsConflict(stale))
		assert.True(t, persistence.IsConflict(completed))
		assert.False(t, persistence.IsConflict(errors.New("boom")))
	})

	t.Run("errors contain context", func(t *testing.T) {
		err := persistence.NewStepError("CommitTransition", "instance-123", "step-9", persistence.ErrStepAlreadyCompleted)

		assert.Contains(t, err.Error(), "CommitTransition")
		assert.Contains(t, err.Error(), "instance-123")
		assert.Contains(t, err.Error(), "step-9")
		assert.Contains(t, err.Error(), "step already completed")
	})
}
