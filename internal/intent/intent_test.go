package intent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paylinehq/payline/internal/intent"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from intent.State
		to   intent.State
		want bool
	}{
		{intent.StateCreated, intent.StateAuthorized, true},
		{intent.StateCreated, intent.StateFailed, true},
		{intent.StateAuthorized, intent.StateCaptured, true},
		{intent.StateAuthorized, intent.StateVoided, true},
		{intent.StateCaptured, intent.StateRefunded, true},

		{intent.StateCreated, intent.StateCaptured, false},
		{intent.StateCreated, intent.StateRefunded, false},
		{intent.StateAuthorized, intent.StateCreated, false},
		{intent.StateCaptured, intent.StateAuthorized, false},
		{intent.StateFailed, intent.StateCreated, false},
		{intent.StateVoided, intent.StateAuthorized, false},
		{intent.StateRefunded, intent.StateCaptured, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, intent.CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, intent.StateCreated.Terminal())
	assert.False(t, intent.StateAuthorized.Terminal())
	assert.False(t, intent.StateCaptured.Terminal())
	assert.True(t, intent.StateFailed.Terminal())
	assert.True(t, intent.StateVoided.Terminal())
	assert.True(t, intent.StateRefunded.Terminal())
}
