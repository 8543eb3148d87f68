package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RetriabilityByKind(t *testing.T) {
	tests := []struct {
		name          string
		kind          Kind
		wantRetriable bool
	}{
		{"precondition is terminal", KindPrecondition, false},
		{"saturation is retriable", KindSaturation, true},
		{"authorization is terminal", KindAuthorization, false},
		{"not found is terminal", KindNotFound, false},
		{"transient io is retriable", KindTransientIO, true},
		{"partial data is terminal", KindPartialData, false},
		{"fatal is terminal", KindFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.kind, "boom")
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.wantRetriable, f.Retriable)
			assert.Equal(t, tt.wantRetriable, IsRetriable(f))
		})
	}
}

func TestFault_ErrorFormatting(t *testing.T) {
	f := Precondition("task %s rejected", "task-1")
	assert.Equal(t, "precondition: task task-1 rejected", f.Error())

	wrapped := TransientIO("persist failed").Wrap(errors.New("connection reset"))
	assert.Equal(t, "transient_io: persist failed: connection reset", wrapped.Error())
}

func TestFault_UnwrapChain(t *testing.T) {
	cause := errors.New("disk full")
	f := TransientIO("write failed").Wrap(cause)

	require.ErrorIs(t, f, cause)

	// A wrapped fault is still recognizable through further fmt wrapping.
	outer := fmt.Errorf("dispatch: %w", f)
	assert.True(t, Is(outer, KindTransientIO))
	assert.True(t, IsRetriable(outer))
	assert.Equal(t, KindTransientIO, KindOf(outer))
}

func TestFault_With(t *testing.T) {
	f := NotFound("agent not found").With("agentId", "agent-1").With("op", "assign")

	require.NotNil(t, f.Context)
	assert.Equal(t, "agent-1", f.Context["agentId"])
	assert.Equal(t, "assign", f.Context["op"])
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(errors.New("plain"), KindFatal))
	assert.False(t, IsRetriable(errors.New("plain")))
	assert.False(t, IsRetriable(nil))
}
