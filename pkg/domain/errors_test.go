package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("register x: %w", ErrDuplicateID), ErrKindDuplicateID},
		{ErrUnknownMethod, ErrKindUnknownMethod},
		{fmt.Errorf("decode: %w", ErrInvalidArgs), ErrKindInvalidArgs},
		{context.Canceled, ErrKindCanceled},
		{errors.New("boom"), ErrKindInternal},
		// provider classification wins over the wrapped strategy error
		{NewCreateError(ProviderSubprocess, "a", ErrTransportDisconnected), ErrKindNodeCreationFailed},
		{NewDestroyError(ProviderRemote, "a", errors.New("x")), ErrKindNodeDestructionFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("exec: not found")
	err := NewCreateError(ProviderSubprocess, "inst-1", cause)

	assert.ErrorIs(t, err, ErrNodeCreationFailed)
	assert.ErrorIs(t, err, cause, "strategy error must be reachable unchanged")
	assert.NotErrorIs(t, err, ErrNodeDestructionFailed)
	assert.Contains(t, err.Error(), "inst-1")
}

func TestRPCError_RoundTrip(t *testing.T) {
	src := NewCreateError(ProviderInProcess, "inst-9", errors.New("no connector"))
	wire := NewRPCError(src, nil)
	require.NotNil(t, wire)
	assert.Equal(t, ErrKindNodeCreationFailed, wire.Kind)
	assert.Equal(t, "inst-9", wire.Context["node"])
	assert.Equal(t, "create", wire.Context["op"])

	b, err := json.Marshal(Response{ID: 3, Error: wire})
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(b, &resp))
	got := resp.Err()
	require.Error(t, got)
	assert.ErrorIs(t, got, ErrNodeCreationFailed)

	t.Run("canceled", func(t *testing.T) {
		err := ErrorFromRPC(NewRPCError(context.Canceled, nil))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty success is not an error", func(t *testing.T) {
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(`{"id":1,"result":null}`), &resp))
		assert.NoError(t, resp.Err())
		assert.Nil(t, NewRPCError(nil, nil))
	})
}

func TestLifecycleState_Text(t *testing.T) {
	for s := StateCreated; s <= StateFailed; s++ {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back LifecycleState
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	var s LifecycleState
	assert.ErrorIs(t, s.UnmarshalText([]byte("zombie")), ErrInvalidArgs)
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateStopping.Terminal())
}

func TestSyncRecord_Clone(t *testing.T) {
	r := &SyncRecord{ID: "s1", Domain: Local(), Tasks: []TaskRecord{{Entity: "user", Loader: "users"}}}
	c := r.Clone()
	c.Tasks[0].Cursor = "p2"
	assert.Empty(t, r.Tasks[0].Cursor)
	assert.Nil(t, (*SyncRecord)(nil).Clone())
}
