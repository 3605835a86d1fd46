package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnContext_FactPrefersStaged(t *testing.T) {
	sess := NewSession("sess-1", "thread-1")
	sess.Facts["intent"] = Fact{Value: "billing"}
	sess.Facts["tier"] = Fact{Value: "gold"}

	tc := NewTurnContext(context.Background(), "turn-1", sess, Message{ID: "m1"}, nil)

	out := &StepOutput{ReplyFragment: "noted"}
	out.Patch.SetFact("intent", "complaint", false)
	tc.Absorb(out)

	assert.Equal(t, "complaint", tc.FactValue("intent"))
	assert.Equal(t, "gold", tc.FactValue("tier"))
	assert.Equal(t, "", tc.FactValue("missing"))
	assert.Equal(t, []string{"noted"}, tc.Fragments())

	// Staging never touched the snapshot.
	assert.Equal(t, "billing", sess.FactValue("intent"))
}

func TestTurnContext_AbsorbSkipsEmptyFragment(t *testing.T) {
	tc := NewTurnContext(context.Background(), "turn-1", NewSession("s", "t"), Message{}, nil)
	tc.Absorb(&StepOutput{})
	tc.Absorb(nil)
	assert.Empty(t, tc.Fragments())
}

func TestTurnContext_CloneIsolatesStagedState(t *testing.T) {
	tc := NewTurnContext(context.Background(), "turn-1", NewSession("s", "t"), Message{}, nil)
	seed := &StepOutput{ReplyFragment: "first"}
	seed.Patch.SetFact("shared", "base", false)
	tc.Absorb(seed)

	clone := tc.Clone()
	assert.Equal(t, "base", clone.FactValue("shared"))
	assert.Equal(t, []string{"first"}, clone.Fragments())

	mut := &StepOutput{ReplyFragment: "second"}
	mut.Patch.SetFact("shared", "changed", false)
	clone.Absorb(mut)

	assert.Equal(t, "base", tc.FactValue("shared"))
	assert.Equal(t, []string{"first"}, tc.Fragments())
}

func TestTurnContext_StagedPatchIsACopy(t *testing.T) {
	tc := NewTurnContext(context.Background(), "turn-1", NewSession("s", "t"), Message{}, nil)
	out := &StepOutput{}
	out.Patch.SetFact("k", "v", true)
	out.Patch.AddTags("tag")
	tc.Absorb(out)

	patch := tc.StagedPatch()
	require.Equal(t, "v", patch.Facts["k"].Value)
	assert.True(t, patch.Facts["k"].Pinned)

	patch.SetFact("k", "mutated", false)
	patch.AddTags("extra")
	assert.Equal(t, "v", tc.FactValue("k"))
	assert.Equal(t, []string{"tag"}, tc.StagedPatch().Tags)
}

func TestTurnContext_DoneProxiesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tc := NewTurnContext(ctx, "turn-1", NewSession("s", "t"), Message{}, nil)
	assert.NoError(t, tc.Err())
	cancel()
	<-tc.Done()
	assert.ErrorIs(t, tc.Err(), context.Canceled)
}
