package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/core"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()

	sess := core.NewSession("sess-1", "thread-1")
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, "thread-1", got.ExternalThreadID)
	assert.Equal(t, core.SessionActive, got.Status)
	assert.Equal(t, uint64(0), got.ContextVersion)

	byThread, err := store.GetByThread(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", byThread.ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	_, err = store.GetByThread(ctx, "missing-thread")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestSessionStore_CreateConflictOnLiveThread(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, core.NewSession("sess-1", "thread-1")))
	err := store.Create(ctx, core.NewSession("sess-2", "thread-1"))
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestSessionStore_ThreadRepointsAfterClose(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, core.NewSession("sess-1", "thread-1")))
	_, err := store.Apply(ctx, "sess-1", 0, core.StatusPatch(core.SessionClosed))
	require.NoError(t, err)

	// Terminal session: a fresh one may take over the thread.
	require.NoError(t, store.Create(ctx, core.NewSession("sess-2", "thread-1")))
	got, err := store.GetByThread(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-2", got.ID)
}

func TestSessionStore_ApplyCAS(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, core.NewSession("sess-1", "thread-1")))

	var patch core.ContextPatch
	patch.AddMessage(core.Message{ID: "m1", ConversationID: "sess-1", Body: "hello", Direction: core.DirectionInbound})
	patch.SetFact("intent", "billing", false)
	patch.Touch = true

	version, err := store.Apply(ctx, "sess-1", 0, patch)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	// Stale expected version is rejected.
	_, err = store.Apply(ctx, "sess-1", 0, patch)
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Body)
	assert.Equal(t, "billing", got.FactValue("intent"))
}

func TestSessionStore_SurvivesRoundTrip(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, core.NewSession("sess-1", "thread-1")))

	var patch core.ContextPatch
	patch.SetFact("escalated", "true", true)
	patch.AddTags("escalation_high", "priority_7")
	patch.AddMessage(core.Message{ID: "m1", Body: "help", Direction: core.DirectionInbound, ReceivedAt: time.Now().UTC()})
	_, err := store.Apply(ctx, "sess-1", 0, patch)
	require.NoError(t, err)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	fact, ok := got.GetFact("escalated")
	require.True(t, ok)
	assert.True(t, fact.Pinned)
	assert.Contains(t, got.Tags, "escalation_high")
	assert.Contains(t, got.Tags, "priority_7")
}

func TestSessionStore_Prune(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, core.NewSession("sess-1", "thread-1")))

	version := uint64(0)
	for i := 0; i < 6; i++ {
		var patch core.ContextPatch
		patch.AddMessage(core.Message{ID: core.NewID(), Body: "msg", Direction: core.DirectionInbound})
		v, err := store.Apply(ctx, "sess-1", version, patch)
		require.NoError(t, err)
		version = v
	}

	removed, err := store.Prune(ctx, "sess-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 4)

	// Already within bounds: no-op.
	removed, err = store.Prune(ctx, "sess-1", 4)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSessionStore_List(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, core.NewSession("sess-1", "thread-1")))
	require.NoError(t, store.Create(ctx, core.NewSession("sess-2", "thread-2")))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLedger_AdmitOnce(t *testing.T) {
	ledger := NewLedger(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ledger.Admit(ctx, "msg-1", now))
	assert.ErrorIs(t, ledger.Admit(ctx, "msg-1", now), core.ErrDuplicate)
	assert.ErrorIs(t, ledger.Admit(ctx, "msg-1", now.Add(time.Hour)), core.ErrDuplicate)

	// A different id is unaffected.
	require.NoError(t, ledger.Admit(ctx, "msg-2", now))
}

func TestLedger_TTLReadmission(t *testing.T) {
	ledger := NewLedger(openTestDB(t), func(o *LedgerOptions) { o.TTL = time.Hour })
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ledger.Admit(ctx, "msg-1", now))
	assert.ErrorIs(t, ledger.Admit(ctx, "msg-1", now.Add(30*time.Minute)), core.ErrDuplicate)

	// Past the retention window the id admits again.
	require.NoError(t, ledger.Admit(ctx, "msg-1", now.Add(2*time.Hour)))
}

func TestLedger_Forget(t *testing.T) {
	ledger := NewLedger(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ledger.Admit(ctx, "msg-1", now))
	require.NoError(t, ledger.Forget(ctx, "msg-1"))

	// A forgotten id is admissible again, well within the TTL.
	assert.NoError(t, ledger.Admit(ctx, "msg-1", now.Add(time.Second)))

	// Forgetting an unknown id is a no-op.
	assert.NoError(t, ledger.Forget(ctx, "never-admitted"))
}

func TestLedger_Sweep(t *testing.T) {
	ledger := NewLedger(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ledger.Admit(ctx, "old-1", now.Add(-96*time.Hour)))
	require.NoError(t, ledger.Admit(ctx, "old-2", now.Add(-80*time.Hour)))
	require.NoError(t, ledger.Admit(ctx, "fresh", now))

	removed, err := ledger.Sweep(ctx, now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Swept ids admit again; fresh ones stay deduplicated.
	require.NoError(t, ledger.Admit(ctx, "old-1", now))
	assert.ErrorIs(t, ledger.Admit(ctx, "fresh", now), core.ErrDuplicate)
}
