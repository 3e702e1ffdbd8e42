package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rahul/dealdesk/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SessionStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db, 0, nil)
}

func TestSessionStore_LoadUnknownIsEmpty(t *testing.T) {
	s := openTestDB(t)
	sess, err := s.Load(context.Background(), "telegram:42")
	require.NoError(t, err)
	assert.Equal(t, "telegram:42", sess.ID)
	assert.Empty(t, sess.Turns)
	assert.Empty(t, sess.EntityRef)
}

func TestSessionStore_RoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	sess := &Session{
		ID:                   "s1",
		EntityRef:            "prop-1",
		LastExecutor:         "intake",
		AwaitingConfirmation: true,
		PendingAction:        "finalize_deal",
		Turns: []Turn{
			{Role: RoleUser, Content: "asking 30k market 50k"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "submit_valuation", Arguments: `{"asking_price":30000}`}}},
			{Role: RoleToolResult, ToolCallID: "c1", ToolName: "submit_valuation", Content: `{"ok":true}`},
			{Role: RoleAssistant, Content: "Recorded."},
		},
	}
	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "prop-1", got.EntityRef)
	assert.Equal(t, "intake", got.LastExecutor)
	assert.True(t, got.AwaitingConfirmation)
	assert.Equal(t, "finalize_deal", got.PendingAction)
	require.Len(t, got.Turns, 4)
	assert.Equal(t, "submit_valuation", got.Turns[1].ToolCalls[0].Name)
	assert.Equal(t, "c1", got.Turns[2].ToolCallID)

	// A second save replaces the history rather than appending to it.
	got.Turns = append(got.Turns, Turn{Role: RoleUser, Content: "thanks"})
	require.NoError(t, s.Save(ctx, got))
	again, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, again.Turns, 5)
}

func TestSessionStore_LoadTruncatesWithoutSplittingBlocks(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	s := NewSessionStore(db, 3, nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Session{ID: "s1", Turns: []Turn{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "list_properties"}}},
		{Role: RoleToolResult, ToolCallID: "c1", Content: "[]"},
		{Role: RoleToolResult, ToolCallID: "c1b", Content: "orphan"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "hello"},
	}}))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	for _, turn := range got.Turns {
		assert.NotEqual(t, RoleToolResult, turn.Role)
	}
	assert.Equal(t, "second", got.Turns[0].Content)
}

func TestSessionStore_DeleteIdle(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &Session{ID: "old", Turns: []Turn{{Role: RoleUser, Content: "hi"}}}))

	n, err := s.DeleteIdle(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteIdle(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSanitize(t *testing.T) {
	in := []Turn{
		{Role: RoleToolResult, ToolCallID: "x", Content: "orphan at head"},
		{Role: RoleUser, Content: "go"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a"}, {ID: "b"}}},
		{Role: RoleToolResult, ToolCallID: "a", Content: "ok"},
		{Role: RoleUser, Content: "interrupt"},
		{Role: RoleToolResult, ToolCallID: "b", Content: "late"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c"}}},
	}
	out, dropped := Sanitize(in)
	assert.Equal(t, 4, dropped)
	require.Len(t, out, 4)
	assert.Equal(t, RoleUser, out[0].Role)
	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "a", out[1].ToolCalls[0].ID)
	assert.Equal(t, "a", out[2].ToolCallID)
	assert.Equal(t, "interrupt", out[3].Content)

	// The input is not modified.
	assert.Len(t, in[2].ToolCalls, 2)
}

func TestTruncate(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser}, {Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a"}}},
		{Role: RoleToolResult, ToolCallID: "a"}, {Role: RoleAssistant}, {Role: RoleUser},
	}
	got := Truncate(turns, 3)
	require.Len(t, got, 2)
	assert.Equal(t, RoleAssistant, got[0].Role)
	assert.Len(t, Truncate(turns, 10), 5)
}

func TestPropertyRepo_CRUDAndOptimisticLock(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := NewPropertyRepo(db)
	ctx := context.Background()

	p, err := repo.Create(ctx, workflow.Property{Name: "12 Elm St"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, workflow.StageAwaitingInputs, p.Stage)
	assert.Equal(t, int64(1), p.Version)

	found, err := repo.FindByName(ctx, "12 elm st")
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)
	assert.Nil(t, found.AskingPrice)
	assert.Empty(t, found.Defects)

	update := *found
	update.AskingPrice = workflow.Float(30000)
	update.MarketValue = workflow.Float(50000)
	update.Stage = workflow.StageRulePassed1
	saved, err := repo.Update(ctx, update, workflow.StageAwaitingInputs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	// A writer holding the old version loses.
	stale := *found
	stale.AskingPrice = workflow.Float(1)
	_, err = repo.Update(ctx, stale, workflow.StageAwaitingInputs)
	assert.True(t, errors.Is(err, ErrOptimisticLock))

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 30000.0, *got.AskingPrice)
	assert.Equal(t, workflow.StageRulePassed1, got.Stage)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, p.ID))
	_, err = repo.Get(ctx, p.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(repo.Delete(ctx, p.ID), ErrNotFound))

	_, err = repo.Update(ctx, update, workflow.StageAwaitingInputs)
	assert.True(t, errors.Is(err, ErrNotFound))
}
