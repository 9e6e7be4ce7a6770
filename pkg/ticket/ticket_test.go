package ticket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/llms"
	"github.com/reelix-ai/reelix/pkg/store"
	"github.com/reelix-ai/reelix/pkg/why"
)

func testTicket(userID string) *Ticket {
	return &Ticket{
		UserID: userID,
		Prompts: why.PromptsEnvelope{
			Model:  "gpt-4o-mini",
			Params: map[string]interface{}{"temperature": 0.7},
			Output: why.OutputSpec{Format: why.OutputFormatJSONL},
			Calls: []why.Call{{
				CallID: "1",
				Messages: []llms.Message{
					{Role: llms.RoleSystem, Content: "explain each candidate"},
					{Role: llms.RoleUser, Content: "mind-bending sci-fi"},
				},
				ItemsBrief: []why.ItemBrief{{MediaID: 603, Title: "The Matrix", ReleaseYear: 1999}},
			}},
			PromptHash: "abc123",
		},
		Meta: map[string]interface{}{"num_items": 1},
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	require.NoError(t, s.Put(ctx, "q-1", testTicket("user-1")))

	got, err := s.Get(ctx, "q-1", true)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.False(t, got.CreatedAt.IsZero(), "Put should stamp created_at")

	require.Len(t, got.Prompts.Calls, 1)
	call := got.Prompts.Calls[0]
	assert.Equal(t, "1", call.CallID)
	assert.Equal(t, llms.RoleSystem, call.Messages[0].Role)
	assert.Equal(t, int64(603), call.ItemsBrief[0].MediaID)
	assert.Equal(t, "abc123", got.Prompts.PromptHash)
}

func TestGet_Miss(t *testing.T) {
	s := NewMemoryStore(nil)

	_, err := s.Get(context.Background(), "nope", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_AbsoluteCapExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	old := testTicket("user-1")
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour) // cap is 60 minutes
	require.NoError(t, s.Put(ctx, "q-old", old))

	_, err := s.Get(ctx, "q-old", false)
	assert.ErrorIs(t, err, ErrNotFound)

	// A second read confirms the key was evicted, not just rejected.
	_, err = s.Get(ctx, "q-old", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

type brokenKV struct{ store.KV }

func (brokenKV) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func TestGet_BackendFailureReadsAsMiss(t *testing.T) {
	var cfg config.MemoryConfig
	cfg.SetDefaults()
	s := NewStore(brokenKV{}, cfg, nil)

	_, err := s.Get(context.Background(), "q-1", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthorize(t *testing.T) {
	tk := testTicket("user-1")

	assert.NoError(t, tk.Authorize("user-1"))
	assert.ErrorIs(t, tk.Authorize("user-2"), ErrForbidden)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Put(ctx, "q-1", testTicket("user-1")))

	ok := s.Update(ctx, "q-1", func(tk *Ticket) {
		tk.Meta["served_batches"] = 1
	})
	require.True(t, ok)

	got, err := s.Get(ctx, "q-1", false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Meta["served_batches"])
}

func TestUpdate_MissingTicket(t *testing.T) {
	s := NewMemoryStore(nil)

	ok := s.Update(context.Background(), "gone", func(tk *Ticket) {})
	assert.False(t, ok, "Update on a missing ticket must not create one")
}

func TestTouchAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Put(ctx, "q-1", testTicket("user-1")))

	assert.NoError(t, s.Touch(ctx, "q-1"))
	require.NoError(t, s.Delete(ctx, "q-1"))

	_, err := s.Get(ctx, "q-1", false)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Touch(ctx, "q-1"), "touch after delete should report the miss")
}

func TestGet_UndecodableEvicted(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	var cfg config.MemoryConfig
	cfg.SetDefaults()
	s := NewStore(kv, cfg, nil)

	require.NoError(t, kv.Set(ctx, "reelix:ticket:q-bad", []byte("not json"), 0))

	_, err := s.Get(ctx, "q-bad", false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = kv.Get(ctx, "reelix:ticket:q-bad")
	assert.ErrorIs(t, err, store.ErrNotFound, "poisoned key should be deleted")
}
