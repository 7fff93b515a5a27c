// ABOUTME: Tests for the stream registry.
// ABOUTME: Covers truncation, attachment finalization, finish idempotency, and expiry.

package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePreparer records calls and fails for sources whose URL contains
// "fail".
type fakePreparer struct {
	calls []AttachmentSource
}

func (f *fakePreparer) Prepare(_ context.Context, src AttachmentSource) (AttachmentItem, error) {
	f.calls = append(f.calls, src)
	if strings.Contains(src.URL, "fail") {
		return AttachmentItem{}, errors.New("unreachable source")
	}
	return AttachmentItem{Type: src.Kind, Payload: "cGF5bG9hZA==", Checksum: "abc123"}, nil
}

func newTestRegistry(prep AttachmentPreparer) *Registry {
	return NewRegistry(prep, Config{}, nil)
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", "")

	snap, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", snap.ID)
	assert.Empty(t, snap.Content)
	assert.False(t, snap.Finished)
	assert.WithinDuration(t, time.Now(), snap.UpdatedAt, time.Second)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_CreateOverwrites(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.Update("s1", "old content", false, nil))

	r.Create("s1", "")
	snap, ok := r.Get("s1")
	require.True(t, ok)
	assert.Empty(t, snap.Content)
}

func TestRegistry_UpdateReplacesContent(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.Update("s1", "first", false, nil))
	require.True(t, r.Update("s1", "second", false, nil))

	snap, _ := r.Get("s1")
	assert.Equal(t, "second", snap.Content)
}

func TestRegistry_UpdateUnknownID(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	assert.False(t, r.Update("nope", "content", false, nil))
	assert.False(t, r.Append("nope", "chunk"))
	assert.False(t, r.QueueAttachment("nope", AttachmentSource{URL: "http://x"}))
}

func TestRegistry_UpdateAfterFinishIsNoOp(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.Update("s1", "final answer", true, nil))

	// A straggler write from an abandoned producer must not revert state.
	assert.False(t, r.Update("s1", "late write", false, nil))
	assert.False(t, r.Append("s1", "late chunk"))

	snap, _ := r.Get("s1")
	assert.True(t, snap.Finished)
	assert.Equal(t, "final answer", snap.Content)
}

func TestRegistry_TruncationInvariant(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	// Multi-byte runes positioned so the byte cap lands mid-codepoint.
	big := strings.Repeat("好", MaxContentBytes) // 3 bytes each

	r.Create("s1", "")
	require.True(t, r.Update("s1", big, false, nil))

	snap, _ := r.Get("s1")
	assert.LessOrEqual(t, len(snap.Content), MaxContentBytes)
	assert.True(t, utf8.ValidString(snap.Content), "truncation must not split a code point")
	assert.Greater(t, len(snap.Content), MaxContentBytes-utf8.UTFMax)
}

func TestRegistry_AppendTruncates(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.Append("s1", strings.Repeat("a", MaxContentBytes-1)))
	require.True(t, r.Append("s1", "世界"))

	snap, _ := r.Get("s1")
	assert.LessOrEqual(t, len(snap.Content), MaxContentBytes)
	assert.True(t, utf8.ValidString(snap.Content))
	assert.True(t, strings.HasPrefix(snap.Content, "aaa"))
}

func TestRegistry_AppendAccumulates(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.Append("s1", "hello "))
	require.True(t, r.Append("s1", "world"))

	snap, _ := r.Get("s1")
	assert.Equal(t, "hello world", snap.Content)
}

func TestRegistry_FeedbackCapped(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", strings.Repeat("f", MaxFeedbackBytes+100))
	snap, _ := r.Get("s1")
	assert.Len(t, snap.FeedbackID, MaxFeedbackBytes)

	// Last write wins.
	require.True(t, r.SetFeedback("s1", "fb-2"))
	snap, _ = r.Get("s1")
	assert.Equal(t, "fb-2", snap.FeedbackID)
}

func TestRegistry_FinishIdempotent(t *testing.T) {
	prep := &fakePreparer{}
	r := newTestRegistry(prep)
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.QueueAttachment("s1", AttachmentSource{Kind: "image", URL: "http://img/1"}))

	assert.True(t, r.Finish(context.Background(), "s1"))
	assert.False(t, r.Finish(context.Background(), "s1"), "second finish must be a no-op")

	// Finalization ran exactly once.
	assert.Len(t, prep.calls, 1)

	snap, _ := r.Get("s1")
	assert.True(t, snap.Finished)
	assert.Len(t, snap.AttachmentItems, 1)
}

func TestRegistry_FinishUnknownID(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	assert.False(t, r.Finish(context.Background(), "missing"))
}

func TestRegistry_FinalizeSkipsFailedItems(t *testing.T) {
	prep := &fakePreparer{}
	r := newTestRegistry(prep)
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.QueueAttachment("s1", AttachmentSource{Kind: "image", URL: "http://img/ok-1"}))
	require.True(t, r.QueueAttachment("s1", AttachmentSource{Kind: "image", URL: "http://img/fail"}))
	require.True(t, r.QueueAttachment("s1", AttachmentSource{Kind: "image", URL: "http://img/ok-2"}))

	require.True(t, r.Finish(context.Background(), "s1"))

	// The failing item is skipped, the rest survive in enqueue order.
	snap, _ := r.Get("s1")
	assert.Len(t, snap.AttachmentItems, 2)
	assert.Len(t, prep.calls, 3)
	assert.Equal(t, "http://img/ok-1", prep.calls[0].URL)
	assert.Equal(t, "http://img/fail", prep.calls[1].URL)
	assert.Equal(t, "http://img/ok-2", prep.calls[2].URL)
}

func TestRegistry_FinalizeStopsAtCap(t *testing.T) {
	prep := &fakePreparer{}
	r := newTestRegistry(prep)
	defer r.Close()

	r.Create("s1", "")
	for i := 0; i < MaxAttachmentItems+5; i++ {
		require.True(t, r.QueueAttachment("s1", AttachmentSource{
			Kind: "image",
			URL:  fmt.Sprintf("http://img/%d", i),
		}))
	}

	require.True(t, r.Finish(context.Background(), "s1"))

	snap, _ := r.Get("s1")
	assert.Len(t, snap.AttachmentItems, MaxAttachmentItems)
	// Preparation stops once the cap is reached; the surplus is never attempted.
	assert.Len(t, prep.calls, MaxAttachmentItems)
}

func TestRegistry_FinishWithoutAttachments(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.Append("s1", "answer"))
	require.True(t, r.Finish(context.Background(), "s1"))

	snap, _ := r.Get("s1")
	assert.True(t, snap.Finished)
	assert.Equal(t, "answer", snap.Content)
	assert.Empty(t, snap.AttachmentItems)
}

func TestRegistry_QueueAttachmentAfterFinish(t *testing.T) {
	r := newTestRegistry(&fakePreparer{})
	defer r.Close()

	r.Create("s1", "")
	require.True(t, r.Finish(context.Background(), "s1"))
	assert.False(t, r.QueueAttachment("s1", AttachmentSource{URL: "http://late"}))
}

func TestRegistry_Delete(t *testing.T) {
	r := newTestRegistry(nil)
	defer r.Close()

	r.Create("s1", "")
	assert.True(t, r.Exists("s1"))
	assert.True(t, r.Delete("s1"))
	assert.False(t, r.Exists("s1"))
	assert.False(t, r.Delete("s1"))
}

func TestRegistry_SweepExpired(t *testing.T) {
	r := NewRegistry(nil, Config{Expiry: 50 * time.Millisecond}, nil)
	defer r.Close()

	r.Create("old", "")
	time.Sleep(60 * time.Millisecond)
	r.Create("fresh", "")

	removed := r.SweepExpired(time.Now())
	assert.Equal(t, 1, removed)
	assert.False(t, r.Exists("old"))
	assert.True(t, r.Exists("fresh"))
}

func TestRegistry_SweepKeepsActive(t *testing.T) {
	r := NewRegistry(nil, Config{Expiry: 100 * time.Millisecond}, nil)
	defer r.Close()

	r.Create("s1", "")
	time.Sleep(60 * time.Millisecond)
	require.True(t, r.Append("s1", "still here"))
	time.Sleep(60 * time.Millisecond)

	// Updated more recently than the window, so it survives.
	assert.Equal(t, 0, r.SweepExpired(time.Now()))
	assert.True(t, r.Exists("s1"))
}

func TestRegistry_BackgroundSweepRuns(t *testing.T) {
	r := NewRegistry(nil, Config{Expiry: 20 * time.Millisecond, SweepInterval: 25 * time.Millisecond}, nil)
	defer r.Close()

	r.Create("s1", "")
	assert.Eventually(t, func() bool {
		return !r.Exists("s1")
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_CloseIdempotent(t *testing.T) {
	r := newTestRegistry(nil)
	r.Create("s1", "")
	r.Close()
	r.Close()
}
