// ABOUTME: In-memory registry of in-flight and completed reply streams.
// ABOUTME: Owns content accumulation, truncation, attachment finalization, and expiry.

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// MaxContentBytes is the platform's cap on stream content, measured in
	// UTF-8 bytes. Writes beyond it are truncated, never rejected.
	MaxContentBytes = 20480

	// MaxAttachmentItems is the platform's cap on finalized attachments.
	MaxAttachmentItems = 10

	// MaxFeedbackBytes caps the opaque feedback tracking token.
	MaxFeedbackBytes = 256

	// DefaultExpiry is how long an idle stream survives before the sweep
	// reclaims it.
	DefaultExpiry = 10 * time.Minute

	defaultSweepInterval = time.Minute
)

// AttachmentItem is a finalized attachment ready to embed in a reply.
type AttachmentItem struct {
	Type     string
	Payload  string // base64-encoded content
	Checksum string
}

// AttachmentSource references content queued for finalization when the
// stream finishes.
type AttachmentSource struct {
	Kind     string
	URL      string
	QueuedAt time.Time
}

// AttachmentPreparer converts a queued source into an embeddable item.
// Implementations validate size and format; a per-item error skips that
// item without aborting the rest of the finalize.
type AttachmentPreparer interface {
	Prepare(ctx context.Context, src AttachmentSource) (AttachmentItem, error)
}

// Snapshot is a point-in-time copy of one stream's visible state.
type Snapshot struct {
	ID              string
	Content         string
	Finished        bool
	UpdatedAt       time.Time
	FeedbackID      string
	AttachmentItems []AttachmentItem
}

// record is the registry-owned mutable state for one stream.
type record struct {
	content    string
	finished   bool
	finalizing bool
	updatedAt  time.Time
	feedbackID string
	items      []AttachmentItem
	pending    []AttachmentSource
}

// Config tunes registry timing. Zero values select the defaults.
type Config struct {
	Expiry        time.Duration
	SweepInterval time.Duration
}

// Registry is the single source of truth for all reply streams. All
// operations are safe for concurrent use from timer and handler contexts;
// per-id misses report false rather than erroring.
//
// The expiry sweeper starts lazily on the first mutation, never as a side
// effect of construction, and Close stops it for clean shutdown.
type Registry struct {
	mu       sync.Mutex
	streams  map[string]*record
	preparer AttachmentPreparer
	expiry   time.Duration
	sweep    time.Duration
	logger   *slog.Logger

	sweepOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewRegistry creates an empty registry. The preparer may be nil, in which
// case pending attachments are dropped at finalize with a warning.
func NewRegistry(preparer AttachmentPreparer, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Registry{
		streams:  make(map[string]*record),
		preparer: preparer,
		expiry:   cfg.Expiry,
		sweep:    cfg.SweepInterval,
		logger:   logger.With("component", "stream-registry"),
		done:     make(chan struct{}),
	}
}

// Create inserts a new stream with empty content. A prior record under the
// same id is overwritten; id collisions are a caller error.
func (r *Registry) Create(id, feedbackID string) {
	r.ensureSweeper()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = &record{
		feedbackID: truncateUTF8(feedbackID, MaxFeedbackBytes),
		updatedAt:  time.Now(),
	}
}

// Update replaces the stream's content wholesale and sets its finished
// flag. When finishing with a non-empty items list, up to the first
// MaxAttachmentItems entries are stored. Returns false for unknown ids and
// for streams that already finished: the finished flag is monotonic, so a
// straggler write after a timeout finalize is a safe no-op.
func (r *Registry) Update(id, content string, finished bool, items []AttachmentItem) bool {
	r.ensureSweeper()

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.streams[id]
	if !ok || rec.finished {
		return false
	}
	rec.content = r.truncateContent(id, content)
	rec.finished = finished
	if finished && len(items) > 0 {
		if len(items) > MaxAttachmentItems {
			items = items[:MaxAttachmentItems]
		}
		rec.items = items
	}
	rec.updatedAt = time.Now()
	return true
}

// Append concatenates a chunk onto the stream's content, applying the same
// truncation rule as Update. Returns false for unknown or finished streams.
func (r *Registry) Append(id, chunk string) bool {
	r.ensureSweeper()

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.streams[id]
	if !ok || rec.finished {
		return false
	}
	rec.content = r.truncateContent(id, rec.content+chunk)
	rec.updatedAt = time.Now()
	return true
}

// SetFeedback records the opaque tracking token for a stream. Last write
// wins; the token is capped at MaxFeedbackBytes.
func (r *Registry) SetFeedback(id, feedbackID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.streams[id]
	if !ok {
		return false
	}
	rec.feedbackID = truncateUTF8(feedbackID, MaxFeedbackBytes)
	rec.updatedAt = time.Now()
	return true
}

// QueueAttachment records a source reference for finalization when the
// stream finishes. Returns false for unknown or finished streams.
func (r *Registry) QueueAttachment(id string, src AttachmentSource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.streams[id]
	if !ok || rec.finished {
		return false
	}
	src.QueuedAt = time.Now()
	rec.pending = append(rec.pending, src)
	rec.updatedAt = time.Now()
	return true
}

// Finish marks the stream finished, finalizing any pending attachments
// first. A second Finish returns false and leaves state unchanged, which
// guarantees attachment finalization runs at most once per stream.
func (r *Registry) Finish(ctx context.Context, id string) bool {
	r.mu.Lock()
	rec, ok := r.streams[id]
	if !ok || rec.finished || rec.finalizing {
		r.mu.Unlock()
		return false
	}
	pending := rec.pending
	rec.pending = nil
	rec.finalizing = true
	r.mu.Unlock()

	// Preparation hits external collaborators, so it runs outside the lock.
	items := r.finalizeAttachments(ctx, id, pending)

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok = r.streams[id]
	if !ok {
		return false
	}
	rec.items = items
	rec.finalizing = false
	rec.finished = true
	rec.updatedAt = time.Now()
	return true
}

// finalizeAttachments prepares pending sources in enqueue order. Per-item
// failures are logged and skipped; preparation stops once
// MaxAttachmentItems items have succeeded.
func (r *Registry) finalizeAttachments(ctx context.Context, id string, pending []AttachmentSource) []AttachmentItem {
	if len(pending) == 0 {
		return nil
	}
	if r.preparer == nil {
		r.logger.Warn("no attachment preparer configured, dropping pending attachments",
			"stream_id", id, "pending", len(pending))
		return nil
	}

	var items []AttachmentItem
	for i, src := range pending {
		if len(items) >= MaxAttachmentItems {
			r.logger.Warn("attachment cap reached, skipping remaining sources",
				"stream_id", id, "skipped", len(pending)-i)
			break
		}
		item, err := r.preparer.Prepare(ctx, src)
		if err != nil {
			r.logger.Error("attachment preparation failed, skipping item",
				"stream_id", id, "kind", src.Kind, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items
}

// Get returns a copy of the stream's visible state.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.streams[id]
	if !ok {
		return Snapshot{}, false
	}
	snap := Snapshot{
		ID:         id,
		Content:    rec.content,
		Finished:   rec.finished,
		UpdatedAt:  rec.updatedAt,
		FeedbackID: rec.feedbackID,
	}
	if len(rec.items) > 0 {
		snap.AttachmentItems = append([]AttachmentItem(nil), rec.items...)
	}
	return snap, ok
}

// Exists reports whether a stream is present.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[id]
	return ok
}

// Delete removes a stream, reporting whether it was present.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[id]
	delete(r.streams, id)
	return ok
}

// Len reports the number of live streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// SweepExpired removes every stream idle longer than the expiry window and
// returns the count removed. Streams mid-finalization are left alone.
func (r *Registry) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.streams {
		if rec.finalizing {
			continue
		}
		if now.Sub(rec.updatedAt) > r.expiry {
			delete(r.streams, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("swept expired streams", "removed", removed, "remaining", len(r.streams))
	}
	return removed
}

// ensureSweeper starts the background sweep loop on first registry
// activity.
func (r *Registry) ensureSweeper() {
	r.sweepOnce.Do(func() {
		go r.sweepLoop()
	})
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.SweepExpired(now)
		case <-r.done:
			return
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times, and
// safe even if the sweeper never started.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		// Burn the sync.Once so a post-Close mutation cannot start a
		// sweeper with nobody left to stop it.
		r.sweepOnce.Do(func() {})
		close(r.done)
	})
}

// truncateContent enforces the wire cap, logging when data is lost.
// Truncation is silent data loss by design; the platform rejects longer
// content outright.
func (r *Registry) truncateContent(id, content string) string {
	if len(content) <= MaxContentBytes {
		return content
	}
	truncated := truncateUTF8(content, MaxContentBytes)
	r.logger.Warn("stream content truncated to wire cap",
		"stream_id", id, "original_bytes", len(content), "kept_bytes", len(truncated))
	return truncated
}

// truncateUTF8 cuts s to at most limit bytes without splitting a
// multi-byte code point, scanning backward to the nearest rune boundary.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
