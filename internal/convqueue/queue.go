// ABOUTME: Per-conversation serialization of message-processing jobs.
// ABOUTME: One job in flight per key, FIFO backlog capped at five, idle-state reclamation.

package convqueue

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxBacklog is how many jobs may wait behind the in-flight one
	// for a single conversation. Arrivals beyond it are dropped.
	DefaultMaxBacklog = 5

	// DefaultIdleReclaim is how long an idle key's state lingers before a
	// delayed sweep deletes it.
	DefaultIdleReclaim = 60 * time.Second
)

// Result reports the outcome of an Enqueue call.
type Result struct {
	// Queued is true when the job went into the backlog rather than
	// starting immediately. Position is its 1-based backlog position.
	Queued   bool
	Position int

	// QueueFull is true when the backlog was at capacity and the job was
	// dropped, never stored.
	QueueFull bool
}

// Config tunes queue behavior. Zero values select the defaults.
type Config struct {
	MaxBacklog  int
	IdleReclaim time.Duration
}

type job struct {
	id string
	fn func()
}

// state is the per-key bookkeeping. gen increments on every enqueue and
// fences the delayed reclamation against new arrivals.
type state struct {
	busy         bool
	currentJobID string
	backlog      []job
	gen          uint64
}

// Queue guarantees at most one concurrent job per conversation key with
// strict FIFO ordering of the backlog. Jobs for different keys run fully
// concurrently. Job failures are contained here; surfacing errors to the
// user is the job's own responsibility.
type Queue struct {
	mu     sync.Mutex
	states map[string]*state
	cfg    Config
	logger *slog.Logger
}

// New creates an empty queue.
func New(cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBacklog <= 0 {
		cfg.MaxBacklog = DefaultMaxBacklog
	}
	if cfg.IdleReclaim <= 0 {
		cfg.IdleReclaim = DefaultIdleReclaim
	}
	return &Queue{
		states: make(map[string]*state),
		cfg:    cfg,
		logger: logger.With("component", "convqueue"),
	}
}

// Enqueue submits a job for the key. If the key is idle the job starts
// immediately on its own goroutine and the call returns without waiting
// for it. Otherwise the job joins the backlog, unless the backlog is full,
// in which case it is dropped and QueueFull is reported.
func (q *Queue) Enqueue(key, jobID string, fn func()) Result {
	q.mu.Lock()
	st, ok := q.states[key]
	if !ok {
		st = &state{}
		q.states[key] = st
	}
	st.gen++

	if !st.busy {
		st.busy = true
		st.currentJobID = jobID
		q.mu.Unlock()
		q.spawn(key, st, jobID, fn)
		return Result{}
	}

	if len(st.backlog) >= q.cfg.MaxBacklog {
		q.mu.Unlock()
		q.logger.Warn("conversation backlog full, dropping job",
			"key", key, "job_id", jobID, "backlog", q.cfg.MaxBacklog)
		return Result{QueueFull: true}
	}

	st.backlog = append(st.backlog, job{id: jobID, fn: fn})
	pos := len(st.backlog)
	q.mu.Unlock()
	q.logger.Debug("job queued", "key", key, "job_id", jobID, "position", pos)
	return Result{Queued: true, Position: pos}
}

// spawn runs one job on its own goroutine. The completion continuation
// runs even when the job panics, so the backlog keeps making progress.
func (q *Queue) spawn(key string, st *state, jobID string, fn func()) {
	go func() {
		defer q.finish(key, st)
		defer func() {
			if rec := recover(); rec != nil {
				q.logger.Error("job panicked", "key", key, "job_id", jobID, "panic", rec)
			}
		}()
		fn()
	}()
}

// finish pops the next backlog entry or marks the key idle and schedules
// its reclamation.
func (q *Queue) finish(key string, st *state) {
	q.mu.Lock()
	if q.states[key] != st {
		// The key was reset or replaced while this job ran; the new state
		// is not ours to touch.
		q.mu.Unlock()
		return
	}

	if len(st.backlog) > 0 {
		next := st.backlog[0]
		st.backlog = st.backlog[1:]
		st.currentJobID = next.id
		q.mu.Unlock()
		q.spawn(key, st, next.id, next.fn)
		return
	}

	st.busy = false
	st.currentJobID = ""
	gen := st.gen
	q.mu.Unlock()

	time.AfterFunc(q.cfg.IdleReclaim, func() {
		q.reclaim(key, st, gen)
	})
}

// reclaim deletes the key's state only if it is still the generation that
// scheduled the sweep and still idle and empty. A newer arrival bumps the
// generation and keeps the state alive.
func (q *Queue) reclaim(key string, st *state, gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.states[key]
	if !ok || cur != st {
		return
	}
	if cur.gen != gen || cur.busy || len(cur.backlog) > 0 {
		return
	}
	delete(q.states, key)
	q.logger.Debug("idle conversation state reclaimed", "key", key)
}

// IsProcessing reports whether a job is currently executing for the key.
func (q *Queue) IsProcessing(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[key]
	return ok && st.busy
}

// Len returns the backlog depth for the key (excluding the in-flight job).
func (q *Queue) Len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[key]
	if !ok {
		return 0
	}
	return len(st.backlog)
}

// CurrentJobID returns the id of the executing job for the key, if any.
func (q *Queue) CurrentJobID(key string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[key]
	if !ok || !st.busy {
		return "", false
	}
	return st.currentJobID, true
}

// Reset force-clears the key's backlog and busy flag. Used for timeout
// recovery so a stuck job does not block future messages; the stuck job's
// eventual completion is ignored.
func (q *Queue) Reset(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.states[key]; ok {
		delete(q.states, key)
		q.logger.Warn("conversation queue reset", "key", key)
	}
}

// Cancel clears the key's backlog without touching the active job and
// returns the number of jobs dropped.
func (q *Queue) Cancel(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[key]
	if !ok {
		return 0
	}
	dropped := len(st.backlog)
	st.backlog = nil
	if dropped > 0 {
		q.logger.Info("conversation backlog cancelled", "key", key, "dropped", dropped)
	}
	return dropped
}
