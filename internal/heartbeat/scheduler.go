// ABOUTME: Per-stream heartbeat timers that keep slow replies visibly alive.
// ABOUTME: Writes rotating placeholder content until real output appears or a deadline fires.

package heartbeat

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/wecom-gateway/internal/stream"
)

const (
	// DefaultTick is how often a heartbeat inspects and refreshes its stream.
	DefaultTick = 3 * time.Second

	// DefaultDeadline bounds how long a stream may stay in heartbeat mode
	// before it is forcibly finalized.
	DefaultDeadline = 60 * time.Second

	// DefaultPhraseRotation is roughly how long each placeholder phrase is
	// shown before cycling to the next.
	DefaultPhraseRotation = 10 * time.Second

	maxDots = 4
)

// phrases are the placeholder messages cycled while the reply is being
// generated. IsPlaceholder recognizes exactly these, so the heartbeat can
// tell its own writes apart from real producer output.
var phrases = []string{"Thinking", "Analyzing", "Processing", "Generating"}

// StreamStore is the slice of the stream registry the scheduler needs.
type StreamStore interface {
	Get(id string) (stream.Snapshot, bool)
	Update(id, content string, finished bool, items []stream.AttachmentItem) bool
}

// Config tunes heartbeat timing. Zero values select the defaults; tests
// use short intervals.
type Config struct {
	Tick           time.Duration
	Deadline       time.Duration
	PhraseRotation time.Duration
}

// Scheduler runs one heartbeat per actively generated stream. Each
// heartbeat overwrites the stream's whole content with a placeholder so
// ticks never accumulate duplicate text, and latches off permanently the
// first time it observes content that is not its own placeholder.
type Scheduler struct {
	mu     sync.Mutex
	runs   map[string]*run
	store  StreamStore
	cfg    Config
	logger *slog.Logger
}

type run struct {
	startedAt time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once

	// hasReal and ticks are touched only by the run's own goroutine.
	hasReal bool
	ticks   int
}

// New creates a scheduler writing through the given store.
func New(store StreamStore, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.PhraseRotation <= 0 {
		cfg.PhraseRotation = DefaultPhraseRotation
	}
	return &Scheduler{
		runs:   make(map[string]*run),
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "heartbeat"),
	}
}

// Start begins a heartbeat for the stream and returns a cancel function.
// Starting an id that is already running is a no-op returning a cancel for
// the existing run. onTimeout is invoked at most once, when the deadline
// elapses with the stream still unfinished.
func (s *Scheduler) Start(id string, onTimeout func(id string)) func() {
	s.mu.Lock()
	if _, exists := s.runs[id]; exists {
		s.mu.Unlock()
		return func() { s.Stop(id) }
	}
	r := &run{
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}
	s.runs[id] = r
	s.mu.Unlock()

	go s.loop(id, r, onTimeout)
	return func() { s.Stop(id) }
}

func (s *Scheduler) loop(id string, r *run, onTimeout func(id string)) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if s.tick(id, r, onTimeout) {
				return
			}
		}
	}
}

// tick runs one heartbeat step and reports whether the run is done.
func (s *Scheduler) tick(id string, r *run, onTimeout func(id string)) bool {
	elapsed := time.Since(r.startedAt)
	if elapsed >= s.cfg.Deadline {
		s.remove(id, r)
		s.logger.Warn("heartbeat deadline elapsed", "stream_id", id, "elapsed", elapsed)
		if onTimeout != nil {
			onTimeout(id)
		}
		return true
	}

	snap, ok := s.store.Get(id)
	if !ok || snap.Finished {
		s.remove(id, r)
		s.logger.Debug("heartbeat self-stopped", "stream_id", id, "exists", ok)
		return true
	}

	if snap.Content != "" && !IsPlaceholder(snap.Content) {
		// Real output has landed. Stop writing but keep watching so the
		// run still self-stops on completion or disappearance.
		if !r.hasReal {
			r.hasReal = true
			s.logger.Debug("heartbeat observed real content", "stream_id", id)
		}
		return false
	}
	if r.hasReal {
		return false
	}

	r.ticks++
	s.store.Update(id, placeholderAt(elapsed, r.ticks, s.cfg.PhraseRotation), false, nil)
	return false
}

// placeholderAt builds the rotating placeholder: the phrase cycles on the
// rotation period and the dot count advances every tick.
func placeholderAt(elapsed time.Duration, ticks int, rotation time.Duration) string {
	phrase := phrases[int(elapsed/rotation)%len(phrases)]
	dots := (ticks-1)%maxDots + 1
	return phrase + strings.Repeat(".", dots)
}

// IsPlaceholder reports whether content is one of the heartbeat's own
// placeholder messages: a known phrase followed by one to four dots.
func IsPlaceholder(content string) bool {
	for _, phrase := range phrases {
		if !strings.HasPrefix(content, phrase) {
			continue
		}
		rest := content[len(phrase):]
		if len(rest) < 1 || len(rest) > maxDots {
			continue
		}
		if rest == strings.Repeat(".", len(rest)) {
			return true
		}
	}
	return false
}

// remove drops the run if it is still the registered one for id.
func (s *Scheduler) remove(id string, r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[id] == r {
		delete(s.runs, id)
	}
}

// Stop cancels the heartbeat for a stream. Idempotent; returns false when
// nothing was running.
func (s *Scheduler) Stop(id string) bool {
	s.mu.Lock()
	r, ok := s.runs[id]
	if ok {
		delete(s.runs, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	return true
}

// Has reports whether a heartbeat is registered for the stream.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[id]
	return ok
}

// Clear stops every heartbeat; used at shutdown.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	runs := s.runs
	s.runs = make(map[string]*run)
	s.mu.Unlock()

	for _, r := range runs {
		r.stopOnce.Do(func() { close(r.stopCh) })
	}
}
