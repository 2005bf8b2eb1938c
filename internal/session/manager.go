// Package session manages the lifecycle of prompter sessions. Each session
// owns one alignment tracker and one ingestion queue; the similarity engine
// is shared across sessions to amortize common-word lookups.
//
// The session layer is the "caller" in the tracker's highlight contract: it
// owns the wall clock and schedules the highlight fade as an explicit,
// cancellable timer per highlighted index. All timers are cancelled on stop
// and reset, so no fire-and-forget callback can outlive its session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuepilot/cuepilot/internal/align"
	"github.com/cuepilot/cuepilot/internal/ingest"
	"github.com/cuepilot/cuepilot/internal/observe"
	"github.com/cuepilot/cuepilot/internal/script"
	"github.com/cuepilot/cuepilot/internal/similarity"
)

// DefaultHighlightDuration is how long a matched word stays highlighted
// before the session clears it.
const DefaultHighlightDuration = 1500 * time.Millisecond

// EventKind discriminates outbound stream events.
type EventKind string

const (
	EventMatch     EventKind = "match"
	EventHighlight EventKind = "highlight"
	EventScroll    EventKind = "scroll"
	EventState     EventKind = "state"
)

// Event is one outbound notification delivered to stream subscribers.
// Exactly one payload field is set, according to Kind.
type Event struct {
	Kind        EventKind        `json:"kind"`
	Match       *align.WordMatch `json:"match,omitempty"`
	Highlighted []int            `json:"highlighted,omitempty"`
	ScrollTo    *int             `json:"scroll_to,omitempty"`
	State       *align.Snapshot  `json:"state,omitempty"`
}

// subscriberBuffer is the per-subscriber event channel capacity. A subscriber
// that falls this far behind starts losing events (logged, never blocking
// the alignment path).
const subscriberBuffer = 256

// Session is one prompter session: a tracker, its ingestion queue, and the
// highlight timers. All methods are safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	tracker *align.Tracker
	queue   *ingest.Queue

	highlightDuration time.Duration
	metrics           *observe.Metrics

	mu          sync.Mutex
	timers      map[int]*time.Timer
	subscribers map[chan Event]struct{}
	closed      bool
}

// newSession wires a tracker to a shared scorer and starts its queue.
func newSession(id string, scorer align.Scorer, defaults align.Settings, highlightDuration time.Duration, metrics *observe.Metrics) *Session {
	s := &Session{
		ID:                id,
		CreatedAt:         time.Now().UTC(),
		highlightDuration: highlightDuration,
		metrics:           metrics,
		timers:            make(map[int]*time.Timer),
		subscribers:       make(map[chan Event]struct{}),
	}
	s.tracker = align.New(scorer,
		align.WithSettings(defaults),
		align.WithOnMatch(s.handleMatch),
		align.WithOnHighlight(s.handleHighlight),
		align.WithOnScroll(s.handleScroll),
	)
	s.queue = ingest.New(s)
	return s
}

// ProcessSpokenWord satisfies [ingest.Consumer]: it times the alignment call
// and records match/no-match metrics around the tracker. The queue delivers
// through here so every event is instrumented exactly once.
func (s *Session) ProcessSpokenWord(text string, confidence float64, timestamp int64) (*align.WordMatch, error) {
	start := time.Now()
	m, err := s.tracker.ProcessSpokenWord(text, confidence, timestamp)
	if s.metrics != nil {
		ctx := context.Background()
		s.metrics.ObserveAlignment(ctx, time.Since(start).Seconds())
		if err == nil && m == nil {
			s.metrics.RecordNoMatch(ctx)
		}
	}
	return m, err
}

// LoadScript analyzes text and arms the tracker with it.
func (s *Session) LoadScript(text string) (*script.Analysis, error) {
	return s.tracker.LoadScript(text)
}

// Start begins accepting spoken words.
func (s *Session) Start() error {
	return s.tracker.Start()
}

// Stop halts the session and cancels all pending highlight fades.
func (s *Session) Stop() error {
	if err := s.tracker.Stop(); err != nil {
		return err
	}
	s.queue.Wait()
	s.cancelTimers()
	return nil
}

// Reset returns the session to idle, discarding the script, all alignment
// state, and pending highlight fades.
func (s *Session) Reset() {
	s.tracker.Reset()
	s.cancelTimers()
}

// Push enqueues one spoken-word event. It never blocks on alignment work.
func (s *Session) Push(ev ingest.Event) {
	s.queue.Push(ev)
}

// Drain blocks until all pushed events have been processed. Test hook and
// shutdown aid.
func (s *Session) Drain() {
	s.queue.Wait()
}

// UpdateSettings forwards a validated partial settings change to the tracker.
func (s *Session) UpdateSettings(u align.SettingsUpdate) error {
	return s.tracker.UpdateSettings(u)
}

// State returns a point-in-time copy of the tracker state.
func (s *Session) State() align.Snapshot {
	return s.tracker.State()
}

// Subscribe registers an event channel. The returned cancel function must be
// called when the subscriber goes away.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
	return ch, cancel
}

// close tears the session down: queue, timers, subscribers.
func (s *Session) close() {
	s.queue.Close()
	s.cancelTimers()

	s.mu.Lock()
	s.closed = true
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Event]struct{})
	s.mu.Unlock()
}

// handleMatch fires on every accepted match: publish the event, record
// metrics, and schedule the highlight fade for the matched index.
func (s *Session) handleMatch(m align.WordMatch) {
	if s.metrics != nil {
		s.metrics.RecordMatch(context.Background(), m.IsExact)
	}
	match := m
	s.publish(Event{Kind: EventMatch, Match: &match})
	s.scheduleFade(m.ScriptIndex)
}

func (s *Session) handleHighlight(indices []int) {
	s.publish(Event{Kind: EventHighlight, Highlighted: indices})
}

func (s *Session) handleScroll(index int) {
	idx := index
	s.publish(Event{Kind: EventScroll, ScrollTo: &idx})
}

// scheduleFade arms (or re-arms) the clear-highlight timer for index.
func (s *Session) scheduleFade(index int) {
	if s.highlightDuration <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if prev, ok := s.timers[index]; ok {
		prev.Stop()
	}
	s.timers[index] = time.AfterFunc(s.highlightDuration, func() {
		s.tracker.ClearHighlight(index)
		s.mu.Lock()
		delete(s.timers, index)
		s.mu.Unlock()
	})
}

// cancelTimers stops every pending highlight fade.
func (s *Session) cancelTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx, timer := range s.timers {
		timer.Stop()
		delete(s.timers, idx)
	}
}

// publish delivers ev to all subscribers without blocking the alignment
// path. Slow subscribers lose events rather than stalling the session.
func (s *Session) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Warn("session: subscriber too slow, dropping event",
				"session_id", s.ID,
				"kind", ev.Kind,
			)
		}
	}
}

// Compile-time check that Session can consume the ingestion queue.
var _ ingest.Consumer = (*Session)(nil)

// Manager owns all live sessions and the shared similarity engine.
// All exported methods are safe for concurrent use.
type Manager struct {
	engine            *similarity.Engine
	defaults          align.Settings
	highlightDuration time.Duration
	metrics           *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	nextID   int
}

// ManagerConfig holds the dependencies for a [Manager].
type ManagerConfig struct {
	// Engine is the shared similarity engine. Required.
	Engine *similarity.Engine

	// HighlightDuration is how long matched words stay highlighted.
	// Zero means [DefaultHighlightDuration]; negative disables fading.
	HighlightDuration time.Duration

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics

	// Defaults are the tracker settings new sessions start with.
	// The zero value means [align.DefaultSettings].
	Defaults align.Settings
}

// NewManager creates an empty session registry.
func NewManager(cfg ManagerConfig) *Manager {
	hd := cfg.HighlightDuration
	if hd == 0 {
		hd = DefaultHighlightDuration
	}
	defaults := cfg.Defaults
	if defaults == (align.Settings{}) {
		defaults = align.DefaultSettings()
	}
	return &Manager{
		engine:            cfg.Engine,
		defaults:          defaults,
		highlightDuration: hd,
		metrics:           cfg.Metrics,
		sessions:          make(map[string]*Session),
	}
}

// Create registers a new session and returns it.
func (m *Manager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("session-%d-%s", m.nextID, time.Now().UTC().Format("20060102T150405Z"))
	s := newSession(id, m.engine, m.defaults, m.highlightDuration, m.metrics)
	m.sessions[id] = s

	if m.metrics != nil {
		m.metrics.SessionStarted(context.Background())
	}
	slog.Info("session created", "session_id", id)
	return s
}

// Get returns the session with the given ID, or false when unknown.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete tears down and removes a session. Unknown IDs are a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	if m.metrics != nil {
		m.metrics.SessionEnded(context.Background())
	}
	slog.Info("session deleted", "session_id", id)
}

// Close tears down every session. Called on server shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
