// Package align implements the real-time speech-to-script alignment tracker:
// a per-session state machine that holds the playhead position in an analyzed
// script, matches incoming spoken words against a bounded window of script
// words, and emits match, highlight and scroll events.
//
// A Tracker owns its mutable state exclusively. All methods are safe for
// concurrent use, but spoken words must be delivered in arrival order (see
// the ingest package) — the tracker never reorders or buffers them.
package align

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuepilot/cuepilot/internal/script"
)

// State is the lifecycle state of a [Tracker].
type State int

const (
	// StateIdle means no script is loaded.
	StateIdle State = iota

	// StateReady means a script is loaded but the session has not started.
	StateReady

	// StateActive means the tracker is accepting spoken-word events.
	StateActive
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Sentinel errors distinguishing state and configuration failures from the
// ordinary no-match result, which is (nil, nil).
var (
	// ErrNotActive is returned by ProcessSpokenWord when the tracker is not
	// in [StateActive].
	ErrNotActive = errors.New("align: tracker is not active")

	// ErrSessionActive is returned by LoadScript while a session is running.
	ErrSessionActive = errors.New("align: session is active; stop it before loading a script")

	// ErrNoScript is returned by Start when no script has been loaded.
	ErrNoScript = errors.New("align: no script loaded")
)

const (
	// maxWindowWidth caps the search window half-width.
	maxWindowWidth = 20

	// windowDivisor sets the fraction of the script used for the window
	// half-width (one tenth).
	windowDivisor = 10

	// DefaultMatchThreshold is the minimum combined similarity a fuzzy
	// candidate needs to be accepted.
	DefaultMatchThreshold = 0.7
)

// Scorer computes a [0, 1] similarity between two normalized words.
// *similarity.Engine satisfies it.
type Scorer interface {
	Similarity(a, b string) float64
}

// WordMatch records one accepted pairing of a spoken word with a script word.
// Values are never mutated after creation.
type WordMatch struct {
	// ScriptIndex is the matched word's index into the script.
	ScriptIndex int `json:"script_index"`

	// ScriptWord is the matched script word's display form.
	ScriptWord string `json:"script_word"`

	// SpokenWord is the recognized spoken word as received.
	SpokenWord string `json:"spoken_word"`

	// Confidence is the transcription confidence supplied by the caller.
	Confidence float64 `json:"confidence"`

	// Timestamp is the event arrival time in milliseconds since the
	// stream's epoch.
	Timestamp int64 `json:"timestamp"`

	// IsExact reports whether the normalized forms were identical.
	IsExact bool `json:"is_exact"`

	// Similarity is the combined similarity score (1.0 for exact matches).
	Similarity float64 `json:"similarity"`
}

// Settings holds the tracker's runtime configuration.
type Settings struct {
	// MatchThreshold gates fuzzy-match acceptance. Must lie in [0, 1].
	MatchThreshold float64

	// SearchWindowOverride, when > 0, replaces the computed window
	// half-width.
	SearchWindowOverride int

	// AutoScroll gates emission of scroll events on accepted matches.
	AutoScroll bool
}

// DefaultSettings returns the documented defaults: threshold 0.7, computed
// window, auto-scroll on.
func DefaultSettings() Settings {
	return Settings{
		MatchThreshold: DefaultMatchThreshold,
		AutoScroll:     true,
	}
}

// SettingsUpdate is a partial settings change. Nil fields keep their current
// values. Invalid updates are rejected as a whole; the previous configuration
// is retained.
type SettingsUpdate struct {
	MatchThreshold       *float64 `json:"match_threshold"`
	SearchWindowOverride *int     `json:"search_window_override"`
	AutoScroll           *bool    `json:"auto_scroll"`
}

// Snapshot is a point-in-time copy of the tracker's alignment state. It
// shares no memory with the tracker and is safe to retain.
type Snapshot struct {
	State           State       `json:"-"`
	StateName       string      `json:"state"`
	CurrentIndex    int         `json:"current_index"`
	CurrentSentence int         `json:"current_sentence"`
	Highlighted     []int       `json:"highlighted"`
	MatchHistory    []WordMatch `json:"match_history"`
	Accuracy        float64     `json:"accuracy"`
	WordsPerMinute  float64     `json:"words_per_minute"`
	SessionStart    int64       `json:"session_start"`
	IsActive        bool        `json:"is_active"`
	TotalWords      int         `json:"total_words"`
}

// Option is a functional option for configuring a [Tracker].
type Option func(*Tracker)

// WithSettings sets the initial settings instead of [DefaultSettings].
func WithSettings(s Settings) Option {
	return func(t *Tracker) {
		t.settings = s
	}
}

// WithOnMatch registers a callback fired for every accepted match.
func WithOnMatch(fn func(WordMatch)) Option {
	return func(t *Tracker) {
		t.onMatch = fn
	}
}

// WithOnHighlight registers a callback fired whenever the highlighted-index
// set changes. The slice passed is a sorted copy.
func WithOnHighlight(fn func(indices []int)) Option {
	return func(t *Tracker) {
		t.onHighlight = fn
	}
}

// WithOnScroll registers a callback fired when a match is accepted and
// auto-scroll is enabled.
func WithOnScroll(fn func(index int)) Option {
	return func(t *Tracker) {
		t.onScroll = fn
	}
}

// Tracker aligns a stream of spoken words with a loaded script.
type Tracker struct {
	mu sync.Mutex

	scorer   Scorer
	settings Settings

	state           State
	analysis        *script.Analysis
	currentIndex    int
	currentSentence int
	highlighted     map[int]struct{}
	history         []WordMatch
	exactMatches    int
	accuracy        float64
	wordsPerMinute  float64
	sessionStart    int64
	hasSessionStart bool

	onMatch     func(WordMatch)
	onHighlight func([]int)
	onScroll    func(int)
}

// New creates an idle Tracker using scorer for fuzzy comparisons.
func New(scorer Scorer, opts ...Option) *Tracker {
	t := &Tracker{
		scorer:      scorer,
		settings:    DefaultSettings(),
		state:       StateIdle,
		highlighted: make(map[int]struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// LoadScript analyzes text and arms the tracker with it, moving to
// [StateReady]. Loading while a session is active returns [ErrSessionActive];
// the caller must Stop first. Any previous alignment state is discarded.
func (t *Tracker) LoadScript(text string) (*script.Analysis, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateActive {
		return nil, ErrSessionActive
	}

	t.analysis = script.Analyze(text)
	t.state = StateReady
	t.resetAlignmentLocked()
	return t.analysis, nil
}

// Start transitions Ready → Active. It returns [ErrNoScript] when no script
// is loaded and [ErrSessionActive] when already active.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateIdle:
		return ErrNoScript
	case StateActive:
		return ErrSessionActive
	}
	t.state = StateActive
	return nil
}

// Stop transitions Active → Ready, keeping the script and the accumulated
// match history. Returns [ErrNotActive] when no session is running.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return ErrNotActive
	}
	t.state = StateReady
	return nil
}

// Reset returns the tracker to [StateIdle], discarding the script and all
// alignment state. Valid in any state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.analysis = nil
	t.state = StateIdle
	t.resetAlignmentLocked()
}

// resetAlignmentLocked clears playhead, highlights, history and stats.
// Must be called with t.mu held.
func (t *Tracker) resetAlignmentLocked() {
	t.currentIndex = 0
	t.currentSentence = 0
	t.highlighted = make(map[int]struct{})
	t.history = nil
	t.exactMatches = 0
	t.accuracy = 0
	t.wordsPerMinute = 0
	t.sessionStart = 0
	t.hasSessionStart = false
}

// UpdateSettings applies a partial settings change. The update is validated
// as a whole before any field is applied; on error the previous configuration
// is retained.
func (t *Tracker) UpdateSettings(u SettingsUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.settings
	if u.MatchThreshold != nil {
		v := *u.MatchThreshold
		if v < 0 || v > 1 {
			return fmt.Errorf("align: match_threshold %.3f is out of range [0, 1]", v)
		}
		next.MatchThreshold = v
	}
	if u.SearchWindowOverride != nil {
		v := *u.SearchWindowOverride
		if v < 0 {
			return fmt.Errorf("align: search_window_override %d must be >= 0", v)
		}
		next.SearchWindowOverride = v
	}
	if u.AutoScroll != nil {
		next.AutoScroll = *u.AutoScroll
	}
	t.settings = next
	return nil
}

// Settings returns a copy of the current settings.
func (t *Tracker) Settings() Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// ProcessSpokenWord matches one recognized spoken word against the script.
//
// It returns (nil, nil) when the word clears no threshold inside the search
// window — the documented no-match result, not an error. [ErrNotActive] is
// returned when the tracker is not in [StateActive]. Timestamps are expected
// to be non-decreasing milliseconds within one session; the tracker does not
// re-sort out-of-order events.
func (t *Tracker) ProcessSpokenWord(text string, confidence float64, timestamp int64) (*WordMatch, error) {
	t.mu.Lock()

	if t.state != StateActive {
		t.mu.Unlock()
		return nil, ErrNotActive
	}

	norm := script.Normalize(text)
	if norm == "" || t.analysis.TotalWords == 0 {
		t.mu.Unlock()
		return nil, nil
	}

	lo, hi := t.windowBoundsLocked()

	bestIndex := -1
	bestScore := 0.0
	exact := false

	for i := lo; i <= hi; i++ {
		candidate := t.analysis.Words[i].Normalized
		if candidate == norm {
			// An exact match wins outright over any fuzzy candidate
			// seen so far in this scan.
			bestIndex = i
			bestScore = 1.0
			exact = true
			break
		}
		score := t.scorer.Similarity(norm, candidate)
		if score >= t.settings.MatchThreshold && (bestIndex < 0 || score > bestScore) {
			bestIndex = i
			bestScore = score
		}
	}

	if bestIndex < 0 {
		t.mu.Unlock()
		return nil, nil
	}

	word := t.analysis.Words[bestIndex]
	match := WordMatch{
		ScriptIndex: bestIndex,
		ScriptWord:  word.Text,
		SpokenWord:  text,
		Confidence:  confidence,
		Timestamp:   timestamp,
		IsExact:     exact,
		Similarity:  bestScore,
	}

	t.currentIndex = bestIndex
	t.currentSentence = word.SentenceIndex
	t.history = append(t.history, match)
	if exact {
		t.exactMatches++
	}
	t.accuracy = float64(t.exactMatches) / float64(len(t.history))

	// Pace is measured in stream time: timestamps share an arbitrary epoch,
	// so the first accepted event anchors the session start.
	if !t.hasSessionStart {
		t.sessionStart = timestamp
		t.hasSessionStart = true
	}
	if minutes := float64(timestamp-t.sessionStart) / 60000.0; minutes > 0 {
		t.wordsPerMinute = float64(len(t.history)) / minutes
	} else {
		t.wordsPerMinute = 0
	}

	t.highlighted[bestIndex] = struct{}{}
	highlights := t.highlightSnapshotLocked()
	autoScroll := t.settings.AutoScroll

	onMatch, onHighlight, onScroll := t.onMatch, t.onHighlight, t.onScroll
	t.mu.Unlock()

	// Callbacks run outside the lock so handlers may call back into the
	// tracker (e.g. to read state).
	if onMatch != nil {
		onMatch(match)
	}
	if onHighlight != nil {
		onHighlight(highlights)
	}
	if autoScroll && onScroll != nil {
		onScroll(bestIndex)
	}

	return &match, nil
}

// ClearHighlight removes index from the highlighted set. The tracker owns no
// wall clock: the caller who wants a highlight to fade after a display
// duration runs its own timer and calls this. Clearing an index that is not
// highlighted is a no-op and fires no event.
func (t *Tracker) ClearHighlight(index int) {
	t.mu.Lock()
	if _, ok := t.highlighted[index]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.highlighted, index)
	highlights := t.highlightSnapshotLocked()
	onHighlight := t.onHighlight
	t.mu.Unlock()

	if onHighlight != nil {
		onHighlight(highlights)
	}
}

// State returns a point-in-time deep copy of the alignment state.
func (t *Tracker) State() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	if t.analysis != nil {
		total = t.analysis.TotalWords
	}
	history := make([]WordMatch, len(t.history))
	copy(history, t.history)

	return Snapshot{
		State:           t.state,
		StateName:       t.state.String(),
		CurrentIndex:    t.currentIndex,
		CurrentSentence: t.currentSentence,
		Highlighted:     t.highlightSnapshotLocked(),
		MatchHistory:    history,
		Accuracy:        t.accuracy,
		WordsPerMinute:  t.wordsPerMinute,
		SessionStart:    t.sessionStart,
		IsActive:        t.state == StateActive,
		TotalWords:      total,
	}
}

// Analysis returns the currently loaded script analysis, or nil when idle.
func (t *Tracker) Analysis() *script.Analysis {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.analysis
}

// windowBoundsLocked computes the inclusive search window around the
// playhead: half-width min(20, 10% of the script), floored at 1, clamped to
// script bounds. A configured override replaces the computed half-width.
// Must be called with t.mu held and a non-empty script loaded.
func (t *Tracker) windowBoundsLocked() (lo, hi int) {
	total := t.analysis.TotalWords

	width := t.settings.SearchWindowOverride
	if width <= 0 {
		width = total / windowDivisor
		if width > maxWindowWidth {
			width = maxWindowWidth
		}
		if width < 1 {
			width = 1
		}
	}

	lo = t.currentIndex - width
	if lo < 0 {
		lo = 0
	}
	hi = t.currentIndex + width
	if hi > total-1 {
		hi = total - 1
	}
	return lo, hi
}

// highlightSnapshotLocked returns the highlighted indices as a sorted copy.
// Must be called with t.mu held.
func (t *Tracker) highlightSnapshotLocked() []int {
	out := make([]int, 0, len(t.highlighted))
	for i := range t.highlighted {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
