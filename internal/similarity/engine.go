// Package similarity scores how alike two spoken/script words are on a
// [0, 1] scale by combining three independent metrics:
//
//  1. Normalized Levenshtein edit distance (weight 0.4).
//  2. Jaro-style phonetic alignment via Jaro-Winkler (weight 0.4).
//  3. Soundex code equality (weight 0.2) — 1 when the 4-character codes
//     match exactly, 0 otherwise.
//
// A cheap length pre-filter short-circuits to 0 when the two words differ in
// length by more than half the longer word, skipping the metric computation
// for obviously dissimilar pairs.
//
// Results are memoized in a bounded cache keyed by the ordered word pair. The
// cache keeps an explicit insertion-order list so eviction does not depend on
// map iteration order: once the bound is exceeded, a periodic sweep trims the
// cache to its most-recently-inserted half.
package similarity

import (
	"sync"

	"github.com/antzucaro/matchr"
)

const (
	editWeight     = 0.4
	phoneticWeight = 0.4
	soundexWeight  = 0.2

	// DefaultCacheSize bounds the memoization cache entry count.
	DefaultCacheSize = 1000

	// sweepInterval is how many inserts pass between cache trim sweeps.
	// Trimming on a sweep rather than on every insert keeps the hot path
	// allocation-free; the cache may transiently exceed the bound by at
	// most sweepInterval entries.
	sweepInterval = 64

	// pairSep joins the two cache key halves. It can never appear inside a
	// normalized word, so keys are unambiguous.
	pairSep = "\x00"
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithCacheSize overrides the memoization cache bound. Values < 1 disable
// caching entirely.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// Engine computes combined word similarity scores with memoization.
// All methods are safe for concurrent use, so a single Engine may be shared
// across alignment trackers to amortize common-word lookups.
type Engine struct {
	cacheSize int

	mu      sync.RWMutex
	cache   map[string]float64
	order   []string // cache keys in insertion order, oldest first
	inserts int      // inserts since the last sweep
}

// New returns an Engine with the default cache bound of [DefaultCacheSize].
func New(opts ...Option) *Engine {
	e := &Engine{
		cacheSize: DefaultCacheSize,
		cache:     make(map[string]float64),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Similarity returns the combined similarity of a and b in [0, 1].
// Both inputs are expected to already be in normalized form (lowercase,
// alphanumeric only); the score is computed on the strings as given.
func (e *Engine) Similarity(a, b string) float64 {
	if a == b {
		// Covers the identical case and the two-empty-strings case, both
		// defined as similarity 1.
		return 1.0
	}

	key := a + pairSep + b

	e.mu.RLock()
	score, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return score
	}

	score = e.compute(a, b)
	e.store(key, score)
	return score
}

// CacheLen returns the current number of memoized entries.
func (e *Engine) CacheLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// compute runs the weighted metric combination without touching the cache.
func (e *Engine) compute(a, b string) float64 {
	la, lb := len(a), len(b)
	longer := la
	if lb > longer {
		longer = lb
	}
	if longer == 0 {
		return 1.0
	}

	// Length pre-filter: a size gap beyond half the longer word cannot
	// clear any useful threshold.
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if diff*2 > longer {
		return 0.0
	}

	edit := 1.0 - float64(matchr.Levenshtein(a, b))/float64(longer)

	phonetic := 0.0
	if la > 0 && lb > 0 {
		phonetic = matchr.JaroWinkler(a, b, false)
	}

	soundex := 0.0
	if la > 0 && lb > 0 && matchr.Soundex(a) == matchr.Soundex(b) {
		soundex = 1.0
	}

	score := editWeight*edit + phoneticWeight*phonetic + soundexWeight*soundex
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// store memoizes a score and runs the periodic trim sweep. Entries are
// written atomically as complete key→score pairs under the write lock, so
// concurrent readers never observe a partial entry.
func (e *Engine) store(key string, score float64) {
	if e.cacheSize < 1 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.cache[key]; !exists {
		e.cache[key] = score
		e.order = append(e.order, key)
		e.inserts++
	}

	if e.inserts < sweepInterval || len(e.cache) <= e.cacheSize {
		return
	}
	e.inserts = 0

	// Keep the most-recently-inserted half of the configured bound.
	n := e.cacheSize / 2
	if n < 1 {
		n = 1
	}
	if n > len(e.order) {
		n = len(e.order)
	}
	keep := e.order[len(e.order)-n:]
	fresh := make(map[string]float64, len(keep))
	for _, k := range keep {
		fresh[k] = e.cache[k]
	}
	e.cache = fresh
	e.order = append([]string(nil), keep...)
}
