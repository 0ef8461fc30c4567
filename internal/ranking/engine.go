// Package ranking orders feed candidates by a recency/engagement score under
// a creator-diversity constraint.
package ranking

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coyapp/coy-server/internal/models"
)

const (
	// Recency decays with a half-life of about two days.
	recencyHalfLifeHours = 48.0
	recencyBase          = 100.0

	recencyWeight    = 0.6
	engagementWeight = 0.4

	// Engagement scores arrive on a smaller scale than recency; rescale so
	// the two signals are comparable before weighting.
	engagementScale = 2.0

	// Jitter is wider on first load (exploration) and tighter on refresh
	// (stability against thrash).
	initialJitterMax = 20.0
	refreshJitterMax = 10.0

	// DefaultMaxRun bounds consecutive entries from one author.
	DefaultMaxRun = 2

	maxRefreshSwaps = 10
)

// Engine ranks feed entries. The random source is injectable so jitter and
// reshuffling are reproducible in tests; production wiring seeds it from the
// clock.
type Engine struct {
	maxRun int
	mu     sync.Mutex
	rng    *rand.Rand
}

// New creates an engine with the given diversity bound and random source
func New(maxRun int, rng *rand.Rand) *Engine {
	if maxRun <= 0 {
		maxRun = DefaultMaxRun
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{maxRun: maxRun, rng: rng}
}

type scoredEntry struct {
	entry models.FeedEntry
	score float64
}

// Rank scores, orders, and diversity-redistributes entries. isRefresh selects
// the tighter jitter range and enables the post-hoc reshuffle pass. Empty and
// single-entry inputs return without consuming randomness.
func (e *Engine) Rank(entries []models.FeedEntry, now time.Time, isRefresh bool) []models.FeedEntry {
	if len(entries) == 0 {
		return []models.FeedEntry{}
	}
	if len(entries) == 1 {
		return []models.FeedEntry{entries[0]}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	jitterMax := initialJitterMax
	if isRefresh {
		jitterMax = refreshJitterMax
	}

	scored := make([]scoredEntry, 0, len(entries))
	for _, entry := range entries {
		score := combinedScore(entry.Post, now) + e.rng.Float64()*jitterMax
		scored = append(scored, scoredEntry{entry: entry, score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	out := e.redistribute(scored)

	if isRefresh {
		e.reshuffle(out)
	}

	return out
}

// combinedScore mixes recency decay with the post's externally maintained
// engagement score. Future-dated posts score above recencyBase, which is
// fine; they just rank first.
func combinedScore(p models.Post, now time.Time) float64 {
	hours := now.Sub(p.CreatedAt).Hours()
	recency := recencyBase * math.Exp(-hours/recencyHalfLifeHours)
	engagement := p.EngagementScore * engagementScale
	return recencyWeight*recency + engagementWeight*engagement
}

// redistribute walks candidates in score order and emits them such that no
// author appears more than maxRun times within the trailing window of the
// last maxRun emitted entries. When every remaining author has saturated the
// window, the window resets and the top candidate is force-emitted, so the
// pass always makes progress. The forced emit can transiently allow a run of
// maxRun+1 from one author; that is accepted behavior.
func (e *Engine) redistribute(remaining []scoredEntry) []models.FeedEntry {
	out := make([]models.FeedEntry, 0, len(remaining))
	window := make([]string, 0, e.maxRun)

	for len(remaining) > 0 {
		pick := -1
		for i, cand := range remaining {
			if countIn(window, cand.entry.Post.AuthorID) < e.maxRun {
				pick = i
				break
			}
		}
		if pick == -1 {
			window = window[:0]
			pick = 0
		}

		chosen := remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)
		out = append(out, chosen.entry)

		window = append(window, chosen.entry.Post.AuthorID)
		if len(window) > e.maxRun {
			window = window[1:]
		}
	}

	return out
}

// reshuffle swaps a handful of random adjacent pairs so repeated refreshes do
// not return an identical ordering. Swaps are local, so a run can grow by at
// most one.
func (e *Engine) reshuffle(entries []models.FeedEntry) {
	if len(entries) < 2 {
		return
	}

	swaps := len(entries) / 4
	if swaps > maxRefreshSwaps {
		swaps = maxRefreshSwaps
	}
	for k := 0; k < swaps; k++ {
		i := e.rng.Intn(len(entries) - 1)
		entries[i], entries[i+1] = entries[i+1], entries[i]
	}
}

func countIn(window []string, authorID string) int {
	n := 0
	for _, id := range window {
		if id == authorID {
			n++
		}
	}
	return n
}
