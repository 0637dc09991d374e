package index

import (
	"math"
	"sort"
	"sync/atomic"

	"github.com/rodinkim/ai-content-marketing-tool/internal/domain"
)

// snapshot is one immutable generation of the index. Readers always see a
// complete generation; Build publishes a new one with a single pointer swap.
type snapshot struct {
	texts   []string
	vectors [][]float32
}

// Snapshot is a rebuildable, non-authoritative nearest-neighbor index over
// the durable store's records. It is a cache: all mutation goes through
// Build, there is no incremental add or remove. Searches are brute-force L2
// over the current snapshot, which keeps it exact and dependency-free at
// knowledge-base scale.
type Snapshot struct {
	current atomic.Pointer[snapshot]
}

// NewSnapshot returns an empty, queryable index.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.current.Store(&snapshot{})
	return s
}

// Build replaces the current snapshot atomically. Building from an empty
// slice yields a valid, empty index.
func (s *Snapshot) Build(records []domain.VectorRecord) {
	next := &snapshot{
		texts:   make([]string, len(records)),
		vectors: make([][]float32, len(records)),
	}
	for i, r := range records {
		next.texts[i] = r.Text
		next.vectors[i] = r.Embedding
	}
	s.current.Store(next)
}

// Len reports the number of indexed chunks.
func (s *Snapshot) Len() int {
	return len(s.current.Load().texts)
}

// Search returns up to k chunks ordered by descending 1/(1+d) similarity
// over L2 distance, the same convention as the durable store. Metadata is
// left empty: the snapshot is a best-effort fallback and carries text only.
func (s *Snapshot) Search(queryVector []float32, k int) []domain.RetrievedChunk {
	snap := s.current.Load()
	if k <= 0 || len(snap.vectors) == 0 {
		return nil
	}

	type scored struct {
		idx      int
		distance float64
	}
	candidates := make([]scored, len(snap.vectors))
	for i, vec := range snap.vectors {
		candidates[i] = scored{idx: i, distance: l2Distance(queryVector, vec)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]domain.RetrievedChunk, k)
	for i := 0; i < k; i++ {
		c := candidates[i]
		results[i] = domain.RetrievedChunk{
			Text:  snap.texts[c.idx],
			Score: 1 / (1 + c.distance),
		}
	}
	return results
}

// l2Distance computes Euclidean distance over the shared prefix, matching
// the durable store's <-> operator so scores stay comparable between paths.
func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
