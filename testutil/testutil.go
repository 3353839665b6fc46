package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/sindi/model"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// sparseVectorLocked draws one vector with the given number of distinct
// terms. termPick maps a draw index to a term id; values are uniform in
// [-1, 1). Caller must hold the lock.
func (r *RNG) sparseVectorLocked(terms, termIDLimit int, termPick func() uint32) model.SparseVector {
	if terms > termIDLimit {
		terms = termIDLimit
	}

	seen := make(map[uint32]struct{}, terms)

	vec := model.SparseVector{
		Terms:  make([]uint32, 0, terms),
		Values: make([]float32, 0, terms),
	}

	for len(vec.Terms) < terms {
		term := termPick()
		if _, dup := seen[term]; dup {
			continue
		}

		seen[term] = struct{}{}
		vec.Terms = append(vec.Terms, term)
		vec.Values = append(vec.Values, r.rand.Float32()*2-1)
	}

	return vec.SortByTerm()
}

// SparseVectors generates vectors with the given number of distinct terms
// drawn uniformly from [0, termIDLimit) and values uniform in [-1, 1).
func (r *RNG) SparseVectors(num, terms, termIDLimit int) []model.SparseVector {
	r.mu.Lock()
	defer r.mu.Unlock()

	vecs := make([]model.SparseVector, num)
	for i := range vecs {
		vecs[i] = r.sparseVectorLocked(terms, termIDLimit, func() uint32 {
			return uint32(r.rand.Intn(termIDLimit))
		})
	}

	return vecs
}

// ZipfSparseVectors generates vectors whose term ids follow a power-law
// distribution, the way vocabulary terms distribute in real text corpora.
// Low term ids are frequent, producing long posting lists.
func (r *RNG) ZipfSparseVectors(num, terms, termIDLimit int) []model.SparseVector {
	r.mu.Lock()
	defer r.mu.Unlock()

	zipf := rand.NewZipf(r.rand, 1.3, 1, uint64(termIDLimit-1))

	vecs := make([]model.SparseVector, num)
	for i := range vecs {
		vecs[i] = r.sparseVectorLocked(terms, termIDLimit, func() uint32 {
			return uint32(zipf.Uint64())
		})
	}

	return vecs
}

// SparseQuery generates one query vector with positive values, the common
// shape of learned sparse retrieval queries.
func (r *RNG) SparseQuery(terms, termIDLimit int) model.SparseVector {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sparseVectorLocked(terms, termIDLimit, func() uint32 {
		return uint32(r.rand.Intn(termIDLimit))
	})
}

// BruteForceTopK performs exact inner-product search for ground truth.
// Vectors are addressed by slice position; results are sorted by
// descending score with ascending id breaking ties.
func BruteForceTopK(vectors []model.SparseVector, query model.SparseVector, k int) []model.Candidate {
	sorted := query.SortByTerm()

	results := make([]model.Candidate, 0, len(vectors))
	for i, v := range vectors {
		score := v.SortByTerm().Dot(sorted)
		if score != 0 {
			results = append(results, model.Candidate{ID: model.DocID(i), Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Better(results[j]) })

	if len(results) > k {
		results = results[:k]
	}

	return results
}

// ComputeRecall computes recall@k of approximate results against ground
// truth.
func ComputeRecall(groundTruth, approximate []model.Candidate) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := len(groundTruth)
	if len(approximate) < k {
		k = len(approximate)
	}

	truthSet := make(map[model.DocID]struct{}, k)
	for i := 0; i < k; i++ {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, c := range approximate {
		if _, ok := truthSet[c.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}

// AvgTermLength returns the mean non-zero pair count of the vectors,
// rounded up. Useful for sizing EstimateMemory expectations.
func AvgTermLength(vectors []model.SparseVector) int {
	if len(vectors) == 0 {
		return 0
	}

	total := 0
	for _, v := range vectors {
		total += v.Len()
	}

	return int(math.Ceil(float64(total) / float64(len(vectors))))
}
