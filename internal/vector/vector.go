// Package vector implements cosine-similarity ranking over stored
// embeddings. It is shared by decision search, file search, conflict
// detection, and déjà-vu recall.
package vector

import (
	"math"
	"sort"
	"time"
)

// Candidate is an (id, vector) pair with the owner's creation time,
// which breaks ranking ties in favor of the most recent entry.
type Candidate struct {
	ID        string
	Vector    []float32
	CreatedAt time.Time
}

// Match is a scored candidate.
type Match struct {
	ID        string
	Score     float64
	CreatedAt time.Time
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths
// and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopK scores every candidate against the query and returns the k best by
// descending score, most recent first on equal scores.
func TopK(query []float32, candidates []Candidate, k int) []Match {
	matches := score(query, candidates)
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// AboveThreshold returns every candidate scoring >= threshold, ordered like
// TopK. Used where a score floor matters more than a result count.
func AboveThreshold(query []float32, candidates []Candidate, threshold float64) []Match {
	matches := score(query, candidates)
	for i, m := range matches {
		if m.Score < threshold {
			return matches[:i]
		}
	}
	return matches
}

func score(query []float32, candidates []Candidate) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			continue
		}
		matches = append(matches, Match{
			ID:        c.ID,
			Score:     Cosine(query, c.Vector),
			CreatedAt: c.CreatedAt,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches
}
