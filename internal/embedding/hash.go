package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic offline embedder: character unigrams and bigrams
// are hashed into buckets and the result is L2-normalised. It needs no
// network and is used for local runs and tests.
type Hash struct {
	dimension int
}

func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 256
	}
	return &Hash{dimension: dim}
}

func (e *Hash) Dimension() int { return e.dimension }

func (e *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := zeroVector(e.dimension)
	var runes []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		runes = append(runes, r)
	}
	if len(runes) == 0 {
		return vec, nil
	}
	for i := range runes {
		vec[e.bucket(string(runes[i]))]++
		if i+1 < len(runes) {
			vec[e.bucket(string(runes[i:i+2]))] += 2
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (e *Hash) bucket(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(e.dimension))
}
