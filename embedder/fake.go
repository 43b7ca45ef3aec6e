package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// fakeEmbedder hashes text into a stable unit vector. The same text always
// maps to the same vector, so cache and dedup behaviour is observable
// without a real embedding server.
type fakeEmbedder struct {
	dim   int
	model string
}

func (f *fakeEmbedder) EmbedWithKey(_ context.Context, text, _ string) ([]float32, error) {
	vec := make([]float32, f.dim)
	seed := sha256.Sum256([]byte(text))
	state := binary.LittleEndian.Uint64(seed[:8])
	var norm float64
	for i := range vec {
		// xorshift64 keeps the expansion deterministic and cheap.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float32(int64(state%2000)-1000) / 1000
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Model() string  { return f.model }
