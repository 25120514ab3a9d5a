package repository

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CosineDistance maps a cosine similarity to a distance in [0, 1].
// Anti-correlated vectors are treated as maximally distant.
func CosineDistance(cosine float64) float64 {
	d := 1 - cosine
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		na += va * va
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// encodeVector packs a vector as little-endian float32 values.
func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// decodeVector reverses encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
