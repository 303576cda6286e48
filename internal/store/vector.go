package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// vectorCodecVersion tags the persisted embedding layout. The encoding
// crosses the persisted-data boundary, so it is explicit and versioned:
// one version byte followed by little-endian IEEE-754 float32 elements.
const vectorCodecVersion = 1

// encodeVector serializes a vector for the embedding BLOB column.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 1+4*len(v))
	buf[0] = vectorCodecVersion
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[1+4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector parses a persisted embedding. Callers treat a malformed
// blob as a skippable row, never as a reason to abort the whole read.
func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty vector blob")
	}
	if b[0] != vectorCodecVersion {
		return nil, fmt.Errorf("unsupported vector codec version %d", b[0])
	}
	payload := b[1:]
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(payload))
	}
	v := make([]float32, len(payload)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
	}
	return v, nil
}
