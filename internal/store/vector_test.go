package store

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 0, 3.14159, math.MaxFloat32}

	decoded, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("length = %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("element %d = %f, want %f", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeVectorMalformed(t *testing.T) {
	cases := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"unknown version", []byte{99, 0, 0, 0, 0}},
		{"truncated payload", []byte{vectorCodecVersion, 0, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeVector(tc.blob); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
