package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestSimilarity01_Clamped(t *testing.T) {
	if got := Similarity01(Vector{1, 0}, Vector{-1, 0}); got != 0 {
		t.Errorf("expected opposite vectors to clamp to 0, got %f", got)
	}
	if got := Similarity01(Vector{1, 0}, Vector{1, 0}); math.Abs(got-1.0) > 0.001 {
		t.Errorf("expected identical vectors to score 1, got %f", got)
	}
}

func TestFromConfig_NoneDisablesVectorSearch(t *testing.T) {
	e, err := FromConfig(Config{Provider: "none"})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if e != nil {
		t.Error("expected nil embedder for provider 'none'")
	}

	e, err = FromConfig(Config{})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if e != nil {
		t.Error("expected nil embedder for empty provider")
	}
}

func TestFromConfig_UnknownProvider(t *testing.T) {
	if _, err := FromConfig(Config{Provider: "quantum"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
