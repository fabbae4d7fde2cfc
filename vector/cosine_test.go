package vector

import (
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	c := []float32{2, 0}
	d := []float32{-1, 0}

	tests := []struct {
		name string
		x, y []float32
		want float64
	}{
		{"orthogonal", a, b, 1},
		{"same direction", a, c, 0},
		{"opposite", a, d, 2},
	}
	for _, tt := range tests {
		got, err := CosineDistance(tt.x, tt.y)
		if err != nil {
			t.Fatalf("%s: CosineDistance failed: %v", tt.name, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("%s: CosineDistance = %v, want %v", tt.name, got, tt.want)
		}
		rev, _ := CosineDistance(tt.y, tt.x)
		if rev != got {
			t.Fatalf("%s: distance not symmetric: %v vs %v", tt.name, got, rev)
		}
	}
}

func TestCosineDistance_Errors(t *testing.T) {
	if _, err := CosineDistance([]float32{1}, []float32{1, 2}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	if _, err := CosineDistance(nil, nil); err == nil {
		t.Fatalf("expected empty vector error")
	}
	if _, err := CosineDistance([]float32{0, 0}, []float32{1, 0}); err == nil {
		t.Fatalf("expected zero-magnitude error")
	}
}
