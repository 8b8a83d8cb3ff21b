package feature

import (
	"math"
	"testing"
)

func TestDenseVectorNormalize(t *testing.T) {
	v := &DenseVector{Values: []float32{3, 4}}
	v.Normalize()
	var sumSq float64
	for _, x := range v.Values {
		sumSq += float64(x) * float64(x)
	}
	if math.Abs(sumSq-1) > 1e-6 {
		t.Fatalf("sum of squares after Normalize = %v, want ~1", sumSq)
	}
}

func TestDenseVectorNormalizeZero(t *testing.T) {
	v := &DenseVector{Values: []float32{0, 0, 0}}
	v.Normalize()
	for _, x := range v.Values {
		if x != 0 {
			t.Fatalf("Normalize on zero vector produced %v, want all zero", v.Values)
		}
	}
}

func TestCosineIdentical(t *testing.T) {
	a := &DenseVector{Values: []float32{1, 0, 0}}
	b := &DenseVector{Values: []float32{1, 0, 0}}
	if got := Cosine(a, b); math.Abs(float64(got-1)) > 1e-6 {
		t.Fatalf("Cosine(identical unit vectors) = %v, want 1", got)
	}
}

func TestDenseVectorSerializeRoundTrip(t *testing.T) {
	v := &DenseVector{Values: []float32{1.5, -2.25, 0}}
	s := v.Serialize()
	got, err := ParseDenseVector(s)
	if err != nil {
		t.Fatalf("ParseDenseVector: %v", err)
	}
	if len(got.Values) != len(v.Values) {
		t.Fatalf("round-tripped Values = %v, want %v", got.Values, v.Values)
	}
	for i := range v.Values {
		if math.Abs(float64(got.Values[i]-v.Values[i])) > 1e-4 {
			t.Fatalf("round-tripped Values[%d] = %v, want %v", i, got.Values[i], v.Values[i])
		}
	}
}

func TestDenseVectorSerializeWithColorSidecar(t *testing.T) {
	var color BOC
	color.Color[0] = ThermometerMask(3)
	color.ComputeNorm()
	v := &DenseVector{Values: []float32{1, 2}, Color: &color}

	s := v.Serialize()
	got, err := ParseDenseVector(s)
	if err != nil {
		t.Fatalf("ParseDenseVector: %v", err)
	}
	if got.Color == nil {
		t.Fatalf("round-tripped Color = nil, want non-nil")
	}
	if got.Color.Color != color.Color {
		t.Fatalf("round-tripped Color = %v, want %v", got.Color.Color, color.Color)
	}
}
