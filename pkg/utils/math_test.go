package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if math.Abs(Dot(v, v)-1.0) > 1e-6 {
		t.Errorf("norm after normalize: %f", Dot(v, v))
	}

	zero := []float32{0, 0, 0}
	NormalizeL2(zero)
	for _, x := range zero {
		if x != 0 {
			t.Error("zero vector changed")
		}
	}
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	if got := Dot(a, b); got != 32 {
		t.Errorf("Dot=%f", got)
	}
}

func TestFloat32Bytes(t *testing.T) {
	in := []float32{0, 1, -2.5, float32(math.Pi)}
	out := BytesToFloat32s(Float32sToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("len=%d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("value %d changed: %f != %f", i, in[i], out[i])
		}
	}
}
