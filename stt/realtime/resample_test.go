package realtime

import (
	"math"
	"testing"
)

func TestResampler_Upsample(t *testing.T) {
	r := newResampler(16000, 48000)

	in := make([]float32, 160)
	for i := range in {
		in[i] = 0.5
	}

	// The first block holds back the final sample for interpolation.
	if got := len(r.process(in)); got != 477 {
		t.Errorf("first block: %d samples, want 477", got)
	}
	for i := range 10 {
		out := r.process(in)
		if len(out) != 480 {
			t.Fatalf("block %d: %d samples, want 480", i, len(out))
		}
		for j, s := range out {
			if math.Abs(float64(s)-0.5) > 1e-6 {
				t.Fatalf("block %d sample %d = %v, want 0.5", i, j, s)
			}
		}
	}
}

func TestResampler_InterpolatesAcrossBlocks(t *testing.T) {
	r := newResampler(1, 2)

	first := r.process([]float32{0, 1})
	second := r.process([]float32{3})

	want := []float32{0, 0.5, 1, 2}
	got := append(first, second...)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResampler_SameRateCopies(t *testing.T) {
	r := newResampler(48000, 48000)
	in := []float32{0.1, 0.2}
	out := r.process(in)
	out[0] = 9
	if in[0] != 0.1 {
		t.Error("process aliased its input")
	}
	if r.process(nil) != nil {
		t.Error("empty input should return nil")
	}
}

func TestInterleave(t *testing.T) {
	got := interleave([]float32{1, 2}, 2)
	want := []float32{1, 1, 2, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interleave = %v, want %v", got, want)
		}
	}
}
