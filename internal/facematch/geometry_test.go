package facematch

import (
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"same face", []float64{40, 40, 120, 140}, []float64{40, 40, 120, 140}, 1},
		{"two people side by side", []float64{0, 0, 50, 60}, []float64{80, 0, 130, 60}, 0},
		{"edges touching", []float64{0, 0, 10, 10}, []float64{10, 0, 20, 10}, 0},
		// overlap 5x10=50, union 100+100-50=150
		{"shifted half a width", []float64{0, 0, 10, 10}, []float64{5, 0, 15, 10}, 50.0 / 150.0},
		// small box fully inside a large one: 25/400
		{"nested detection", []float64{0, 0, 20, 20}, []float64{5, 5, 10, 10}, 25.0 / 400.0},
		{"malformed left", []float64{0, 0, 10}, []float64{0, 0, 10, 10}, 0},
		{"malformed right", []float64{0, 0, 10, 10}, nil, 0},
		{"inverted box", []float64{10, 10, 0, 0}, []float64{0, 0, 10, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if sym := IoU(tt.b, tt.a); math.Abs(sym-got) > 1e-9 {
				t.Errorf("IoU is not symmetric: %v vs %v", got, sym)
			}
		})
	}
}

func TestBoxArea(t *testing.T) {
	tests := []struct {
		name string
		box  []float64
		want float64
	}{
		{"portrait face", []float64{100, 50, 160, 130}, 60 * 80},
		{"unit", []float64{0, 0, 1, 1}, 1},
		{"zero width", []float64{5, 5, 5, 20}, 0},
		{"inverted", []float64{10, 10, 0, 0}, 0},
		{"too short", []float64{1, 2, 3}, 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoxArea(tt.box); got != tt.want {
				t.Errorf("BoxArea(%v) = %v, want %v", tt.box, got, tt.want)
			}
		})
	}
}

func TestScaleBox(t *testing.T) {
	in := []float64{10, 20, 30, 40}
	got := ScaleBox(in, 2.5)
	want := []float64{25, 50, 75, 100}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("ScaleBox() = %v, want %v", got, want)
		}
	}
	if in[0] != 10 {
		t.Errorf("ScaleBox modified its input: %v", in)
	}

	for _, factor := range []float64{1, 0, -2} {
		if out := ScaleBox(in, factor); &out[0] != &in[0] {
			t.Errorf("ScaleBox(factor=%v) should return the input unchanged", factor)
		}
	}
}
