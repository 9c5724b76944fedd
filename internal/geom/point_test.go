package geom

import (
	"errors"
	"math"
	"testing"
)

func TestPointArithmetic(t *testing.T) {
	p := Pt(1, 2)
	q := Pt(3, -4)

	if got := p.Add(q); got != Pt(4, -2) {
		t.Errorf("Add = %v, want (4, -2)", got)
	}
	if got := p.Sub(q); got != Pt(-2, 6) {
		t.Errorf("Sub = %v, want (-2, 6)", got)
	}
	if got := p.Scale(2); got != Pt(2, 4) {
		t.Errorf("Scale = %v, want (2, 4)", got)
	}
	if got := p.Mid(q); got != Pt(2, -1) {
		t.Errorf("Mid = %v, want (2, -1)", got)
	}
	if got := Pt(0, 0).Dist(Pt(3, 4)); got != 5 {
		t.Errorf("Dist = %v, want 5", got)
	}
}

func TestIsFinite(t *testing.T) {
	if !Pt(1, 1).IsFinite() {
		t.Error("(1,1) should be finite")
	}
	if Pt(math.NaN(), 0).IsFinite() {
		t.Error("NaN point should not be finite")
	}
	if Pt(0, math.Inf(1)).IsFinite() {
		t.Error("Inf point should not be finite")
	}
}

func TestCentroid(t *testing.T) {
	got := Centroid([]Point{Pt(0, 0), Pt(2, 0), Pt(0, 2), Pt(2, 2)})
	if got != Pt(1, 1) {
		t.Errorf("Centroid = %v, want (1, 1)", got)
	}
	if got := Centroid(nil); got != (Point{}) {
		t.Errorf("Centroid(nil) = %v, want origin", got)
	}
}

func TestDiagonalIntersection(t *testing.T) {
	got, err := DiagonalIntersection(Pt(0, 0), Pt(4, 0), Pt(0, 4), Pt(4, 4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Dist(Pt(2, 2)) > 1e-12 {
		t.Errorf("intersection = %v, want (2, 2)", got)
	}

	// Skewed quad: diagonals still meet inside.
	got, err = DiagonalIntersection(Pt(0, 0), Pt(10, 0), Pt(0, 4), Pt(6, 6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Point must be on both diagonals.
	onFirst := math.Abs(got.X*6-got.Y*6) < 1e-9
	if !onFirst {
		t.Errorf("intersection %v is not on tl->br", got)
	}

	_, err = DiagonalIntersection(Pt(0, 0), Pt(0, 1), Pt(2, 3), Pt(2, 2))
	if !errors.Is(err, ErrParallel) {
		t.Errorf("expected ErrParallel, got %v", err)
	}
}

func TestInPolygon(t *testing.T) {
	square := []Point{Pt(0, 0), Pt(10, 0), Pt(10, 10), Pt(0, 10)}

	tests := []struct {
		name string
		p    Point
		want bool
	}{
		{"center", Pt(5, 5), true},
		{"outside right", Pt(11, 5), false},
		{"outside above", Pt(5, -1), false},
		{"on edge", Pt(10, 5), true},
		{"on vertex", Pt(0, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InPolygon(tt.p, square); got != tt.want {
				t.Errorf("InPolygon(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}

	if InPolygon(Pt(0, 0), []Point{Pt(0, 0), Pt(1, 1)}) {
		t.Error("degenerate polygon should contain nothing")
	}
}
