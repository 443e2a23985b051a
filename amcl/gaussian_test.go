package amcl

import (
	"math"
	"math/rand"
	"testing"
)

func TestGaussianPdf_DiagonalCovariance(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	mean := Pose{X: 1, Y: -2, Theta: 0.3}
	pdf := NewGaussianPdf(mean, diagCov(0.04, 0.01, 0.0025))

	const n = 20000
	var sx, sy, sxx, syy float64
	for i := 0; i < n; i++ {
		p := pdf.Sample(rng)
		sx += p.X
		sy += p.Y
		sxx += (p.X - mean.X) * (p.X - mean.X)
		syy += (p.Y - mean.Y) * (p.Y - mean.Y)
	}
	mx := sx / n
	my := sy / n

	if math.Abs(mx-mean.X) > 0.01 || math.Abs(my-mean.Y) > 0.01 {
		t.Errorf("sample mean (%f, %f), want (%f, %f)", mx, my, mean.X, mean.Y)
	}
	if math.Abs(sxx/n-0.04) > 0.005 {
		t.Errorf("sample var x = %f, want 0.04", sxx/n)
	}
	if math.Abs(syy/n-0.01) > 0.002 {
		t.Errorf("sample var y = %f, want 0.01", syy/n)
	}
}

func TestGaussianPdf_ZeroCovariance(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	mean := Pose{X: 5, Y: 6, Theta: 1}
	pdf := NewGaussianPdf(mean, diagCov(0, 0, 0))

	for i := 0; i < 10; i++ {
		p := pdf.Sample(rng)
		if p.X != mean.X || p.Y != mean.Y || math.Abs(AngleDiff(p.Theta, mean.Theta)) > 1e-12 {
			t.Fatalf("zero covariance sample %+v, want %+v", p, mean)
		}
	}
}

func TestGaussianPdf_ThetaNormalized(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	pdf := NewGaussianPdf(Pose{Theta: 3.0}, diagCov(0, 0, 1.0))

	for i := 0; i < 1000; i++ {
		p := pdf.Sample(rng)
		if p.Theta <= -math.Pi-1e-12 || p.Theta > math.Pi+1e-12 {
			t.Fatalf("theta %f out of range", p.Theta)
		}
	}
}
