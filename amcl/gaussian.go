package amcl

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GaussianPdf draws poses from a multivariate Gaussian over (x, y, theta).
// The covariance is factored once into its eigenbasis; each draw scales
// independent unit normals by the per-axis standard deviations and rotates
// them back.
type GaussianPdf struct {
	mean Pose
	rot  mat.Dense
	sd   [3]float64
}

// NewGaussianPdf factors cov and returns a sampler about mean. A covariance
// that fails to factor degenerates to its diagonal.
func NewGaussianPdf(mean Pose, cov *mat.SymDense) *GaussianPdf {
	p := &GaussianPdf{mean: mean}

	var eig mat.EigenSym
	if eig.Factorize(cov, true) {
		vals := eig.Values(nil)
		eig.VectorsTo(&p.rot)
		for i := 0; i < 3; i++ {
			if vals[i] > 0 {
				p.sd[i] = math.Sqrt(vals[i])
			}
		}
		return p
	}

	p.rot.ReuseAs(3, 3)
	for i := 0; i < 3; i++ {
		p.rot.Set(i, i, 1)
		if v := cov.At(i, i); v > 0 {
			p.sd[i] = math.Sqrt(v)
		}
	}
	return p
}

// Sample draws one pose using rng.
func (p *GaussianPdf) Sample(rng *rand.Rand) Pose {
	var v [3]float64
	for i := 0; i < 3; i++ {
		v[i] = p.sd[i] * rng.NormFloat64()
	}
	var w [3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			w[i] += p.rot.At(i, j) * v[j]
		}
	}
	return Pose{
		X:     p.mean.X + w[0],
		Y:     p.mean.Y + w[1],
		Theta: NormalizeAngle(p.mean.Theta + w[2]),
	}
}
