package amcl

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Sample is one weighted pose hypothesis.
type Sample struct {
	Pose   Pose
	Weight float64
}

// Cluster holds the statistics of one group of adjacent samples.
type Cluster struct {
	Count  int
	Weight float64
	Mean   Pose
	Cov    *mat.SymDense
}

// SampleSet is one of the filter's two alternating sample buffers.
type SampleSet struct {
	Samples   []Sample
	KDTree    *KDTree
	Clusters  []Cluster
	Mean      Pose
	Cov       *mat.SymDense
	Converged bool
}

// PoseGenerator produces poses for model-based initialization and recovery
// injection, typically uniform over the map's free cells.
type PoseGenerator func(rng *rand.Rand) Pose

// Filter is the adaptive particle filter. All sampling goes through the
// single seeded rng, so a fixed seed and event sequence reproduce the exact
// particle sets.
type Filter struct {
	minSamples, maxSamples int
	popErr, popZ           float64
	alphaSlow, alphaFast   float64
	distThreshold          float64

	sets    [2]*SampleSet
	current int

	wSlow, wFast float64

	rng *rand.Rand
}

// NewFilter allocates a filter with the given sample bounds and recovery
// EWMA coefficients. KLD parameters default to err 0.01, z 3 until set.
func NewFilter(minSamples, maxSamples int, alphaSlow, alphaFast float64, rng *rand.Rand) *Filter {
	f := &Filter{
		minSamples:    minSamples,
		maxSamples:    maxSamples,
		popErr:        0.01,
		popZ:          3,
		alphaSlow:     alphaSlow,
		alphaFast:     alphaFast,
		distThreshold: 0.5,
		rng:           rng,
	}
	for i := range f.sets {
		f.sets[i] = &SampleSet{
			Samples: make([]Sample, 0, maxSamples),
			KDTree:  NewKDTree(),
			Cov:     mat.NewSymDense(3, nil),
		}
	}
	return f
}

// SetPopulationParams sets the KLD bound parameters: err is the maximum
// allowed divergence, z the upper quantile of the standard normal.
func (f *Filter) SetPopulationParams(err, z float64) {
	f.popErr = err
	f.popZ = z
}

// CurrentSet returns the active sample buffer.
func (f *Filter) CurrentSet() *SampleSet {
	return f.sets[f.current]
}

// RNG exposes the filter's random stream so collaborating generators share it.
func (f *Filter) RNG() *rand.Rand {
	return f.rng
}

// Init draws minSamples samples from a Gaussian about mean with the given
// 3x3 covariance and resets the recovery averages.
func (f *Filter) Init(mean Pose, cov *mat.SymDense) {
	pdf := NewGaussianPdf(mean, cov)
	f.initWith(func(rng *rand.Rand) Pose { return pdf.Sample(rng) })
}

// InitModel draws minSamples samples from the supplied pose generator.
func (f *Filter) InitModel(gen PoseGenerator) {
	f.initWith(gen)
}

func (f *Filter) initWith(gen PoseGenerator) {
	set := f.sets[f.current]
	set.Samples = set.Samples[:0]
	set.KDTree.Clear()
	w := 1.0 / float64(f.minSamples)
	for i := 0; i < f.minSamples; i++ {
		p := gen(f.rng)
		set.Samples = append(set.Samples, Sample{Pose: p, Weight: w})
		set.KDTree.Insert(p, w)
	}
	f.wSlow, f.wFast = 0, 0
	f.clusterStats(set)
	f.updateConverged(set)
}

// UpdateSensor reweights the current set through score, which must return
// the pre-normalization total weight, then normalizes and maintains the
// short- and long-term weight averages used for recovery injection.
func (f *Filter) UpdateSensor(score func(set *SampleSet) float64) {
	set := f.sets[f.current]
	total := score(set)

	if total > 0 {
		for i := range set.Samples {
			set.Samples[i].Weight /= total
		}
		wAvg := total / float64(len(set.Samples))
		if f.wSlow == 0 {
			f.wSlow = wAvg
		} else {
			f.wSlow += f.alphaSlow * (wAvg - f.wSlow)
		}
		if f.wFast == 0 {
			f.wFast = wAvg
		} else {
			f.wFast += f.alphaFast * (wAvg - f.wFast)
		}
		return
	}

	w := 1.0 / float64(len(set.Samples))
	for i := range set.Samples {
		set.Samples[i].Weight = w
	}
}

// UpdateResample draws a new sample set from the current one with a
// low-variance sampler, injecting uniform samples with probability
// 1 - wFast/wSlow, and stops when the KLD-recommended size for the bins
// occupied so far is reached. The buffers are then swapped and the new set
// clustered.
func (f *Filter) UpdateResample(uniform PoseGenerator) {
	setA := f.sets[f.current]
	setB := f.sets[1-f.current]

	// Cumulative distribution over the current set.
	c := make([]float64, len(setA.Samples)+1)
	for i, s := range setA.Samples {
		c[i+1] = c[i] + s.Weight
	}

	setB.Samples = setB.Samples[:0]
	setB.KDTree.Clear()

	wDiff := 0.0
	if f.wSlow > 0 {
		wDiff = 1.0 - f.wFast/f.wSlow
		if wDiff < 0 {
			wDiff = 0
		}
	}

	// Low-variance pointer stepping at the finest (max population) pitch.
	step := 1.0 / float64(f.maxSamples)
	r := f.rng.Float64() * step
	idx := 0

	for len(setB.Samples) < f.maxSamples {
		var p Pose
		if f.rng.Float64() < wDiff {
			p = uniform(f.rng)
		} else {
			for idx < len(setA.Samples)-1 && r > c[idx+1] {
				idx++
			}
			p = setA.Samples[idx].Pose
			r += step
		}

		setB.Samples = append(setB.Samples, Sample{Pose: p, Weight: 1.0})
		setB.KDTree.Insert(p, 1.0)

		if len(setB.Samples) >= f.ResampleLimit(setB.KDTree.LeafCount()) {
			break
		}
	}

	if wDiff > 0 {
		f.wSlow, f.wFast = 0, 0
	}

	w := 1.0 / float64(len(setB.Samples))
	for i := range setB.Samples {
		setB.Samples[i].Weight = w
	}

	f.current = 1 - f.current
	f.clusterStats(setB)
	f.updateConverged(setB)
}

// ResampleLimit returns the KLD-recommended sample count for k occupied
// bins, clamped to [minSamples, maxSamples].
func (f *Filter) ResampleLimit(k int) int {
	// A single occupied bin means the population has collapsed; the chi^2
	// bound is undefined there and the floor applies.
	if k <= 1 {
		return f.minSamples
	}
	a := 1.0
	b := 2.0 / (9.0 * float64(k-1))
	c := math.Sqrt(b) * f.popZ
	x := a - b + c
	n := int(math.Ceil(float64(k-1) / (2.0 * f.popErr) * x * x * x))
	if n < f.minSamples {
		return f.minSamples
	}
	if n > f.maxSamples {
		return f.maxSamples
	}
	return n
}

// ClusterStats re-derives cluster and whole-set statistics for the current
// set. Stats are total: empty clusters are dropped rather than reported as
// failures, and the cluster table is ordered by descending total weight.
func (f *Filter) ClusterStats() {
	set := f.sets[f.current]
	// Samples may have moved since the tree was built; rebin them first.
	set.KDTree.Clear()
	for _, s := range set.Samples {
		set.KDTree.Insert(s.Pose, s.Weight)
	}
	f.clusterStats(set)
}

type clusterAccum struct {
	count  int
	weight float64
	m      [4]float64
	c      [2][2]float64
}

func (f *Filter) clusterStats(set *SampleSet) {
	set.KDTree.Cluster()

	accums := make([]clusterAccum, 0, 8)
	var total clusterAccum

	for _, s := range set.Samples {
		cid := set.KDTree.GetCluster(s.Pose)
		if cid < 0 {
			continue
		}
		for cid >= len(accums) {
			accums = append(accums, clusterAccum{})
		}
		for _, a := range []*clusterAccum{&accums[cid], &total} {
			a.count++
			a.weight += s.Weight
			a.m[0] += s.Weight * s.Pose.X
			a.m[1] += s.Weight * s.Pose.Y
			a.m[2] += s.Weight * math.Cos(s.Pose.Theta)
			a.m[3] += s.Weight * math.Sin(s.Pose.Theta)
			a.c[0][0] += s.Weight * s.Pose.X * s.Pose.X
			a.c[0][1] += s.Weight * s.Pose.X * s.Pose.Y
			a.c[1][0] += s.Weight * s.Pose.Y * s.Pose.X
			a.c[1][1] += s.Weight * s.Pose.Y * s.Pose.Y
		}
	}

	finish := func(a *clusterAccum) (Pose, *mat.SymDense) {
		mean := Pose{
			X:     a.m[0] / a.weight,
			Y:     a.m[1] / a.weight,
			Theta: math.Atan2(a.m[3], a.m[2]),
		}
		cov := mat.NewSymDense(3, nil)
		cov.SetSym(0, 0, a.c[0][0]/a.weight-mean.X*mean.X)
		cov.SetSym(0, 1, a.c[0][1]/a.weight-mean.X*mean.Y)
		cov.SetSym(1, 1, a.c[1][1]/a.weight-mean.Y*mean.Y)
		// Circular variance from the resultant length.
		res := math.Hypot(a.m[2]/a.weight, a.m[3]/a.weight)
		if res > 1 {
			res = 1
		}
		if res > 0 {
			cov.SetSym(2, 2, -2*math.Log(res))
		} else {
			cov.SetSym(2, 2, 2*math.Pi*2*math.Pi)
		}
		return mean, cov
	}

	set.Clusters = set.Clusters[:0]
	for i := range accums {
		a := &accums[i]
		if a.count == 0 || a.weight <= 0 {
			continue
		}
		mean, cov := finish(a)
		set.Clusters = append(set.Clusters, Cluster{
			Count:  a.count,
			Weight: a.weight,
			Mean:   mean,
			Cov:    cov,
		})
	}
	sort.SliceStable(set.Clusters, func(i, j int) bool {
		return set.Clusters[i].Weight > set.Clusters[j].Weight
	})

	if total.weight > 0 {
		set.Mean, set.Cov = finish(&total)
	}
}

// BestCluster returns the highest-weight cluster, or false when the set has
// no clusters.
func (f *Filter) BestCluster() (Cluster, bool) {
	set := f.sets[f.current]
	if len(set.Clusters) == 0 {
		return Cluster{}, false
	}
	return set.Clusters[0], true
}

// Converged reports whether every sample of the current set lies within the
// distance threshold of the set mean.
func (f *Filter) Converged() bool {
	return f.sets[f.current].Converged
}

func (f *Filter) updateConverged(set *SampleSet) {
	var meanX, meanY float64
	for _, s := range set.Samples {
		meanX += s.Pose.X
		meanY += s.Pose.Y
	}
	n := float64(len(set.Samples))
	if n == 0 {
		set.Converged = false
		return
	}
	meanX /= n
	meanY /= n
	for _, s := range set.Samples {
		if math.Abs(s.Pose.X-meanX) > f.distThreshold ||
			math.Abs(s.Pose.Y-meanY) > f.distThreshold {
			set.Converged = false
			return
		}
	}
	set.Converged = true
}
