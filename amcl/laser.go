package amcl

import (
	"log"
	"math"
)

// LaserModelType selects the scan likelihood model.
type LaserModelType int

const (
	LaserModelBeam LaserModelType = iota
	LaserModelLikelihoodField
	LaserModelLikelihoodFieldProb
)

func (t LaserModelType) String() string {
	switch t {
	case LaserModelBeam:
		return "beam"
	case LaserModelLikelihoodField:
		return "likelihood_field"
	case LaserModelLikelihoodFieldProb:
		return "likelihood_field_prob"
	}
	return "unknown"
}

// Beam is one range reading with its bearing in the laser frame; the
// laser's mounting pose carries it into the base frame.
type Beam struct {
	Range   float64
	Bearing float64
}

// LaserData is one scan prepared for a sensor update.
type LaserData struct {
	Laser    *Laser
	Beams    []Beam
	RangeMax float64
}

// Laser scores particles against scans. It holds a handle to the installed
// map; when the map is replaced the coordinator rebuilds its lasers before
// releasing the old map.
type Laser struct {
	m        *Map
	maxBeams int
	pose     Pose // laser pose in the base frame
	typ      LaserModelType

	zHit        float64
	zShort      float64
	zMax        float64
	zRand       float64
	sigmaHit    float64
	lambdaShort float64

	doBeamskip             bool
	beamSkipDistance       float64
	beamSkipThreshold      float64
	beamSkipErrorThreshold float64
}

// NewLaser creates a laser bound to the installed map. The model must be
// configured with one of the SetModel methods before use.
func NewLaser(maxBeams int, m *Map) *Laser {
	return &Laser{m: m, maxBeams: maxBeams}
}

// SetPose records the laser's mounting pose in the base frame.
func (l *Laser) SetPose(p Pose) {
	l.pose = p
}

// Pose returns the laser's mounting pose in the base frame.
func (l *Laser) Pose() Pose {
	return l.pose
}

// Clone returns a copy sharing the map, used for the per-frame-id registry.
func (l *Laser) Clone() *Laser {
	c := *l
	return &c
}

// SetModelBeam configures the ray-casting mixture model.
func (l *Laser) SetModelBeam(zHit, zShort, zMax, zRand, sigmaHit, lambdaShort float64) {
	l.typ = LaserModelBeam
	l.zHit, l.zShort, l.zMax, l.zRand = zHit, zShort, zMax, zRand
	l.sigmaHit, l.lambdaShort = sigmaHit, lambdaShort
}

// SetModelLikelihoodField configures the likelihood-field model and
// (re)builds the map's distance field out to maxDist.
func (l *Laser) SetModelLikelihoodField(zHit, zRand, sigmaHit, maxDist float64) {
	l.typ = LaserModelLikelihoodField
	l.zHit, l.zRand, l.sigmaHit = zHit, zRand, sigmaHit
	l.m.UpdateCSpace(maxDist)
}

// SetModelLikelihoodFieldProb configures the likelihood-field model with
// explicit probabilities and optional beam skipping.
func (l *Laser) SetModelLikelihoodFieldProb(zHit, zRand, sigmaHit, maxDist float64,
	doBeamskip bool, beamSkipDistance, beamSkipThreshold, beamSkipErrorThreshold float64) {
	l.typ = LaserModelLikelihoodFieldProb
	l.zHit, l.zRand, l.sigmaHit = zHit, zRand, sigmaHit
	l.doBeamskip = doBeamskip
	l.beamSkipDistance = beamSkipDistance
	l.beamSkipThreshold = beamSkipThreshold
	l.beamSkipErrorThreshold = beamSkipErrorThreshold
	l.m.UpdateCSpace(maxDist)
}

// UpdateSensor reweights the filter's current set against the scan.
// Returns true when an update was applied.
func (l *Laser) UpdateSensor(f *Filter, data *LaserData) bool {
	if len(data.Beams) == 0 {
		return false
	}
	switch l.typ {
	case LaserModelBeam:
		f.UpdateSensor(func(set *SampleSet) float64 { return l.beamModel(data, set) })
	case LaserModelLikelihoodField:
		f.UpdateSensor(func(set *SampleSet) float64 { return l.likelihoodFieldModel(data, set) })
	case LaserModelLikelihoodFieldProb:
		f.UpdateSensor(func(set *SampleSet) float64 { return l.likelihoodFieldProbModel(data, set) })
	default:
		return false
	}
	return true
}

// beamStep returns the subsampling stride so at most maxBeams are scored.
func (l *Laser) beamStep(count int) int {
	if l.maxBeams <= 1 || count <= l.maxBeams {
		return 1
	}
	step := (count - 1) / (l.maxBeams - 1)
	if step < 1 {
		step = 1
	}
	return step
}

func (l *Laser) beamModel(data *LaserData, set *SampleSet) float64 {
	step := l.beamStep(len(data.Beams))
	zHitDenom := 2 * l.sigmaHit * l.sigmaHit

	total := 0.0
	for i := range set.Samples {
		s := &set.Samples[i]
		pose := Compose(s.Pose, l.pose)

		p := 1.0
		for bi := 0; bi < len(data.Beams); bi += step {
			obsRange := data.Beams[bi].Range
			obsBearing := data.Beams[bi].Bearing

			mapRange := l.m.RangeCast(pose.X, pose.Y, pose.Theta+obsBearing, data.RangeMax)
			z := obsRange - mapRange

			pz := l.zHit * math.Exp(-(z*z)/zHitDenom)
			if z < 0 {
				pz += l.zShort * l.lambdaShort * math.Exp(-l.lambdaShort*obsRange)
			}
			if obsRange == data.RangeMax {
				pz += l.zMax
			}
			if obsRange < data.RangeMax {
				pz += l.zRand / data.RangeMax
			}
			p *= pz
		}
		s.Weight *= p
		total += s.Weight
	}
	return total
}

// endpointDist returns the obstacle distance at the beam endpoint for the
// given laser pose.
func (l *Laser) endpointDist(pose Pose, b Beam) float64 {
	hx := pose.X + b.Range*math.Cos(pose.Theta+b.Bearing)
	hy := pose.Y + b.Range*math.Sin(pose.Theta+b.Bearing)
	return l.m.OccDistAt(hx, hy)
}

func (l *Laser) likelihoodFieldModel(data *LaserData, set *SampleSet) float64 {
	step := l.beamStep(len(data.Beams))
	zHitDenom := 2 * l.sigmaHit * l.sigmaHit
	zRandMult := 1.0 / data.RangeMax

	total := 0.0
	for i := range set.Samples {
		s := &set.Samples[i]
		pose := Compose(s.Pose, l.pose)

		p := 1.0
		for bi := 0; bi < len(data.Beams); bi += step {
			b := data.Beams[bi]
			// Beams at or past max range carry no endpoint information.
			if b.Range >= data.RangeMax || math.IsNaN(b.Range) {
				continue
			}
			z := l.endpointDist(pose, b)
			pz := l.zHit*math.Exp(-(z*z)/zHitDenom) + l.zRand*zRandMult
			p *= pz
		}
		s.Weight *= p
		total += s.Weight
	}
	return total
}

func (l *Laser) likelihoodFieldProbModel(data *LaserData, set *SampleSet) float64 {
	step := l.beamStep(len(data.Beams))
	zHitDenom := 2 * l.sigmaHit * l.sigmaHit
	zRandMult := 1.0 / data.RangeMax

	// Indices of the beams actually scored.
	beamIdx := make([]int, 0, l.maxBeams)
	for bi := 0; bi < len(data.Beams); bi += step {
		b := data.Beams[bi]
		if b.Range >= data.RangeMax || math.IsNaN(b.Range) {
			continue
		}
		beamIdx = append(beamIdx, bi)
	}
	if len(beamIdx) == 0 {
		return 0
	}

	// Residual obstacle distance per particle per scored beam.
	dists := make([][]float64, len(set.Samples))
	agree := make([]int, len(beamIdx))
	for i := range set.Samples {
		pose := Compose(set.Samples[i].Pose, l.pose)
		dists[i] = make([]float64, len(beamIdx))
		for k, bi := range beamIdx {
			z := l.endpointDist(pose, data.Beams[bi])
			dists[i][k] = z
			if z < l.beamSkipDistance {
				agree[k]++
			}
		}
	}

	// Decide which beams to keep. A beam is skipped when too few particles
	// agree with it; if too many beams would be skipped the filter is likely
	// divergent and every beam is used instead.
	use := make([]bool, len(beamIdx))
	for k := range use {
		use[k] = true
	}
	if l.doBeamskip {
		required := l.beamSkipThreshold * float64(len(set.Samples))
		skipped := 0
		for k := range beamIdx {
			if float64(agree[k]) < required {
				use[k] = false
				skipped++
			}
		}
		if float64(skipped) > l.beamSkipErrorThreshold*float64(len(beamIdx)) {
			log.Printf("Over %.0f%% of beams disagree with the cloud; using all beams", l.beamSkipErrorThreshold*100)
			for k := range use {
				use[k] = true
			}
		}
	}

	total := 0.0
	for i := range set.Samples {
		s := &set.Samples[i]
		p := 1.0
		for k := range beamIdx {
			if !use[k] {
				continue
			}
			z := dists[i][k]
			pz := l.zHit*math.Exp(-(z*z)/zHitDenom) + l.zRand*zRandMult
			p *= pz
		}
		s.Weight *= p
		total += s.Weight
	}
	return total
}
