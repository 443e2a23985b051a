package amcl

import (
	"math"
	"math/rand"
	"testing"
)

// twoParticleFilter returns a filter holding exactly the given poses with
// equal weights.
func twoParticleFilter(t *testing.T, poses ...Pose) *Filter {
	t.Helper()
	rng := rand.New(rand.NewSource(31))
	f := NewFilter(len(poses), len(poses), 0.001, 0.1, rng)
	i := 0
	f.InitModel(func(rng *rand.Rand) Pose {
		p := poses[i%len(poses)]
		i++
		return p
	})
	return f
}

func TestLikelihoodField_MaxRangeScanIsUninformative(t *testing.T) {
	m := NewMapFromGrid(corridorGrid(20, 20, 15, 1.0))
	laser := NewLaser(30, m)
	laser.SetModelLikelihoodField(0.95, 0.05, 0.2, 2.0)

	goodPose, _ := m.GridToWorld(5, 10)
	f := twoParticleFilter(t, Pose{X: goodPose}, Pose{X: goodPose - 3})

	before := make([]float64, 2)
	for i, s := range f.CurrentSet().Samples {
		before[i] = s.Weight
	}

	beams := make([]Beam, 30)
	for i := range beams {
		beams[i] = Beam{Range: 25.0, Bearing: float64(i) * 0.1}
	}
	laser.UpdateSensor(f, &LaserData{Beams: beams, RangeMax: 25.0})

	// Every beam at max range carries no information: relative weights are
	// unchanged after normalization.
	after := f.CurrentSet().Samples
	ratioBefore := before[0] / before[1]
	ratioAfter := after[0].Weight / after[1].Weight
	if math.Abs(ratioBefore-ratioAfter) > 1e-9 {
		t.Errorf("relative weights changed: %f -> %f", ratioBefore, ratioAfter)
	}
}

func TestLikelihoodField_PrefersTruePose(t *testing.T) {
	m := NewMapFromGrid(corridorGrid(20, 20, 15, 1.0))
	laser := NewLaser(30, m)
	laser.SetModelLikelihoodField(0.95, 0.05, 0.2, 2.0)

	// True robot at cell (5,10) facing the wall 10 m away.
	tx, ty := m.GridToWorld(5, 10)
	truePose := Pose{X: tx, Y: ty}
	wrongPose := Pose{X: tx - 4, Y: ty}

	f := twoParticleFilter(t, truePose, wrongPose)

	// A single forward beam measuring the true wall distance.
	data := &LaserData{Beams: []Beam{{Range: 10.0, Bearing: 0}}, RangeMax: 25.0}
	laser.UpdateSensor(f, data)

	samples := f.CurrentSet().Samples
	if samples[0].Weight <= samples[1].Weight {
		t.Errorf("true pose weight %f not above wrong pose weight %f",
			samples[0].Weight, samples[1].Weight)
	}
}

func TestBeamModel_PrefersTruePose(t *testing.T) {
	m := NewMapFromGrid(corridorGrid(20, 20, 15, 1.0))
	laser := NewLaser(30, m)
	laser.SetModelBeam(0.95, 0.1, 0.05, 0.05, 0.2, 0.1)

	tx, ty := m.GridToWorld(5, 10)
	f := twoParticleFilter(t, Pose{X: tx, Y: ty}, Pose{X: tx - 4, Y: ty})

	data := &LaserData{Beams: []Beam{{Range: 10.0, Bearing: 0}}, RangeMax: 25.0}
	laser.UpdateSensor(f, data)

	samples := f.CurrentSet().Samples
	if samples[0].Weight <= samples[1].Weight {
		t.Errorf("true pose weight %f not above wrong pose weight %f",
			samples[0].Weight, samples[1].Weight)
	}
}

func TestBeamModel_MountingPose(t *testing.T) {
	m := NewMapFromGrid(corridorGrid(20, 20, 15, 1.0))
	laser := NewLaser(30, m)
	laser.SetModelBeam(0.95, 0.1, 0.05, 0.05, 0.2, 0.1)
	// Laser mounted 1 m ahead of the base: expected wall range shrinks by 1.
	laser.SetPose(Pose{X: 1})

	tx, ty := m.GridToWorld(5, 10)
	f := twoParticleFilter(t, Pose{X: tx, Y: ty}, Pose{X: tx + 1, Y: ty})

	data := &LaserData{Beams: []Beam{{Range: 9.0, Bearing: 0}}, RangeMax: 25.0}
	laser.UpdateSensor(f, data)

	samples := f.CurrentSet().Samples
	if samples[0].Weight <= samples[1].Weight {
		t.Errorf("mounting offset not honored: %f vs %f",
			samples[0].Weight, samples[1].Weight)
	}
}

func TestLikelihoodFieldProb_BeamSkip(t *testing.T) {
	g := corridorGrid(40, 40, 30, 1.0)
	g.Data[10+25*40] = 100 // lone obstacle above the particles
	m := NewMapFromGrid(g)

	// Particles near cell (10,20): endpoints of the forward beams land on
	// the wall; a sideways outlier beam lands in open space, at different
	// obstacle distances for the two particles.
	tx, ty := m.GridToWorld(10, 20)
	poses := []Pose{{X: tx, Y: ty}, {X: tx, Y: ty + 0.2}}

	beams := make([]Beam, 10)
	for i := range beams {
		beams[i] = Beam{Range: 20.0, Bearing: 0}
	}
	beams[4] = Beam{Range: 3.4, Bearing: math.Pi / 2}

	run := func(doBeamskip bool) []float64 {
		laser := NewLaser(10, m)
		laser.SetModelLikelihoodFieldProb(0.95, 0.05, 0.2, 2.0, doBeamskip, 0.5, 0.3, 0.9)
		f := twoParticleFilter(t, poses...)
		laser.UpdateSensor(f, &LaserData{Beams: beams, RangeMax: 25.0})
		out := make([]float64, 2)
		for i, s := range f.CurrentSet().Samples {
			out[i] = s.Weight
		}
		return out
	}

	withSkip := run(true)
	withoutSkip := run(false)

	// With skipping the outlier is dropped and the symmetric particles stay
	// equally weighted; scoring every beam splits them.
	if math.Abs(withSkip[0]-withSkip[1]) > 1e-12 {
		t.Errorf("skip run weights differ: %g vs %g", withSkip[0], withSkip[1])
	}
	if math.Abs(withoutSkip[0]-withoutSkip[1]) < 1e-12 {
		t.Errorf("all-beams run did not discriminate: %g vs %g", withoutSkip[0], withoutSkip[1])
	}
}

func TestLikelihoodFieldProb_DegeneracyGuard(t *testing.T) {
	m := NewMapFromGrid(corridorGrid(40, 40, 30, 1.0))

	// Every beam disagrees with every particle: endpoints all land in open
	// space far from the wall.
	tx, ty := m.GridToWorld(5, 20)
	beams := make([]Beam, 10)
	for i := range beams {
		beams[i] = Beam{Range: 5.0, Bearing: math.Pi} // pointing away from the wall
	}

	run := func(doBeamskip bool) []float64 {
		laser := NewLaser(10, m)
		laser.SetModelLikelihoodFieldProb(0.95, 0.05, 0.2, 2.0, doBeamskip, 0.5, 0.3, 0.9)
		f := twoParticleFilter(t, Pose{X: tx, Y: ty}, Pose{X: tx + 1, Y: ty})
		laser.UpdateSensor(f, &LaserData{Beams: beams, RangeMax: 25.0})
		out := make([]float64, 2)
		for i, s := range f.CurrentSet().Samples {
			out[i] = s.Weight
		}
		return out
	}

	withSkip := run(true)
	withoutSkip := run(false)

	// The degeneracy guard falls back to scoring every beam, so both runs
	// must produce identical weights.
	for i := range withSkip {
		if math.Abs(withSkip[i]-withoutSkip[i]) > 1e-15 {
			t.Errorf("particle %d: guard run %g differs from all-beams run %g",
				i, withSkip[i], withoutSkip[i])
		}
	}
}

func TestBeamStep_Subsampling(t *testing.T) {
	m := NewMapFromGrid(emptyGrid(10, 10, 1.0))
	laser := NewLaser(30, m)

	if got := laser.beamStep(360); got != 12 {
		t.Errorf("step for 360 beams = %d, want 12", got)
	}
	if got := laser.beamStep(10); got != 1 {
		t.Errorf("step for 10 beams = %d, want 1", got)
	}
}

func TestParseLaserModelType_Fallback(t *testing.T) {
	if got := ParseLaserModelType("beam"); got != LaserModelBeam {
		t.Errorf("parse beam = %v", got)
	}
	if got := ParseLaserModelType("sonar"); got != LaserModelLikelihoodField {
		t.Errorf("unknown model parsed to %v, want likelihood_field fallback", got)
	}
}
