package amcl

import (
	"math"
	"math/rand"
	"testing"
)

// fixedFilter returns a filter whose particles all sit exactly at p.
func fixedFilter(t *testing.T, n int, p Pose) *Filter {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	f := NewFilter(n, n, 0.001, 0.1, rng)
	f.InitModel(func(rng *rand.Rand) Pose { return p })
	return f
}

func TestDiffModel_NoiselessTranslation(t *testing.T) {
	f := fixedFilter(t, 200, Pose{})
	model := NewOdomModel(OdomModelDiff, 0, 0, 0, 0, 0)

	delta := Pose{X: 1.0, Y: 0, Theta: 0}
	if !model.UpdateAction(f, &OdomData{Pose: delta, Delta: delta}) {
		t.Fatal("update reported no work")
	}

	f.ClusterStats()
	mean := f.CurrentSet().Mean
	if math.Abs(mean.X-1.0) > 1e-6 || math.Abs(mean.Y) > 1e-6 || math.Abs(mean.Theta) > 1e-6 {
		t.Errorf("mean after noiseless translation = %+v, want (1, 0, 0)", mean)
	}
}

func TestDiffModel_NoiselessArc(t *testing.T) {
	// Start facing +y; odometry reports a step of (0, 1) with no turn.
	f := fixedFilter(t, 50, Pose{Theta: math.Pi / 2})
	model := NewOdomModel(OdomModelDiff, 0, 0, 0, 0, 0)

	// Odometry also started at theta pi/2.
	pose := Pose{X: 0, Y: 1, Theta: math.Pi / 2}
	delta := Pose{X: 0, Y: 1, Theta: 0}
	model.UpdateAction(f, &OdomData{Pose: pose, Delta: delta})

	f.ClusterStats()
	mean := f.CurrentSet().Mean
	if math.Abs(mean.X) > 1e-6 || math.Abs(mean.Y-1.0) > 1e-6 {
		t.Errorf("mean after forward step at heading pi/2 = %+v, want (0, 1)", mean)
	}
}

func TestDiffModel_PureRotationGuard(t *testing.T) {
	f := fixedFilter(t, 50, Pose{})
	model := NewOdomModel(OdomModelDiff, 0, 0, 0, 0, 0)

	// Rotation in place: trans below threshold, rot1 must be suppressed.
	delta := Pose{X: 0.001, Y: 0, Theta: 1.0}
	model.UpdateAction(f, &OdomData{Pose: delta, Delta: delta})

	f.ClusterStats()
	mean := f.CurrentSet().Mean
	if math.Abs(AngleDiff(mean.Theta, 1.0)) > 1e-6 {
		t.Errorf("theta after pure rotation = %f, want 1.0", mean.Theta)
	}
	if math.Abs(mean.X) > 0.01 || math.Abs(mean.Y) > 0.01 {
		t.Errorf("position drifted to (%f, %f) on pure rotation", mean.X, mean.Y)
	}
}

func TestDiffModel_NoiseSpreads(t *testing.T) {
	f := fixedFilter(t, 500, Pose{})
	model := NewOdomModel(OdomModelDiff, 0.2, 0.2, 0.2, 0.2, 0)

	delta := Pose{X: 1.0, Y: 0, Theta: 0}
	model.UpdateAction(f, &OdomData{Pose: delta, Delta: delta})

	var minX, maxX float64
	for i, s := range f.CurrentSet().Samples {
		if i == 0 || s.Pose.X < minX {
			minX = s.Pose.X
		}
		if i == 0 || s.Pose.X > maxX {
			maxX = s.Pose.X
		}
	}
	if maxX-minX < 1e-3 {
		t.Errorf("no spread after noisy translation: [%f, %f]", minX, maxX)
	}
}

func TestOmniModel_NoiselessStrafe(t *testing.T) {
	// An omnidirectional base strafing sideways: delta (0, 1) with heading 0.
	f := fixedFilter(t, 50, Pose{})
	model := NewOdomModel(OdomModelOmni, 0, 0, 0, 0, 0)

	pose := Pose{X: 0, Y: 1, Theta: 0}
	delta := Pose{X: 0, Y: 1, Theta: 0}
	model.UpdateAction(f, &OdomData{Pose: pose, Delta: delta})

	f.ClusterStats()
	mean := f.CurrentSet().Mean
	if math.Abs(mean.X) > 1e-6 || math.Abs(mean.Y-1.0) > 1e-6 || math.Abs(mean.Theta) > 1e-6 {
		t.Errorf("mean after noiseless strafe = %+v, want (0, 1, 0)", mean)
	}
}

func TestCorrectedModels_NoiselessMatchPlain(t *testing.T) {
	for _, typ := range []OdomModelType{OdomModelDiffCorrected, OdomModelOmniCorrected} {
		f := fixedFilter(t, 50, Pose{})
		model := NewOdomModel(typ, 0, 0, 0, 0, 0)

		delta := Pose{X: 1.0, Y: 0, Theta: 0.2}
		model.UpdateAction(f, &OdomData{Pose: delta, Delta: delta})

		f.ClusterStats()
		mean := f.CurrentSet().Mean
		if math.Abs(mean.X-1.0) > 1e-6 {
			t.Errorf("%s: mean x = %f, want 1.0", typ, mean.X)
		}
		if math.Abs(AngleDiff(mean.Theta, 0.2)) > 1e-6 {
			t.Errorf("%s: mean theta = %f, want 0.2", typ, mean.Theta)
		}
	}
}

func TestParseOdomModelType_Fallback(t *testing.T) {
	if got := ParseOdomModelType("omni-corrected"); got != OdomModelOmniCorrected {
		t.Errorf("parse omni-corrected = %v", got)
	}
	if got := ParseOdomModelType("hovercraft"); got != OdomModelDiff {
		t.Errorf("unknown model parsed to %v, want diff fallback", got)
	}
}
