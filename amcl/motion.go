package amcl

import (
	"math"
	"math/rand"
)

// OdomModelType selects the odometry noise model.
type OdomModelType int

const (
	OdomModelDiff OdomModelType = iota
	OdomModelOmni
	OdomModelDiffCorrected
	OdomModelOmniCorrected
)

func (t OdomModelType) String() string {
	switch t {
	case OdomModelDiff:
		return "diff"
	case OdomModelOmni:
		return "omni"
	case OdomModelDiffCorrected:
		return "diff-corrected"
	case OdomModelOmniCorrected:
		return "omni-corrected"
	}
	return "unknown"
}

// OdomData carries the current odometric pose and the delta since the last
// filter update.
type OdomData struct {
	Pose  Pose
	Delta Pose
}

// OdomModel applies an odometric delta to every particle with sampled noise.
type OdomModel struct {
	typ    OdomModelType
	alpha1 float64
	alpha2 float64
	alpha3 float64
	alpha4 float64
	alpha5 float64
}

// NewOdomModel builds a motion model of the given type with noise
// parameters alpha1..alpha5 (alpha5 is only used by the omni variants).
func NewOdomModel(typ OdomModelType, alpha1, alpha2, alpha3, alpha4, alpha5 float64) *OdomModel {
	return &OdomModel{typ: typ, alpha1: alpha1, alpha2: alpha2, alpha3: alpha3, alpha4: alpha4, alpha5: alpha5}
}

func gauss(rng *rand.Rand, variance float64) float64 {
	if variance <= 0 {
		return 0
	}
	return rng.NormFloat64() * math.Sqrt(variance)
}

// UpdateAction perturbs every particle of the current set by the delta in
// data plus model noise. Returns true when the set was modified.
func (o *OdomModel) UpdateAction(f *Filter, data *OdomData) bool {
	set := f.CurrentSet()
	if len(set.Samples) == 0 {
		return false
	}
	rng := f.RNG()

	// Pose before this delta was applied.
	oldPose := Pose{
		X:     data.Pose.X - data.Delta.X,
		Y:     data.Pose.Y - data.Delta.Y,
		Theta: NormalizeAngle(data.Pose.Theta - data.Delta.Theta),
	}

	switch o.typ {
	case OdomModelDiff, OdomModelDiffCorrected:
		o.updateDiff(rng, set, oldPose, data)
	case OdomModelOmni, OdomModelOmniCorrected:
		o.updateOmni(rng, set, oldPose, data)
	}
	return true
}

func (o *OdomModel) updateDiff(rng *rand.Rand, set *SampleSet, oldPose Pose, data *OdomData) {
	deltaTrans := math.Hypot(data.Delta.X, data.Delta.Y)

	var deltaRot1 float64
	// Pure rotation in place yields a meaningless bearing; suppress rot1.
	if deltaTrans < 0.01 {
		deltaRot1 = 0
	} else {
		deltaRot1 = AngleDiff(math.Atan2(data.Delta.Y, data.Delta.X), oldPose.Theta)
	}
	deltaRot2 := AngleDiff(data.Delta.Theta, deltaRot1)

	rot1 := deltaRot1
	rot2 := deltaRot2
	if o.typ == OdomModelDiffCorrected {
		// Fold rotations so driving backwards is not charged as a half turn.
		rot1 = math.Min(math.Abs(AngleDiff(deltaRot1, 0)), math.Abs(AngleDiff(deltaRot1, math.Pi)))
		rot2 = math.Min(math.Abs(AngleDiff(deltaRot2, 0)), math.Abs(AngleDiff(deltaRot2, math.Pi)))
	}

	varRot1 := o.alpha1*rot1*rot1 + o.alpha2*deltaTrans*deltaTrans
	varTrans := o.alpha3*deltaTrans*deltaTrans + o.alpha4*(rot1*rot1+rot2*rot2)
	varRot2 := o.alpha1*rot2*rot2 + o.alpha2*deltaTrans*deltaTrans

	for i := range set.Samples {
		p := &set.Samples[i].Pose
		rot1Hat := AngleDiff(deltaRot1, gauss(rng, varRot1))
		transHat := deltaTrans - gauss(rng, varTrans)
		rot2Hat := AngleDiff(deltaRot2, gauss(rng, varRot2))

		p.X += transHat * math.Cos(p.Theta+rot1Hat)
		p.Y += transHat * math.Sin(p.Theta+rot1Hat)
		p.Theta = NormalizeAngle(p.Theta + rot1Hat + rot2Hat)
	}
}

func (o *OdomModel) updateOmni(rng *rand.Rand, set *SampleSet, oldPose Pose, data *OdomData) {
	deltaTrans := math.Hypot(data.Delta.X, data.Delta.Y)
	deltaRot := data.Delta.Theta

	rot := deltaRot
	if o.typ == OdomModelOmniCorrected {
		rot = math.Min(math.Abs(AngleDiff(deltaRot, 0)), math.Abs(AngleDiff(deltaRot, math.Pi)))
	}

	varTrans := o.alpha3*deltaTrans*deltaTrans + o.alpha1*rot*rot
	varRot := o.alpha1*rot*rot + o.alpha2*deltaTrans*deltaTrans
	varStrafe := o.alpha4*rot*rot + o.alpha5*deltaTrans*deltaTrans

	heading := AngleDiff(math.Atan2(data.Delta.Y, data.Delta.X), oldPose.Theta)

	for i := range set.Samples {
		p := &set.Samples[i].Pose
		bearing := NormalizeAngle(heading + p.Theta)

		transHat := deltaTrans + gauss(rng, varTrans)
		rotHat := deltaRot + gauss(rng, varRot)
		strafeHat := gauss(rng, varStrafe)

		p.X += transHat*math.Cos(bearing) + strafeHat*math.Cos(bearing+math.Pi/2)
		p.Y += transHat*math.Sin(bearing) + strafeHat*math.Sin(bearing+math.Pi/2)
		p.Theta = NormalizeAngle(p.Theta + rotHat)
	}
}
