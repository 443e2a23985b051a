package amcl

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// PoseSink receives the estimator's outputs. Implementations publish to the
// transport; tests capture them directly.
type PoseSink interface {
	PublishPose(p *PoseEstimate)
	PublishCloud(frameID string, stamp time.Time, poses []Pose)
	PublishTransform(t *TransformMsg)
}

// UniformPoseGenerator returns a generator drawing poses uniformly over the
// map's free cells. The free-cell list is captured explicitly so multiple
// filters over different maps stay independent.
func UniformPoseGenerator(m *Map) PoseGenerator {
	return func(rng *rand.Rand) Pose {
		gp := m.FreeCells[rng.Intn(len(m.FreeCells))]
		x, y := m.GridToWorld(gp.I, gp.J)
		return Pose{
			X:     x,
			Y:     y,
			Theta: rng.Float64()*2*math.Pi - math.Pi,
		}
	}
}

type hypothesis struct {
	mean Pose
	cov  *mat.SymDense
}

// Node sequences map installation, motion updates, sensor updates,
// resampling and transform publication. One mutex serializes every event
// handler; the filter is only ever touched under it.
type Node struct {
	mu sync.Mutex

	cfg *Config
	tf  TransformSource
	pub PoseSink
	rng *rand.Rand

	store *PoseStore
	clock func() time.Time

	m          *Map
	pf         *Filter
	pfInit     bool
	uniformGen PoseGenerator
	odomModel  *OdomModel

	// Per-frame-id laser registry, rebuilt on every map install.
	laser        *Laser // template
	lasers       []*Laser
	lasersUpdate []bool
	frameToLaser map[string]int

	odomPose      Pose // odom pose at the last filter update
	forceUpdate   bool
	resampleCount int

	latestTF      Pose // map -> odom correction
	latestTFValid bool

	initialPoseHyp   *hypothesis
	firstMapReceived bool

	lastPublishedPose PoseEstimate
	hasPublished      bool
	savePoseLast      time.Time
	lastLaserReceived time.Time
}

// NodeOption customizes a Node at construction.
type NodeOption func(*Node)

// WithPoseStore persists the last-known pose and, when a cached pose
// exists, seeds the initial pose from it.
func WithPoseStore(s *PoseStore) NodeOption {
	return func(n *Node) { n.store = s }
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) NodeOption {
	return func(n *Node) { n.clock = clock }
}

// NewNode creates the coordinator. The filter itself is allocated when the
// first map arrives.
func NewNode(cfg *Config, tf TransformSource, pub PoseSink, opts ...NodeOption) *Node {
	n := &Node{
		cfg:          cfg,
		tf:           tf,
		pub:          pub,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		clock:        time.Now,
		frameToLaser: make(map[string]int),
	}
	for _, o := range opts {
		o(n)
	}
	if n.store != nil {
		if saved, err := n.store.Load(); err == nil {
			cfg.InitialPoseX = saved.X
			cfg.InitialPoseY = saved.Y
			cfg.InitialPoseA = saved.Yaw
			cfg.InitialCovXX = saved.CovXX
			cfg.InitialCovYY = saved.CovYY
			cfg.InitialCovAA = saved.CovAA
			log.Printf("restored pose from cache: %.3f %.3f %.3f", saved.X, saved.Y, saved.Yaw)
		}
	}
	return n
}

// HandleMap installs a map from the map stream, honoring first_map_only.
func (n *Node) HandleMap(msg *OccupancyGridMsg) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cfg.FirstMapOnly && n.firstMapReceived {
		return
	}
	n.installMap(msg)
	n.firstMapReceived = true
}

// SetMap installs a map and applies the accompanying initial pose. Unlike
// the map stream, a set_map request always replaces the map regardless of
// first_map_only.
func (n *Node) SetMap(grid *OccupancyGridMsg, initial *PoseWithCovarianceMsg) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.installMap(grid)
	n.firstMapReceived = true
	if initial != nil {
		n.handleInitialPoseLocked(initial)
	}
}

// installMap rebuilds the filter, motion model and laser registry against
// the new map. The old map is only unreferenced after every dependent
// sensor has been rebuilt.
func (n *Node) installMap(msg *OccupancyGridMsg) {
	log.Printf("received a %d x %d map @ %.3f m/cell", msg.Width, msg.Height, msg.Resolution)

	m := NewMapFromGrid(msg)

	n.pf = NewFilter(n.cfg.MinParticles, n.cfg.MaxParticles,
		n.cfg.RecoveryAlphaSlow, n.cfg.RecoveryAlphaFast, n.rng)
	n.pf.SetPopulationParams(n.cfg.KLDErr, n.cfg.KLDZ)
	n.uniformGen = UniformPoseGenerator(m)

	mean := Pose{X: n.cfg.InitialPoseX, Y: n.cfg.InitialPoseY, Theta: n.cfg.InitialPoseA}
	cov := mat.NewSymDense(3, nil)
	cov.SetSym(0, 0, n.cfg.InitialCovXX)
	cov.SetSym(1, 1, n.cfg.InitialCovYY)
	cov.SetSym(2, 2, n.cfg.InitialCovAA)
	n.pf.Init(mean, cov)
	n.pfInit = false

	n.odomModel = NewOdomModel(ParseOdomModelType(n.cfg.OdomModelType),
		n.cfg.OdomAlpha1, n.cfg.OdomAlpha2, n.cfg.OdomAlpha3, n.cfg.OdomAlpha4, n.cfg.OdomAlpha5)

	laser := NewLaser(n.cfg.LaserMaxBeams, m)
	switch ParseLaserModelType(n.cfg.LaserModelType) {
	case LaserModelBeam:
		laser.SetModelBeam(n.cfg.LaserZHit, n.cfg.LaserZShort, n.cfg.LaserZMax,
			n.cfg.LaserZRand, n.cfg.LaserSigmaHit, n.cfg.LaserLambdaShort)
	case LaserModelLikelihoodFieldProb:
		log.Printf("initializing likelihood field model; this can take some time on large maps...")
		laser.SetModelLikelihoodFieldProb(n.cfg.LaserZHit, n.cfg.LaserZRand, n.cfg.LaserSigmaHit,
			n.cfg.LaserLikelihoodMaxDist, n.cfg.DoBeamskip, n.cfg.BeamSkipDistance,
			n.cfg.BeamSkipThreshold, n.cfg.BeamSkipErrorThreshold)
		log.Printf("done initializing likelihood field model")
	default:
		log.Printf("initializing likelihood field model; this can take some time on large maps...")
		laser.SetModelLikelihoodField(n.cfg.LaserZHit, n.cfg.LaserZRand, n.cfg.LaserSigmaHit,
			n.cfg.LaserLikelihoodMaxDist)
		log.Printf("done initializing likelihood field model")
	}
	n.laser = laser

	// Queued lasers hold handles to the previous map; drop them.
	n.lasers = nil
	n.lasersUpdate = nil
	n.frameToLaser = make(map[string]int)

	n.m = m

	// An initial pose that arrived before the map applies now.
	n.applyInitialPose()
}

// HandleInitialPose re-seeds the filter about a user-supplied pose,
// integrating any odometric motion since the message stamp.
func (n *Node) HandleInitialPose(msg *PoseWithCovarianceMsg) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handleInitialPoseLocked(msg)
}

func (n *Node) handleInitialPoseLocked(msg *PoseWithCovarianceMsg) {
	if msg.FrameID == "" {
		log.Printf("received initial pose with empty frame_id; assuming %q", n.cfg.GlobalFrameID)
	} else if msg.FrameID != n.cfg.GlobalFrameID {
		log.Printf("ignoring initial pose in frame %q; initial poses must be in the global frame %q",
			msg.FrameID, n.cfg.GlobalFrameID)
		return
	}

	// The estimate may be stamped in the past; fold in the base motion
	// between then and now.
	txOdom := Pose{}
	then, errThen := n.tf.Lookup(n.cfg.OdomFrameID, n.cfg.BaseFrameID, msg.Stamp)
	now, errNow := n.tf.Lookup(n.cfg.OdomFrameID, n.cfg.BaseFrameID, time.Time{})
	if errThen == nil && errNow == nil {
		txOdom = Compose(Invert(then), now)
	} else if n.hasPublished {
		log.Printf("failed to transform initial pose in time; using it as-is")
	}

	poseNew := Compose(Pose{X: msg.X, Y: msg.Y, Theta: msg.Yaw}, txOdom)
	log.Printf("setting pose: %.3f %.3f %.3f", poseNew.X, poseNew.Y, poseNew.Theta)

	cov := mat.NewSymDense(3, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j <= i; j++ {
			cov.SetSym(i, j, msg.Covariance[6*i+j])
		}
	}
	cov.SetSym(2, 2, msg.Covariance[6*5+5])

	n.initialPoseHyp = &hypothesis{mean: poseNew, cov: cov}
	n.applyInitialPose()
}

// applyInitialPose applies a pending initial pose once both it and a map
// exist. The pending hypothesis is consumed.
func (n *Node) applyInitialPose() {
	if n.initialPoseHyp == nil || n.m == nil {
		return
	}
	n.pf.Init(n.initialPoseHyp.mean, n.initialPoseHyp.cov)
	n.pfInit = false
	n.initialPoseHyp = nil
}

// GlobalLocalization scatters the filter uniformly over free space.
func (n *Node) GlobalLocalization() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.m == nil {
		return
	}
	log.Printf("initializing with uniform distribution")
	n.pf.InitModel(n.uniformGen)
	n.pfInit = false
}

// RequestNoMotionUpdate forces the next scan to run a full update even with
// no odometric motion.
func (n *Node) RequestNoMotionUpdate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.forceUpdate = true
	log.Printf("requesting no-motion update")
}

// HandleCommand dispatches a service-style request.
func (n *Node) HandleCommand(cmd *CommandMsg) {
	switch cmd.Action {
	case "global_localization":
		n.GlobalLocalization()
	case "nomotion_update":
		n.RequestNoMotionUpdate()
	case "set_map":
		if cmd.Map == nil {
			log.Printf("set_map request without a map; ignoring")
			return
		}
		n.SetMap(cmd.Map, cmd.InitialPose)
	default:
		log.Printf("unknown command %q", cmd.Action)
	}
}

// laserForFrame returns the registry index for a scan frame, creating the
// laser on first sight by looking up its mounting pose in the base frame.
func (n *Node) laserForFrame(frameID string) (int, bool) {
	if idx, ok := n.frameToLaser[frameID]; ok {
		return idx, true
	}

	pose, err := n.tf.Lookup(n.cfg.BaseFrameID, frameID, time.Time{})
	if err != nil {
		log.Printf("couldn't transform from %s to %s: %v", frameID, n.cfg.BaseFrameID, err)
		return 0, false
	}

	l := n.laser.Clone()
	l.SetPose(pose)
	idx := len(n.lasers)
	n.lasers = append(n.lasers, l)
	n.lasersUpdate = append(n.lasersUpdate, true)
	n.frameToLaser[frameID] = idx
	log.Printf("laser %d (frame %s) pose wrt base: %.3f %.3f %.3f", idx, frameID, pose.X, pose.Y, pose.Theta)
	return idx, true
}

// buildLaserData clamps ranges and computes per-beam bearings in the laser
// frame; the laser mounting pose carries them into the base frame.
func (n *Node) buildLaserData(idx int, scan *LaserScanMsg) *LaserData {
	rangeMax := scan.RangeMax
	if n.cfg.LaserMaxRange > 0 {
		rangeMax = math.Min(scan.RangeMax, n.cfg.LaserMaxRange)
	}
	rangeMin := scan.RangeMin
	if n.cfg.LaserMinRange > 0 {
		rangeMin = math.Max(scan.RangeMin, n.cfg.LaserMinRange)
	}

	inc := math.Mod(scan.AngleIncrement+5*math.Pi, 2*math.Pi) - math.Pi

	beams := make([]Beam, len(scan.Ranges))
	for i, r := range scan.Ranges {
		// There is no notion of a minimum range downstream; short readings
		// are mapped to max range so they carry no endpoint information.
		if r <= rangeMin {
			r = rangeMax
		}
		beams[i] = Beam{
			Range:   r,
			Bearing: scan.AngleMin + float64(i)*inc,
		}
	}
	return &LaserData{Laser: n.lasers[idx], Beams: beams, RangeMax: rangeMax}
}

// HandleScan runs one estimator cycle for an incoming scan.
func (n *Node) HandleScan(scan *LaserScanMsg) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.lastLaserReceived = n.clock()
	if n.m == nil {
		return
	}

	laserIndex, ok := n.laserForFrame(scan.FrameID)
	if !ok {
		return
	}

	// Where was the robot when this scan was taken?
	pose, err := n.tf.Lookup(n.cfg.OdomFrameID, n.cfg.BaseFrameID, scan.Stamp)
	if err != nil {
		log.Printf("couldn't determine robot's pose for scan: %v", err)
		return
	}

	var delta Pose
	if n.pfInit {
		delta = Pose{
			X:     pose.X - n.odomPose.X,
			Y:     pose.Y - n.odomPose.Y,
			Theta: AngleDiff(pose.Theta, n.odomPose.Theta),
		}

		update := math.Abs(delta.X) > n.cfg.UpdateMinD ||
			math.Abs(delta.Y) > n.cfg.UpdateMinD ||
			math.Abs(delta.Theta) > n.cfg.UpdateMinA
		update = update || n.forceUpdate
		n.forceUpdate = false

		if update {
			for i := range n.lasersUpdate {
				n.lasersUpdate[i] = true
			}
		}
	}

	forcePublication := false
	if !n.pfInit {
		// First scan after (re)initialization seeds the odometry baseline.
		n.odomPose = pose
		n.pfInit = true
		for i := range n.lasersUpdate {
			n.lasersUpdate[i] = true
		}
		forcePublication = true
		n.resampleCount = 0
	} else if n.lasersUpdate[laserIndex] {
		n.odomModel.UpdateAction(n.pf, &OdomData{Pose: pose, Delta: delta})
	}

	resampled := false
	if n.lasersUpdate[laserIndex] {
		data := n.buildLaserData(laserIndex, scan)
		n.lasers[laserIndex].UpdateSensor(n.pf, data)
		n.lasersUpdate[laserIndex] = false

		n.odomPose = pose

		n.resampleCount++
		if n.resampleCount%n.cfg.ResampleInterval == 0 {
			n.pf.UpdateResample(n.uniformGen)
			resampled = true
		}

		set := n.pf.CurrentSet()
		poses := make([]Pose, len(set.Samples))
		for i, s := range set.Samples {
			poses[i] = s.Pose
		}
		n.pub.PublishCloud(n.cfg.GlobalFrameID, scan.Stamp, poses)
	}

	if resampled || forcePublication {
		if !resampled {
			n.pf.ClusterStats()
		}

		best, ok := n.pf.BestCluster()
		if !ok || best.Weight <= 0 {
			log.Printf("no pose hypothesis available")
			return
		}

		set := n.pf.CurrentSet()
		est := PoseEstimate{
			FrameID: n.cfg.GlobalFrameID,
			Stamp:   scan.Stamp,
			Pose:    best.Mean,
		}
		// Report the overall filter covariance rather than the covariance
		// of the highest-weight cluster.
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				est.Covariance[6*i+j] = set.Cov.At(i, j)
			}
		}
		est.Covariance[6*5+5] = set.Cov.At(2, 2)

		n.pub.PublishPose(&est)
		n.lastPublishedPose = est
		n.hasPublished = true

		// map -> odom correction: best pose in map composed with the
		// inverse of the base pose in odom.
		n.latestTF = Compose(best.Mean, Invert(pose))
		n.latestTFValid = true

		if n.cfg.TFBroadcast {
			n.broadcastTransform(scan.Stamp)
		}
	} else if n.latestTFValid {
		// Nothing changed; re-broadcast the previous transform with a fresh
		// expiration to keep the transform tree live.
		if n.cfg.TFBroadcast {
			n.broadcastTransform(scan.Stamp)
		}
		n.maybeSavePose()
	}
}

func (n *Node) broadcastTransform(scanStamp time.Time) {
	expiration := scanStamp.Add(time.Duration(n.cfg.TransformTolerance * float64(time.Second)))
	n.pub.PublishTransform(&TransformMsg{
		Parent: n.cfg.GlobalFrameID,
		Child:  n.cfg.OdomFrameID,
		Stamp:  expiration,
		X:      n.latestTF.X,
		Y:      n.latestTF.Y,
		Yaw:    n.latestTF.Theta,
	})
}

// maybeSavePose persists the current map-frame pose at the configured rate.
func (n *Node) maybeSavePose() {
	if n.store == nil || n.cfg.SavePoseRate <= 0 {
		return
	}
	period := time.Duration(float64(time.Second) / n.cfg.SavePoseRate)
	now := n.clock()
	if now.Sub(n.savePoseLast) < period {
		return
	}
	n.savePoseLast = now

	mapPose := Compose(n.latestTF, n.odomPose)
	saved := &SavedPose{
		X:       mapPose.X,
		Y:       mapPose.Y,
		Yaw:     mapPose.Theta,
		CovXX:   n.lastPublishedPose.Covariance[6*0+0],
		CovYY:   n.lastPublishedPose.Covariance[6*1+1],
		CovAA:   n.lastPublishedPose.Covariance[6*5+5],
		SavedAt: now,
	}
	if err := n.store.Save(saved); err != nil {
		log.Printf("failed to save pose: %v", err)
	}
}

// CheckLaserReceived warns when no scan has arrived within the interval.
func (n *Node) CheckLaserReceived(interval time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lastLaserReceived.IsZero() {
		return
	}
	if d := n.clock().Sub(n.lastLaserReceived); d > interval {
		log.Printf("no laser scan received (and thus no pose updates published) for %.1f seconds", d.Seconds())
	}
}

// Particles returns a snapshot of the current particle poses.
func (n *Node) Particles() []Pose {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pf == nil {
		return nil
	}
	set := n.pf.CurrentSet()
	poses := make([]Pose, len(set.Samples))
	for i, s := range set.Samples {
		poses[i] = s.Pose
	}
	return poses
}

// LastPose returns the most recently published estimate.
func (n *Node) LastPose() (PoseEstimate, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastPublishedPose, n.hasPublished
}

// Map returns the installed map, or nil. Maps are immutable once installed.
func (n *Node) Map() *Map {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.m
}

// HasMap reports whether a map has been installed.
func (n *Node) HasMap() bool {
	return n.Map() != nil
}
