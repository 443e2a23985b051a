package amcl

import (
	"fmt"
	"log"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// MQTTConfig holds broker settings and topic names.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	MapTopic         string `yaml:"mapTopic"`
	ScanTopic        string `yaml:"scanTopic"`
	InitialPoseTopic string `yaml:"initialPoseTopic"`
	OdomTopic        string `yaml:"odomTopic"`
	CommandTopic     string `yaml:"commandTopic"`
	PublishPrefix    string `yaml:"publishPrefix"`
}

// Config is the full service configuration.
type Config struct {
	MQTT     MQTTConfig `yaml:"mqtt"`
	HTTPPort int        `yaml:"httpPort"`

	// Sampling
	MinParticles int     `yaml:"min_particles"`
	MaxParticles int     `yaml:"max_particles"`
	KLDErr       float64 `yaml:"kld_err"`
	KLDZ         float64 `yaml:"kld_z"`

	// Motion model
	OdomModelType string  `yaml:"odom_model_type"`
	OdomAlpha1    float64 `yaml:"odom_alpha1"`
	OdomAlpha2    float64 `yaml:"odom_alpha2"`
	OdomAlpha3    float64 `yaml:"odom_alpha3"`
	OdomAlpha4    float64 `yaml:"odom_alpha4"`
	OdomAlpha5    float64 `yaml:"odom_alpha5"`

	// Sensor model
	LaserModelType         string  `yaml:"laser_model_type"`
	LaserMaxBeams          int     `yaml:"laser_max_beams"`
	LaserZHit              float64 `yaml:"laser_z_hit"`
	LaserZShort            float64 `yaml:"laser_z_short"`
	LaserZMax              float64 `yaml:"laser_z_max"`
	LaserZRand             float64 `yaml:"laser_z_rand"`
	LaserSigmaHit          float64 `yaml:"laser_sigma_hit"`
	LaserLambdaShort       float64 `yaml:"laser_lambda_short"`
	LaserLikelihoodMaxDist float64 `yaml:"laser_likelihood_max_dist"`
	LaserMinRange          float64 `yaml:"laser_min_range"`
	LaserMaxRange          float64 `yaml:"laser_max_range"`

	// Beam skipping
	DoBeamskip             bool    `yaml:"do_beamskip"`
	BeamSkipDistance       float64 `yaml:"beam_skip_distance"`
	BeamSkipThreshold      float64 `yaml:"beam_skip_threshold"`
	BeamSkipErrorThreshold float64 `yaml:"beam_skip_error_threshold"`

	// Update / resampling
	UpdateMinD        float64 `yaml:"update_min_d"`
	UpdateMinA        float64 `yaml:"update_min_a"`
	ResampleInterval  int     `yaml:"resample_interval"`
	RecoveryAlphaSlow float64 `yaml:"recovery_alpha_slow"`
	RecoveryAlphaFast float64 `yaml:"recovery_alpha_fast"`

	// Frames
	OdomFrameID   string `yaml:"odom_frame_id"`
	BaseFrameID   string `yaml:"base_frame_id"`
	GlobalFrameID string `yaml:"global_frame_id"`

	// Broadcasting
	TransformTolerance float64 `yaml:"transform_tolerance"`
	TFBroadcast        bool    `yaml:"tf_broadcast"`

	// Map source
	UseMapTopic  bool `yaml:"use_map_topic"`
	FirstMapOnly bool `yaml:"first_map_only"`

	// Initial pose and persistence
	InitialPoseX  float64 `yaml:"initial_pose_x"`
	InitialPoseY  float64 `yaml:"initial_pose_y"`
	InitialPoseA  float64 `yaml:"initial_pose_a"`
	InitialCovXX  float64 `yaml:"initial_cov_xx"`
	InitialCovYY  float64 `yaml:"initial_cov_yy"`
	InitialCovAA  float64 `yaml:"initial_cov_aa"`
	SavePoseRate  float64 `yaml:"save_pose_rate"`
	PoseCachePath string  `yaml:"pose_cache_path"`

	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the configuration used when a key is absent.
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			MapTopic:         "amcl/map",
			ScanTopic:        "amcl/scan",
			InitialPoseTopic: "amcl/initialpose",
			OdomTopic:        "amcl/odom",
			CommandTopic:     "amcl/cmd",
			PublishPrefix:    "amcl",
		},
		HTTPPort: 8080,

		MinParticles: 100,
		MaxParticles: 5000,
		KLDErr:       0.01,
		KLDZ:         0.99,

		OdomModelType: "diff",
		OdomAlpha1:    0.2,
		OdomAlpha2:    0.2,
		OdomAlpha3:    0.2,
		OdomAlpha4:    0.2,
		OdomAlpha5:    0.2,

		LaserModelType:         "likelihood_field",
		LaserMaxBeams:          30,
		LaserZHit:              0.95,
		LaserZShort:            0.1,
		LaserZMax:              0.05,
		LaserZRand:             0.05,
		LaserSigmaHit:          0.2,
		LaserLambdaShort:       0.1,
		LaserLikelihoodMaxDist: 2.0,
		LaserMinRange:          -1.0,
		LaserMaxRange:          -1.0,

		DoBeamskip:             false,
		BeamSkipDistance:       0.5,
		BeamSkipThreshold:      0.3,
		BeamSkipErrorThreshold: 0.9,

		UpdateMinD:        0.2,
		UpdateMinA:        math.Pi / 6.0,
		ResampleInterval:  2,
		RecoveryAlphaSlow: 0.001,
		RecoveryAlphaFast: 0.1,

		OdomFrameID:   "odom",
		BaseFrameID:   "base_link",
		GlobalFrameID: "map",

		TransformTolerance: 0.1,
		TFBroadcast:        true,

		UseMapTopic:  true,
		FirstMapOnly: false,

		InitialPoseX: 0,
		InitialPoseY: 0,
		InitialPoseA: 0,
		InitialCovXX: 0.5 * 0.5,
		InitialCovYY: 0.5 * 0.5,
		InitialCovAA: (math.Pi / 12.0) * (math.Pi / 12.0),
		SavePoseRate: 0.5,

		Seed: 1,
	}
}

// LoadConfig loads the YAML configuration, applying defaults for absent
// keys and environment overrides for broker credentials.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		config.MQTT.Broker = broker
	}
	if username := os.Getenv("MQTT_USERNAME"); username != "" {
		config.MQTT.Username = username
	}
	if password := os.Getenv("MQTT_PASSWORD"); password != "" {
		config.MQTT.Password = password
	}

	config.Sanitize()
	return config, nil
}

// Sanitize repairs invalid values in place: NaN initial pose entries revert
// to defaults and inverted particle bounds are equalized.
func (c *Config) Sanitize() {
	def := DefaultConfig()
	fix := func(name string, v *float64, fallback float64) {
		if math.IsNaN(*v) {
			log.Printf("ignoring NaN in %s", name)
			*v = fallback
		}
	}
	fix("initial_pose_x", &c.InitialPoseX, def.InitialPoseX)
	fix("initial_pose_y", &c.InitialPoseY, def.InitialPoseY)
	fix("initial_pose_a", &c.InitialPoseA, def.InitialPoseA)
	fix("initial_cov_xx", &c.InitialCovXX, def.InitialCovXX)
	fix("initial_cov_yy", &c.InitialCovYY, def.InitialCovYY)
	fix("initial_cov_aa", &c.InitialCovAA, def.InitialCovAA)

	if c.ResampleInterval < 1 {
		log.Printf("resample_interval %d is invalid; forcing 1", c.ResampleInterval)
		c.ResampleInterval = 1
	}
	if c.MinParticles > c.MaxParticles {
		log.Printf("min_particles %d exceeds max_particles %d; forcing equal", c.MinParticles, c.MaxParticles)
		c.MaxParticles = c.MinParticles
	}
}

// ParseOdomModelType maps the configured string to a model, falling back to
// diff with a warning on unknown values.
func ParseOdomModelType(s string) OdomModelType {
	switch s {
	case "diff":
		return OdomModelDiff
	case "omni":
		return OdomModelOmni
	case "diff-corrected":
		return OdomModelDiffCorrected
	case "omni-corrected":
		return OdomModelOmniCorrected
	}
	log.Printf("unknown odom model type %q; defaulting to diff model", s)
	return OdomModelDiff
}

// ParseLaserModelType maps the configured string to a model, falling back
// to likelihood_field with a warning on unknown values.
func ParseLaserModelType(s string) LaserModelType {
	switch s {
	case "beam":
		return LaserModelBeam
	case "likelihood_field":
		return LaserModelLikelihoodField
	case "likelihood_field_prob":
		return LaserModelLikelihoodFieldProb
	}
	log.Printf("unknown laser model type %q; defaulting to likelihood_field model", s)
	return LaserModelLikelihoodField
}
