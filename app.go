package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/amcl/amcl"
)

// AppOptions carries the CLI flags into the App.
type AppOptions struct {
	ConfigFile   string
	MapFile      string
	OutputFile   string
	RenderFormat string
	PoseCache    string
	HTTPPort     int
	Seed         int64
	MqttMode     bool
	HTTPMode     bool
}

// App encapsulates the application state and dependencies
type App struct {
	Config     *amcl.Config
	Node       *amcl.Node
	TFBuffer   *amcl.TransformBuffer
	MQTTClient *amcl.MQTTClient
	Publisher  *amcl.Publisher

	ConfigFile   string
	MapFile      string
	OutputFile   string
	RenderFormat string
	PoseCache    string
	HTTPPort     int
	Seed         int64
	MqttMode     bool
	HTTPMode     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.MapFile = opts.MapFile
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.PoseCache = opts.PoseCache
	a.HTTPPort = opts.HTTPPort
	a.Seed = opts.Seed
	a.MqttMode = opts.MqttMode
	a.HTTPMode = opts.HTTPMode
}

// loadConfig loads the YAML config, tolerating a missing file by falling
// back to defaults so offline modes work without one.
func (a *App) loadConfig() *amcl.Config {
	config, err := amcl.LoadConfig(a.ConfigFile)
	if err != nil {
		log.Printf("using default configuration: %v", err)
		config = amcl.DefaultConfig()
	}
	if a.HTTPPort != 0 {
		config.HTTPPort = a.HTTPPort
	}
	if a.Seed != 0 {
		config.Seed = a.Seed
	}
	a.Config = config
	return config
}

// RunCheckConfig validates the configuration file and exits
func (a *App) RunCheckConfig() {
	config, err := amcl.LoadConfig(a.ConfigFile)
	if err != nil {
		log.Fatalf("config invalid: %v", err)
	}
	fmt.Printf("config OK: odom=%s laser=%s particles=[%d..%d]\n",
		amcl.ParseOdomModelType(config.OdomModelType),
		amcl.ParseLaserModelType(config.LaserModelType),
		config.MinParticles, config.MaxParticles)
}

// RunRender loads an occupancy grid JSON file and writes it as an image
func (a *App) RunRender() {
	if a.MapFile == "" {
		log.Fatal("--render requires --map=grid.json")
	}
	data, err := os.ReadFile(a.MapFile)
	if err != nil {
		log.Fatalf("Error reading map file: %v", err)
	}
	var grid amcl.OccupancyGridMsg
	if err := json.Unmarshal(data, &grid); err != nil {
		log.Fatalf("Error parsing map file: %v", err)
	}
	m := amcl.NewMapFromGrid(&grid)

	out, err := os.Create(a.OutputFile)
	if err != nil {
		log.Fatalf("Error creating output file: %v", err)
	}
	defer out.Close()

	switch a.RenderFormat {
	case "vector":
		r := amcl.NewVectorRenderer(m)
		if strings.HasSuffix(a.OutputFile, ".svg") {
			err = r.RenderToSVG(out)
		} else {
			err = r.RenderToPNG(out)
		}
	default:
		r := amcl.NewMapRenderer(m)
		err = encodePNG(out, r.Render())
	}
	if err != nil {
		log.Fatalf("Error rendering map: %v", err)
	}
	fmt.Printf("Created: %s (%dx%d cells)\n", a.OutputFile, m.SizeX, m.SizeY)
}

// RunService runs the live localization service until interrupted
func (a *App) RunService() {
	config := a.loadConfig()

	// Lookup tolerance is wider than the broadcast tolerance; odometry may
	// arrive at a lower rate than scans.
	a.TFBuffer = amcl.NewTransformBuffer(3 * time.Second)

	store := amcl.NewPoseStore(a.PoseCache)
	a.Node = amcl.NewNode(config, a.TFBuffer, a.deferredPublisher(), amcl.WithPoseStore(store))

	if a.MqttMode {
		client, err := amcl.InitMQTT(&config.MQTT, a.Node, a.TFBuffer)
		if err != nil {
			log.Fatalf("Error initializing MQTT: %v", err)
		}
		a.MQTTClient = client
		if client != nil {
			a.Publisher = amcl.NewPublisher(client.Client(), config.MQTT.PublishPrefix)
		}
	}

	if a.HTTPMode {
		handler := newHTTPServer(a.Node, config)
		addr := fmt.Sprintf(":%d", config.HTTPPort)
		go func() {
			log.Printf("HTTP server listening on %s", addr)
			if err := http.ListenAndServe(addr, handler); err != nil {
				log.Fatalf("HTTP server error: %v", err)
			}
		}()
	}

	// Warn when scans stop arriving.
	laserCheck := time.NewTicker(15 * time.Second)
	defer laserCheck.Stop()
	go func() {
		for range laserCheck.C {
			a.Node.CheckLaserReceived(15 * time.Second)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
}

// deferredPublisher returns a sink that forwards to the MQTT publisher once
// it exists; before that, outputs are dropped.
func (a *App) deferredPublisher() amcl.PoseSink {
	return &appSink{app: a}
}

type appSink struct {
	app *App
}

func (s *appSink) PublishPose(p *amcl.PoseEstimate) {
	if s.app.Publisher != nil {
		s.app.Publisher.PublishPose(p)
	}
}

func (s *appSink) PublishCloud(frameID string, stamp time.Time, poses []amcl.Pose) {
	if s.app.Publisher != nil {
		s.app.Publisher.PublishCloud(frameID, stamp, poses)
	}
}

func (s *appSink) PublishTransform(t *amcl.TransformMsg) {
	if s.app.Publisher != nil {
		s.app.Publisher.PublishTransform(t)
	}
}
