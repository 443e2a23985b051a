package main

import (
	"flag"
	"fmt"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile   = flag.String("config", "config.yaml", "Path to configuration file")
	checkConfig  = flag.Bool("check-config", false, "Validate the configuration and exit")
	renderOnly   = flag.Bool("render", false, "Render a map file to an image and exit")
	mapFile      = flag.String("map", "", "Occupancy grid JSON file for --render mode")
	outputFile   = flag.String("output", "map.png", "Output file for --render mode")
	renderFormat = flag.String("format", "raster", "Render format: raster or vector")
	mqttMode     = flag.Bool("mqtt", false, "Run MQTT service mode for live localization")
	httpMode     = flag.Bool("http", false, "Enable HTTP server for pose and map endpoints")
	httpPort     = flag.Int("http-port", 0, "HTTP server port (overrides config)")
	poseCache    = flag.String("pose-cache", ".amcl-pose.json", "Path to last-pose cache file")
	seed         = flag.Int64("seed", 0, "Random seed (overrides config; 0 keeps config value)")
)

func main() {
	flag.Parse()
	fmt.Printf("amcl version: %s\n", Version)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:   *configFile,
		MapFile:      *mapFile,
		OutputFile:   *outputFile,
		RenderFormat: *renderFormat,
		PoseCache:    *poseCache,
		HTTPPort:     *httpPort,
		Seed:         *seed,
		MqttMode:     *mqttMode,
		HTTPMode:     *httpMode,
	})

	if *checkConfig {
		app.RunCheckConfig()
		return
	}

	if *renderOnly {
		app.RunRender()
		return
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return
	}

	fmt.Println("amcl service starting...")
	fmt.Println("Use --check-config to validate the configuration")
	fmt.Println("Use --render --map=grid.json to render a map to an image")
	fmt.Println("Use --mqtt to run the MQTT localization service")
	fmt.Println("Use --http to serve pose and map endpoints")
	fmt.Println("Use --mqtt --http to run both together")
	fmt.Println("\nConfiguration:")
	fmt.Println("  config.yaml - broker, frame and filter settings")
	fmt.Println("  .amcl-pose.json - last-known pose (cached)")
}
