package main

import (
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/amcl/amcl"
)

func encodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(node *amcl.Node, config *amcl.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasMap    bool      `json:"hasMap"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasMap:    node.HasMap(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Latest published pose
	mux.HandleFunc("/pose", func(w http.ResponseWriter, r *http.Request) {
		pose, ok := node.LastPose()
		if !ok {
			http.Error(w, "No pose published yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pose); err != nil {
			log.Printf("Error encoding pose: %v", err)
		}
	})

	// Particle cloud as GeoJSON
	mux.HandleFunc("/particles.geojson", func(w http.ResponseWriter, r *http.Request) {
		particles := node.Particles()
		if len(particles) == 0 {
			http.Error(w, "No particles available", http.StatusServiceUnavailable)
			return
		}
		var best *amcl.PoseEstimate
		if pose, ok := node.LastPose(); ok {
			best = &pose
		}
		fc := amcl.CloudFeatures(particles, best)
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(fc); err != nil {
			log.Printf("Error encoding particle cloud: %v", err)
		}
	})

	// Map wall outline as GeoJSON, simplified at half a cell
	mux.HandleFunc("/outline.geojson", func(w http.ResponseWriter, r *http.Request) {
		m := node.Map()
		if m == nil {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		fc := amcl.MapOutline(m, m.Scale/2)
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(fc); err != nil {
			log.Printf("Error encoding outline: %v", err)
		}
	})

	// Raster map with particles and best pose
	mux.HandleFunc("/map.png", func(w http.ResponseWriter, r *http.Request) {
		m := node.Map()
		if m == nil {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		renderer := amcl.NewMapRenderer(m)
		renderer.Particles = node.Particles()
		if pose, ok := node.LastPose(); ok {
			renderer.Best = &pose
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := encodePNG(w, renderer.Render()); err != nil {
			log.Printf("Error encoding map PNG: %v", err)
		}
	})

	// Vector rendering of map and cloud
	mux.HandleFunc("/cloud.svg", func(w http.ResponseWriter, r *http.Request) {
		m := node.Map()
		if m == nil {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		renderer := amcl.NewVectorRenderer(m)
		renderer.Particles = node.Particles()
		if pose, ok := node.LastPose(); ok {
			renderer.Best = &pose
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error rendering cloud SVG: %v", err)
		}
	})

	return mux
}
