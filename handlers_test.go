package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kwv/amcl/amcl"
)

type nullSink struct{}

func (nullSink) PublishPose(*amcl.PoseEstimate)              {}
func (nullSink) PublishCloud(string, time.Time, []amcl.Pose) {}
func (nullSink) PublishTransform(*amcl.TransformMsg)         {}

func freeGrid(w, h int) *amcl.OccupancyGridMsg {
	return &amcl.OccupancyGridMsg{
		Width:      w,
		Height:     h,
		Resolution: 1.0,
		OriginX:    -float64(w) / 2,
		OriginY:    -float64(h) / 2,
		Data:       make([]int8, w*h),
	}
}

func testServer(t *testing.T, withMap bool) http.Handler {
	t.Helper()
	cfg := amcl.DefaultConfig()
	cfg.MinParticles = 50
	cfg.MaxParticles = 100

	tf := amcl.NewTransformBuffer(time.Second)
	node := amcl.NewNode(cfg, tf, nullSink{})
	if withMap {
		node.HandleMap(freeGrid(10, 10))
	}
	return newHTTPServer(node, cfg)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, true)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Status string `json:"status"`
		HasMap bool   `json:"hasMap"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.True(t, status.HasMap)
}

func TestPoseEndpoint_NoPose(t *testing.T) {
	srv := testServer(t, true)

	req := httptest.NewRequest("GET", "/pose", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestParticlesEndpoint(t *testing.T) {
	srv := testServer(t, true)

	req := httptest.NewRequest("GET", "/particles.geojson", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var fc amcl.FeatureCollection
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.NotEmpty(t, fc.Features)
}

func TestMapEndpoints_NoMap(t *testing.T) {
	srv := testServer(t, false)

	for _, path := range []string{"/map.png", "/outline.geojson", "/cloud.svg", "/particles.geojson"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestMapPNGEndpoint(t *testing.T) {
	srv := testServer(t, true)

	req := httptest.NewRequest("GET", "/map.png", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
}
