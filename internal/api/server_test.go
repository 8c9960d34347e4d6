package api

import (
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/geometry"
	"github.com/banshee-data/footfall.report/internal/tracking"
)

func testServer(t *testing.T) (*Server, *tracking.Tracker, *counting.Counter) {
	t.Helper()
	line, err := geometry.NewHorizontalLine(100, 0, 200, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := geometry.NewEngine(line, geometry.Rotate0, 200, 200)
	if err != nil {
		t.Fatal(err)
	}
	tracker := tracking.New(tracking.DefaultConfig())
	counter := counting.New(engine, nil)
	return NewServer(counter, tracker, engine, nil, nil, nil), tracker, counter
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func TestShowCounts(t *testing.T) {
	s, tracker, counter := testServer(t)

	// Walk one track across the line so the tally is non-zero.
	for _, y := range []int{20, 50, 120} {
		tracked := tracker.Update([]image.Rectangle{image.Rect(90, y-10, 110, y+10)})
		counter.Update(tracked, nil)
	}

	w := get(t, s, "/api/counts")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var body struct {
		Entries   uint64 `json:"entries"`
		Exits     uint64 `json:"exits"`
		Occupancy int64  `json:"occupancy"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Entries != 1 || body.Exits != 0 || body.Occupancy != 1 {
		t.Errorf("unexpected counts %+v", body)
	}
}

func TestShowCounts_MethodNotAllowed(t *testing.T) {
	s, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/counts", nil)
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestShowTracks(t *testing.T) {
	s, tracker, counter := testServer(t)

	tracked := tracker.Update([]image.Rectangle{
		image.Rect(90, 10, 110, 30),
		image.Rect(40, 150, 60, 170),
	})
	counter.Update(tracked, nil)

	w := get(t, s, "/api/tracks")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Active int         `json:"active"`
		Tracks []trackView `json:"tracks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Active != 2 || len(body.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %+v", body)
	}
	if body.Tracks[0].ID != 0 || body.Tracks[0].Zone != "side_a" {
		t.Errorf("unexpected first track %+v", body.Tracks[0])
	}
	if body.Tracks[1].Zone != "side_b" {
		t.Errorf("unexpected second track %+v", body.Tracks[1])
	}
}

func TestShowTracks_Trend(t *testing.T) {
	s, tracker, counter := testServer(t)

	// A track drifting toward larger y reports a positive trend.
	for _, y := range []int{20, 40, 60, 80} {
		tracked := tracker.Update([]image.Rectangle{image.Rect(90, y-10, 110, y+10)})
		counter.Update(tracked, nil)
	}

	w := get(t, s, "/api/tracks")
	var body struct {
		Tracks []trackView `json:"tracks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %+v", body)
	}
	if body.Tracks[0].Trend == nil || *body.Tracks[0].Trend <= 0 {
		t.Errorf("expected positive trend, got %+v", body.Tracks[0].Trend)
	}

	w = get(t, s, "/api/tracks?id=0")
	var single map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &single); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	drift, ok := single["trend"].(float64)
	if !ok || drift <= 0 {
		t.Errorf("expected positive trend on single track, got %v", single["trend"])
	}
}

func TestShowTracks_SingleTrack(t *testing.T) {
	s, tracker, counter := testServer(t)

	tracked := tracker.Update([]image.Rectangle{image.Rect(90, 10, 110, 30)})
	counter.Update(tracked, nil)

	w := get(t, s, "/api/tracks?id=0")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["zone"] != "side_a" || body["last_decisive"] != "none" {
		t.Errorf("unexpected zone state %v", body)
	}

	if w := get(t, s, "/api/tracks?id=99"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown track, got %d", w.Code)
	}
	if w := get(t, s, "/api/tracks?id=abc"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestShowLine(t *testing.T) {
	s, _, _ := testServer(t)

	w := get(t, s, "/api/line")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Start    map[string]int `json:"start"`
		End      map[string]int `json:"end"`
		Buffer   float64        `json:"buffer"`
		Rotation int            `json:"rotation"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Start["y"] != 100 || body.End["y"] != 100 {
		t.Errorf("expected horizontal line at y=100, got %+v", body)
	}
	if body.Start["x"] != 0 || body.End["x"] != 200 {
		t.Errorf("unexpected endpoints %+v", body)
	}
	if body.Buffer != 10 || body.Rotation != 0 {
		t.Errorf("unexpected buffer/rotation %+v", body)
	}
}

func TestShowWatchdog_NilComponents(t *testing.T) {
	s, _, _ := testServer(t)

	w := get(t, s, "/api/watchdog")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("expected empty object without capture side, got %v", body)
	}
}

func TestHome(t *testing.T) {
	s, _, _ := testServer(t)

	w := get(t, s, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
