// Package api exposes the counting system's status over HTTP: live
// counts, active tracks and their zones, line geometry for overlay
// rendering, and watchdog health.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/banshee-data/footfall.report/internal/capture"
	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/geometry"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/tracking"
)

// Server serves the read-only status API.
type Server struct {
	counter   *counting.Counter
	tracker   *tracking.Tracker
	engine    *geometry.Engine
	watchdog  *capture.Watchdog
	selector  *capture.Selector
	processor *pipeline.Processor
}

// NewServer wires the status server. watchdog, selector and processor may
// be nil when the capture side is not running (replay mode).
func NewServer(counter *counting.Counter, tracker *tracking.Tracker, engine *geometry.Engine, watchdog *capture.Watchdog, selector *capture.Selector, processor *pipeline.Processor) *Server {
	return &Server{
		counter:   counter,
		tracker:   tracker,
		engine:    engine,
		watchdog:  watchdog,
		selector:  selector,
		processor: processor,
	}
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Welcome to the Footfall Server!"))
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/counts", s.showCounts)
	mux.HandleFunc("/api/tracks", s.showTracks)
	mux.HandleFunc("/api/line", s.showLine)
	mux.HandleFunc("/api/watchdog", s.showWatchdog)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) showCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")

	counts := s.counter.Counts()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries":   counts.Entries,
		"exits":     counts.Exits,
		"occupancy": counts.Occupancy(),
	})
}

type trackView struct {
	ID           int      `json:"id"`
	X            int      `json:"x"`
	Y            int      `json:"y"`
	MissedFrames int      `json:"missed_frames"`
	Zone         string   `json:"zone"`
	LastDecisive string   `json:"last_decisive"`
	Trend        *float64 `json:"trend,omitempty"`
}

// showTracks lists active tracks, or one track's zone state when ?id= is
// given.
func (s *Server) showTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")

	if idParam := r.URL.Query().Get("id"); idParam != "" {
		id, err := strconv.Atoi(idParam)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid track id")
			return
		}
		state, ok := s.counter.TrackZone(id)
		if !ok {
			s.writeJSONError(w, http.StatusNotFound, "track not found")
			return
		}
		out := map[string]interface{}{
			"zone":          state.LastZone.String(),
			"last_decisive": state.LastDecisive.String(),
		}
		if drift, ok := s.counter.Trend(id); ok {
			out["trend"] = drift
		}
		json.NewEncoder(w).Encode(out)
		return
	}

	views := []trackView{}
	for _, tr := range s.tracker.Tracks() {
		v := trackView{
			ID:           tr.ID,
			X:            tr.Centroid.X,
			Y:            tr.Centroid.Y,
			MissedFrames: tr.MissedFrames,
		}
		if state, ok := s.counter.TrackZone(tr.ID); ok {
			v.Zone = state.LastZone.String()
			v.LastDecisive = state.LastDecisive.String()
		}
		if drift, ok := s.counter.Trend(tr.ID); ok {
			v.Trend = &drift
		}
		views = append(views, v)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"active": s.tracker.ActiveCount(),
		"tracks": views,
	})
}

func (s *Server) showLine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")

	start, end, buffer := s.engine.Visualization()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"start":    map[string]int{"x": start.X, "y": start.Y},
		"end":      map[string]int{"x": end.X, "y": end.Y},
		"buffer":   buffer,
		"rotation": int(s.engine.Rotation()),
	})
}

func (s *Server) showWatchdog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")

	out := map[string]interface{}{}
	if s.watchdog != nil {
		out["capture"] = s.watchdog.Stats()
	}
	if s.selector != nil {
		pending, err := s.selector.Pending()
		if err == nil {
			out["pending_segments"] = pending
		}
	}
	if s.processor != nil {
		out["segments_processed"] = s.processor.SegmentsProcessed()
	}
	json.NewEncoder(w).Encode(out)
}
