package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/footfall.report/internal/api"
	"github.com/banshee-data/footfall.report/internal/capture"
	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/countdb"
	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/geometry"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/tracking"
	"github.com/banshee-data/footfall.report/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to config file")
	listenFlag  = flag.String("listen", "", "Listen address (overrides config)")
	replayMode  = flag.Bool("replay", false, "Process already-captured segments without launching the capture process")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const heartbeatLogName = "watchdog_log.txt"

// buildEngine derives the counting geometry from configuration. The line
// is defined in ROI-local, un-rotated coordinates.
func buildEngine(cfg *config.Config) (*geometry.Engine, error) {
	var (
		line *geometry.Line
		err  error
	)
	switch cfg.GetLineType() {
	case "angular":
		line, err = geometry.NewAngularLine(
			cfg.GetLineCenterX(), cfg.GetLineCenterY(),
			cfg.GetLineAngle(), cfg.GetLineLength(),
			cfg.GetLineBuffer(), cfg.GetEntryInverted(),
		)
	default:
		y := cfg.GetLinePosition() * float64(cfg.ROIHeight())
		line, err = geometry.NewHorizontalLine(
			y, 0, float64(cfg.ROIWidth()),
			cfg.GetLineBuffer(), cfg.GetEntryInverted(),
		)
	}
	if err != nil {
		return nil, err
	}

	rot, err := geometry.ParseRotation(cfg.GetRotation())
	if err != nil {
		return nil, err
	}
	return geometry.NewEngine(line, rot, cfg.ROIWidth(), cfg.ROIHeight())
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("footfall %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	listen := cfg.GetListen()
	if *listenFlag != "" {
		listen = *listenFlag
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("Invalid counting geometry: %v", err)
	}
	tracker := tracking.New(tracking.Config{
		MaxDisappeared: cfg.GetMaxDisappeared(),
		MaxDistance:    cfg.GetMaxDistance(),
	})
	var filter counting.StaffFilter
	if cfg.GetStaffFilterEnabled() {
		filter = pipeline.NewHTTPStaffFilter(cfg.GetStaffFilterURL())
	}
	counter := counting.New(engine, filter)

	store, err := countdb.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	sessionID := uuid.NewString()
	if err := store.StartSession(sessionID, time.Now()); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	log.Printf("Session %s started", sessionID)

	counter.OnCrossing = func(cr counting.Crossing) {
		err := store.RecordCrossing(sessionID, cr.TrackID, string(cr.Direction),
			cr.Centroid.X, cr.Centroid.Y, cr.Staff, cr.Time)
		if err != nil {
			log.Printf("Failed to record crossing: %v", err)
		}
	}

	videosDir := cfg.GetVideosDir()
	if err := os.MkdirAll(videosDir, 0o755); err != nil {
		log.Fatalf("Failed to create segment directory: %v", err)
	}
	heartbeat := capture.NewHeartbeatLog(filepath.Join(videosDir, heartbeatLogName))
	selector := capture.NewSelector(heartbeat, videosDir, cfg.GetSegmentMaturity())

	roi := image.Rect(cfg.GetROIX1(), cfg.GetROIY1(), cfg.GetROIX2(), cfg.GetROIY2())
	opener := func(path string) (pipeline.FrameSource, error) {
		return pipeline.NewFFmpegSource(cfg.GetFFmpegBinary(), path, roi, engine.Rotation())
	}
	detector := pipeline.NewHTTPDetector(cfg.GetDetectorURL())

	processor, err := pipeline.New(pipeline.Config{
		FrameSkip:     cfg.GetFrameSkip(),
		MinConfidence: cfg.GetConfidence(),
		SessionID:     sessionID,
	}, opener, detector, tracker, counter, selector, heartbeat, store)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	var (
		watchdog *capture.Watchdog
		monitor  *capture.FolderMonitor
	)
	if !*replayMode {
		spec := capture.CaptureSpec{
			Binary:         cfg.GetFFmpegBinary(),
			InputURL:       cfg.GetInputSource(),
			Resolution:     cfg.GetResolution(),
			FPS:            cfg.GetFPS(),
			SegmentSeconds: cfg.GetSegmentSeconds(),
			Format:         cfg.GetVideoFormat(),
			OutputDir:      videosDir,
		}
		watchdog = capture.NewWatchdog(capture.WatchdogConfig{
			CheckInterval:      cfg.GetCheckInterval(),
			Staleness:          cfg.GetStaleness(),
			StartupGrace:       cfg.GetStartupGrace(),
			RestartCooldown:    cfg.GetRestartCooldown(),
			MinRestartInterval: cfg.GetMinRestartInterval(),
			StopGrace:          5 * time.Second,
		}, heartbeat, spec)
		if err := watchdog.Start(); err != nil {
			log.Fatalf("Failed to start capture watchdog: %v", err)
		}

		monitor = capture.NewFolderMonitor(capture.MonitorConfig{
			Dir:          videosDir,
			Ext:          cfg.GetVideoFormat(),
			PollInterval: cfg.GetStabilityPoll(),
			MinBytes:     cfg.GetMinSegmentBytes(),
		}, heartbeat)
		if err := monitor.Start(); err != nil {
			log.Fatalf("Failed to start folder monitor: %v", err)
		}
	}

	processor.Start()

	server := api.NewServer(counter, tracker, engine, watchdog, selector, processor)
	httpServer := &http.Server{Addr: listen, Handler: server.ServeMux()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Status API listening on %s", listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Housekeeping: retention cleanup and a periodic status line.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := selector.CleanupSegments(cfg.GetVideoFormat(), cfg.GetRetainSegments())
				if err != nil {
					log.Printf("Segment cleanup failed: %v", err)
				} else if removed > 0 {
					log.Printf("Segment cleanup removed %d old files", removed)
				}
				counts := counter.Counts()
				log.Printf("Status: %d entries, %d exits, occupancy %d, %d active tracks, %d segments processed",
					counts.Entries, counts.Exits, counts.Occupancy(),
					tracker.ActiveCount(), processor.SegmentsProcessed())
			}
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	if watchdog != nil {
		watchdog.Stop()
	}
	if monitor != nil {
		monitor.Stop()
	}
	processor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	wg.Wait()

	counts := counter.Counts()
	err = store.FinishSession(sessionID, counts.Entries, counts.Exits,
		processor.SegmentsProcessed(), time.Now())
	if err != nil {
		log.Printf("Failed to finish session: %v", err)
	}
	log.Printf("Session %s finished: %d entries, %d exits", sessionID, counts.Entries, counts.Exits)
}
