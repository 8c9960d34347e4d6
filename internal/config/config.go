// Package config loads and validates the counter's JSON configuration.
// Fields omitted from the file keep their defaults, so partial configs are
// safe; invariant violations (negative buffer, unsupported rotation) are
// fatal at load time, never silently ignored.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the conventional location of the config file.
const DefaultConfigPath = "config.json"

// Config is the root configuration. All leaf fields are pointers so a JSON
// file only overrides what it mentions; read values through the getter
// methods, which supply defaults.
type Config struct {
	Capture   CaptureConfig   `json:"capture"`
	ROI       ROIConfig       `json:"roi"`
	Image     ImageConfig     `json:"image"`
	Line      LineConfig      `json:"line"`
	Detection DetectionConfig `json:"detection"`
	Tracking  TrackingConfig  `json:"tracking"`
	Watchdog  WatchdogConfig  `json:"watchdog"`
	Paths     PathsConfig     `json:"paths"`
	Server    ServerConfig    `json:"server"`
}

// CaptureConfig describes the external segmenting process.
type CaptureConfig struct {
	InputSource    *string `json:"input_source,omitempty"`
	SegmentSeconds *int    `json:"segment_seconds,omitempty"`
	VideoFormat    *string `json:"video_format,omitempty"`
	Resolution     *string `json:"resolution,omitempty"`
	FPS            *int    `json:"fps,omitempty"`
	FFmpegBinary   *string `json:"ffmpeg_binary,omitempty"`
}

// ROIConfig is the detection sub-rectangle in absolute frame coordinates.
type ROIConfig struct {
	X1 *int `json:"x1,omitempty"`
	Y1 *int `json:"y1,omitempty"`
	X2 *int `json:"x2,omitempty"`
	Y2 *int `json:"y2,omitempty"`
}

// ImageConfig holds the ROI post-crop rotation.
type ImageConfig struct {
	Rotation *int `json:"rotation,omitempty"` // 0, 90, 180 or 270
}

// LineConfig describes the counting line. Type selects between the legacy
// horizontal form (positioned as a fraction of ROI height) and the angular
// form (center + angle + length, in ROI-local coordinates).
type LineConfig struct {
	Type          *string  `json:"type,omitempty"` // "horizontal" or "angular"
	Position      *float64 `json:"position,omitempty"`
	CenterX       *float64 `json:"center_x,omitempty"`
	CenterY       *float64 `json:"center_y,omitempty"`
	AngleDegrees  *float64 `json:"angle_degrees,omitempty"`
	Length        *float64 `json:"length,omitempty"`
	Buffer        *float64 `json:"buffer,omitempty"`
	EntryInverted *bool    `json:"entry_inverted,omitempty"`
}

// DetectionConfig tunes the external detector invocation.
type DetectionConfig struct {
	Confidence *float64 `json:"confidence,omitempty"`
	FrameSkip  *int     `json:"frame_skip,omitempty"`
	// DetectorURL is the person-detection service endpoint.
	DetectorURL *string `json:"detector_url,omitempty"`
	// StaffFilterEnabled gates the optional staff classifier.
	StaffFilterEnabled *bool   `json:"staff_filter_enabled,omitempty"`
	StaffFilterURL     *string `json:"staff_filter_url,omitempty"`
}

// TrackingConfig holds the centroid tracker thresholds.
type TrackingConfig struct {
	MaxDisappeared *int     `json:"max_disappeared,omitempty"`
	MaxDistance    *float64 `json:"max_distance,omitempty"`
}

// WatchdogConfig holds supervision thresholds as duration strings like
// "90s" so the JSON stays readable.
type WatchdogConfig struct {
	CheckInterval      *string `json:"check_interval,omitempty"`
	Staleness          *string `json:"staleness,omitempty"`
	StartupGrace       *string `json:"startup_grace,omitempty"`
	RestartCooldown    *string `json:"restart_cooldown,omitempty"`
	MinRestartInterval *string `json:"min_restart_interval,omitempty"`
	SegmentMaturity    *string `json:"segment_maturity,omitempty"`
	StabilityPoll      *string `json:"stability_poll,omitempty"`
	MinSegmentBytes    *int64  `json:"min_segment_bytes,omitempty"`
	RetainSegments     *int    `json:"retain_segments,omitempty"`
}

// PathsConfig holds the working directories and files.
type PathsConfig struct {
	VideosDir    *string `json:"videos_dir,omitempty"`
	DatabasePath *string `json:"database_path,omitempty"`
}

// ServerConfig holds the HTTP status API settings.
type ServerConfig struct {
	Listen *string `json:"listen,omitempty"`
}

// Load reads and validates a config file. The file must have a .json
// extension and stay under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field invariants. Violations are configuration
// errors and abort startup.
func (c *Config) Validate() error {
	if r := c.GetRotation(); r != 0 && r != 90 && r != 180 && r != 270 {
		return fmt.Errorf("image.rotation must be 0, 90, 180 or 270, got %d", r)
	}
	if b := c.GetLineBuffer(); b < 0 {
		return fmt.Errorf("line.buffer must be >= 0, got %v", b)
	}
	switch c.GetLineType() {
	case "horizontal", "angular":
	default:
		return fmt.Errorf("line.type must be \"horizontal\" or \"angular\", got %q", c.GetLineType())
	}
	if p := c.GetLinePosition(); p < 0 || p > 1 {
		return fmt.Errorf("line.position must be in [0, 1], got %v", p)
	}
	if c.GetLineType() == "angular" && c.GetLineLength() <= 0 {
		return fmt.Errorf("line.length must be > 0, got %v", c.GetLineLength())
	}
	if w, h := c.ROIWidth(), c.ROIHeight(); w <= 0 || h <= 0 {
		return fmt.Errorf("roi must have positive area, got %dx%d", w, h)
	}
	if d := c.GetMaxDisappeared(); d < 0 {
		return fmt.Errorf("tracking.max_disappeared must be >= 0, got %d", d)
	}
	if d := c.GetMaxDistance(); d <= 0 {
		return fmt.Errorf("tracking.max_distance must be > 0, got %v", d)
	}
	if fs := c.GetFrameSkip(); fs < 1 {
		return fmt.Errorf("detection.frame_skip must be >= 1, got %d", fs)
	}
	for name, getter := range map[string]func() (time.Duration, error){
		"watchdog.check_interval":       c.checkInterval,
		"watchdog.staleness":            c.staleness,
		"watchdog.startup_grace":        c.startupGrace,
		"watchdog.restart_cooldown":     c.restartCooldown,
		"watchdog.min_restart_interval": c.minRestartInterval,
		"watchdog.segment_maturity":     c.segmentMaturity,
		"watchdog.stability_poll":       c.stabilityPoll,
	} {
		if _, err := getter(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func strOr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func int64Or(p *int64, def int64) int64 {
	if p != nil {
		return *p
	}
	return def
}

func floatOr(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}

func durationOr(p *string, def time.Duration) (time.Duration, error) {
	if p == nil {
		return def, nil
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", *p, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", *p)
	}
	return d, nil
}

// Capture getters.

func (c *Config) GetInputSource() string  { return strOr(c.Capture.InputSource, "rtmp://localhost/live/stream") }
func (c *Config) GetSegmentSeconds() int  { return intOr(c.Capture.SegmentSeconds, 15) }
func (c *Config) GetVideoFormat() string  { return strOr(c.Capture.VideoFormat, "mp4") }
func (c *Config) GetResolution() string   { return strOr(c.Capture.Resolution, "1280x720") }
func (c *Config) GetFPS() int             { return intOr(c.Capture.FPS, 30) }
func (c *Config) GetFFmpegBinary() string { return strOr(c.Capture.FFmpegBinary, "ffmpeg") }

// ROI getters. The defaults match a 1280x720 frame with a centered region.

func (c *Config) GetROIX1() int { return intOr(c.ROI.X1, 100) }
func (c *Config) GetROIY1() int { return intOr(c.ROI.Y1, 100) }
func (c *Config) GetROIX2() int { return intOr(c.ROI.X2, 1180) }
func (c *Config) GetROIY2() int { return intOr(c.ROI.Y2, 620) }

// ROIWidth returns the un-rotated ROI width in pixels.
func (c *Config) ROIWidth() int { return c.GetROIX2() - c.GetROIX1() }

// ROIHeight returns the un-rotated ROI height in pixels.
func (c *Config) ROIHeight() int { return c.GetROIY2() - c.GetROIY1() }

func (c *Config) GetRotation() int { return intOr(c.Image.Rotation, 0) }

// Line getters.

func (c *Config) GetLineType() string { return strOr(c.Line.Type, "horizontal") }

func (c *Config) GetLinePosition() float64 { return floatOr(c.Line.Position, 0.5) }

func (c *Config) GetLineCenterX() float64 {
	return floatOr(c.Line.CenterX, float64(c.ROIWidth())/2)
}

func (c *Config) GetLineCenterY() float64 {
	return floatOr(c.Line.CenterY, float64(c.ROIHeight())/2)
}

func (c *Config) GetLineAngle() float64 { return floatOr(c.Line.AngleDegrees, 0) }

func (c *Config) GetLineLength() float64 {
	return floatOr(c.Line.Length, float64(c.ROIWidth()))
}

func (c *Config) GetLineBuffer() float64 { return floatOr(c.Line.Buffer, 10) }

func (c *Config) GetEntryInverted() bool { return boolOr(c.Line.EntryInverted, false) }

// Detection getters.

func (c *Config) GetConfidence() float64     { return floatOr(c.Detection.Confidence, 0.5) }
func (c *Config) GetFrameSkip() int          { return intOr(c.Detection.FrameSkip, 1) }
func (c *Config) GetStaffFilterEnabled() bool { return boolOr(c.Detection.StaffFilterEnabled, false) }

func (c *Config) GetDetectorURL() string {
	return strOr(c.Detection.DetectorURL, "http://localhost:8500/detect")
}

func (c *Config) GetStaffFilterURL() string {
	return strOr(c.Detection.StaffFilterURL, "http://localhost:8500/classify")
}

// Tracking getters.

func (c *Config) GetMaxDisappeared() int  { return intOr(c.Tracking.MaxDisappeared, 20) }
func (c *Config) GetMaxDistance() float64 { return floatOr(c.Tracking.MaxDistance, 80) }

// Watchdog getters. Validate has already checked the duration strings, so
// the exported getters swallow the impossible error.

func (c *Config) checkInterval() (time.Duration, error) {
	return durationOr(c.Watchdog.CheckInterval, 10*time.Second)
}
func (c *Config) staleness() (time.Duration, error) {
	return durationOr(c.Watchdog.Staleness, 90*time.Second)
}
func (c *Config) startupGrace() (time.Duration, error) {
	return durationOr(c.Watchdog.StartupGrace, 60*time.Second)
}
func (c *Config) restartCooldown() (time.Duration, error) {
	return durationOr(c.Watchdog.RestartCooldown, 5*time.Second)
}
func (c *Config) minRestartInterval() (time.Duration, error) {
	return durationOr(c.Watchdog.MinRestartInterval, 60*time.Second)
}
func (c *Config) segmentMaturity() (time.Duration, error) {
	return durationOr(c.Watchdog.SegmentMaturity, 30*time.Second)
}
func (c *Config) stabilityPoll() (time.Duration, error) {
	return durationOr(c.Watchdog.StabilityPoll, 10*time.Second)
}

func (c *Config) GetCheckInterval() time.Duration      { d, _ := c.checkInterval(); return d }
func (c *Config) GetStaleness() time.Duration          { d, _ := c.staleness(); return d }
func (c *Config) GetStartupGrace() time.Duration       { d, _ := c.startupGrace(); return d }
func (c *Config) GetRestartCooldown() time.Duration    { d, _ := c.restartCooldown(); return d }
func (c *Config) GetMinRestartInterval() time.Duration { d, _ := c.minRestartInterval(); return d }
func (c *Config) GetSegmentMaturity() time.Duration    { d, _ := c.segmentMaturity(); return d }
func (c *Config) GetStabilityPoll() time.Duration      { d, _ := c.stabilityPoll(); return d }

func (c *Config) GetMinSegmentBytes() int64 { return int64Or(c.Watchdog.MinSegmentBytes, 100_000) }
func (c *Config) GetRetainSegments() int    { return intOr(c.Watchdog.RetainSegments, 7) }

// Paths getters.

func (c *Config) GetVideosDir() string    { return strOr(c.Paths.VideosDir, "./videos") }
func (c *Config) GetDatabasePath() string { return strOr(c.Paths.DatabasePath, "footfall.db") }

// Server getters.

func (c *Config) GetListen() string { return strOr(c.Server.Listen, ":8080") }
