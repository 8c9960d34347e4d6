package capture

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
)

// Process is a handle on a running capture process. The watchdog only
// needs exit notification and the graceful/forced kill pair.
type Process interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// Err returns the exit error after Done is closed, nil for a clean exit.
	Err() error
}

// Launcher starts a fresh capture process. The watchdog calls it once at
// startup and again on every restart.
type Launcher interface {
	Launch() (Process, error)
}

// CaptureSpec describes the ffmpeg invocation that segments the incoming
// stream to disk.
type CaptureSpec struct {
	Binary          string // ffmpeg binary, defaults to "ffmpeg"
	InputURL        string // rtsp:// or rtmp:// source
	Resolution      string // e.g. "1280x720"
	FPS             int
	SegmentSeconds  int
	Format          string // container/extension, e.g. "mp4"
	OutputDir       string
	RTSPBufferBytes string // -rtbufsize value, e.g. "400M"
}

// Args builds the full ffmpeg argument list for continuous segmentation.
func (s CaptureSpec) Args() []string {
	bufsize := s.RTSPBufferBytes
	if bufsize == "" {
		bufsize = "400M"
	}
	pattern := filepath.Join(s.OutputDir, "segment_%09d."+s.Format)
	return []string{
		"-y",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-rtbufsize", bufsize,
		"-i", s.InputURL,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-s", s.Resolution,
		"-r", strconv.Itoa(s.FPS),
		"-f", "segment",
		"-segment_time", strconv.Itoa(s.SegmentSeconds),
		"-segment_format", s.Format,
		"-segment_list_flags", "+live",
		"-segment_wrap", "0",
		"-reset_timestamps", "1",
		pattern,
	}
}

// Launch starts the ffmpeg process described by the spec.
func (s CaptureSpec) Launch() (Process, error) {
	binary := s.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.Command(binary, s.Args()...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start %s: %w", binary, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
