package capture

import (
	"strings"
	"testing"
)

func TestCaptureSpec_Args(t *testing.T) {
	spec := CaptureSpec{
		InputURL:       "rtsp://camera.local/stream",
		Resolution:     "1280x720",
		FPS:            30,
		SegmentSeconds: 15,
		Format:         "mp4",
		OutputDir:      "/data/videos",
	}
	args := strings.Join(spec.Args(), " ")

	for _, want := range []string{
		"-i rtsp://camera.local/stream",
		"-s 1280x720",
		"-r 30",
		"-segment_time 15",
		"-segment_format mp4",
		"-reset_timestamps 1",
		"/data/videos/segment_%09d.mp4",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
}

func TestCaptureSpec_LaunchRealProcess(t *testing.T) {
	// Use /bin/true as a stand-in capture binary: it exits immediately,
	// which exercises the done-channel plumbing.
	spec := CaptureSpec{
		Binary:         "true",
		InputURL:       "rtsp://unused",
		Resolution:     "16x16",
		FPS:            1,
		SegmentSeconds: 1,
		Format:         "mp4",
		OutputDir:      t.TempDir(),
	}
	proc, err := spec.Launch()
	if err != nil {
		t.Fatal(err)
	}
	<-proc.Done()

	// Terminate and Kill after exit are no-ops.
	if err := proc.Terminate(); err != nil {
		t.Errorf("Terminate after exit: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Errorf("Kill after exit: %v", err)
	}
}

func TestCaptureSpec_LaunchMissingBinary(t *testing.T) {
	spec := CaptureSpec{Binary: "/nonexistent/ffmpeg", Format: "mp4"}
	if _, err := spec.Launch(); err == nil {
		t.Fatal("expected launch error for missing binary")
	}
}
