package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLog(t *testing.T) *HeartbeatLog {
	t.Helper()
	return NewHeartbeatLog(filepath.Join(t.TempDir(), "watchdog_log.txt"))
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(TimeFormat, s, time.Local)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestHeartbeatLog_AppendAndEntries(t *testing.T) {
	log := testLog(t)

	t0 := mustTime(t, "2025-03-01 10:00:00")
	if err := log.AppendSegment("segment_000000001.mp4", t0); err != nil {
		t.Fatal(err)
	}
	if err := log.AppendSegment("segment_000000002.mp4", t0.Add(15*time.Second)); err != nil {
		t.Fatal(err)
	}

	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Filename != "segment_000000001.mp4" || !entries[0].CompletedAt.Equal(t0) {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Filename != "segment_000000002.mp4" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestHeartbeatLog_MissingFileIsEmpty(t *testing.T) {
	log := testLog(t)
	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries from missing file", len(entries))
	}
	if _, ok, err := log.LatestHeartbeat(); err != nil || ok {
		t.Errorf("LatestHeartbeat on missing file: ok=%v err=%v", ok, err)
	}
}

func TestHeartbeatLog_FilenameAppearsAtMostOnce(t *testing.T) {
	log := testLog(t)
	t0 := mustTime(t, "2025-03-01 10:00:00")

	if err := log.AppendSegment("segment_000000001.mp4", t0); err != nil {
		t.Fatal(err)
	}
	if err := log.AppendSegment("segment_000000001.mp4", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("duplicate append produced %d entries", len(entries))
	}
	if !entries[0].CompletedAt.Equal(t0) {
		t.Error("duplicate append overwrote the original timestamp")
	}
}

func TestHeartbeatLog_RejectsInvalidFilename(t *testing.T) {
	log := testLog(t)
	for _, name := range []string{"", "a|b.mp4", "bad\nname.mp4"} {
		if err := log.AppendSegment(name, time.Now()); err == nil {
			t.Errorf("AppendSegment(%q): expected error", name)
		}
	}
}

func TestHeartbeatLog_RemovePreservesEventLines(t *testing.T) {
	log := testLog(t)
	t0 := mustTime(t, "2025-03-01 10:00:00")

	if err := log.AppendEvent("watchdog starting -> running: capture process launched"); err != nil {
		t.Fatal(err)
	}
	if err := log.AppendSegment("segment_000000001.mp4", t0); err != nil {
		t.Fatal(err)
	}
	if err := log.AppendSegment("segment_000000002.mp4", t0.Add(15*time.Second)); err != nil {
		t.Fatal(err)
	}

	if err := log.RemoveSegment("segment_000000001.mp4"); err != nil {
		t.Fatal(err)
	}

	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Filename != "segment_000000002.mp4" {
		t.Errorf("entries after remove: %+v", entries)
	}

	raw, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "EVENT: watchdog starting -> running") {
		t.Error("event line lost during rewrite")
	}
	if strings.Contains(string(raw), "segment_000000001.mp4") {
		t.Error("removed segment still present in log")
	}
}

func TestHeartbeatLog_RemoveUnknownIsNoop(t *testing.T) {
	log := testLog(t)
	if err := log.AppendSegment("segment_000000001.mp4", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := log.RemoveSegment("segment_000000099.mp4"); err != nil {
		t.Fatal(err)
	}
	entries, _ := log.Entries()
	if len(entries) != 1 {
		t.Errorf("no-op remove changed entries: %+v", entries)
	}
}

func TestHeartbeatLog_LatestHeartbeat(t *testing.T) {
	log := testLog(t)
	t0 := mustTime(t, "2025-03-01 10:00:00")
	log.AppendSegment("segment_000000001.mp4", t0)
	log.AppendSegment("segment_000000002.mp4", t0.Add(30*time.Second))

	latest, ok, err := log.LatestHeartbeat()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !latest.Equal(t0.Add(30 * time.Second)) {
		t.Errorf("latest = %v", latest)
	}
}

func TestHeartbeatLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog_log.txt")
	content := "segment_000000001.mp4|2025-03-01 10:00:00\n" +
		"garbage line without separator\n" +
		"segment_000000002.mp4|not-a-timestamp\n" +
		"segment_000000003.mp4|2025-03-01 10:00:30\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	log := NewHeartbeatLog(path)
	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (malformed skipped)", len(entries))
	}
}
