package tracking

import (
	"image"
	"reflect"
	"testing"
)

func box(cx, cy int) image.Rectangle {
	return image.Rect(cx-10, cy-20, cx+10, cy+20)
}

func TestCentroid(t *testing.T) {
	if got := Centroid(image.Rect(0, 0, 10, 20)); got != image.Pt(5, 10) {
		t.Errorf("Centroid = %v, want (5,10)", got)
	}
	// Degenerate box still yields a valid centroid.
	if got := Centroid(image.Rect(7, 9, 7, 9)); got != image.Pt(7, 9) {
		t.Errorf("degenerate Centroid = %v, want (7,9)", got)
	}
}

func TestTracker_RegistersAllOnFirstFrame(t *testing.T) {
	tr := New(DefaultConfig())
	objects := tr.Update([]image.Rectangle{box(50, 50), box(200, 50), box(120, 90)})

	if len(objects) != 3 {
		t.Fatalf("expected 3 tracks, got %d", len(objects))
	}
	for id := 0; id < 3; id++ {
		if _, ok := objects[id]; !ok {
			t.Errorf("missing track ID %d", id)
		}
	}
}

func TestTracker_StationaryDetectionsKeepIDs(t *testing.T) {
	tr := New(DefaultConfig())
	boxes := []image.Rectangle{box(50, 50), box(200, 50)}

	first := tr.Update(boxes)
	for i := 0; i < 30; i++ {
		got := tr.Update(boxes)
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("frame %d: ID set changed: %v vs %v", i, got, first)
		}
	}
}

func TestTracker_FollowsMovingCentroid(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Update([]image.Rectangle{box(50, 50)})

	for y := 55; y <= 200; y += 5 {
		objects := tr.Update([]image.Rectangle{box(50, y)})
		if len(objects) != 1 {
			t.Fatalf("y=%d: expected 1 track, got %d", y, len(objects))
		}
		if got := objects[0]; got != image.Pt(50, y) {
			t.Errorf("y=%d: track 0 at %v", y, got)
		}
	}
}

func TestTracker_DeregistersAfterMaxDisappeared(t *testing.T) {
	cfg := Config{MaxDisappeared: 3, MaxDistance: 80}
	tr := New(cfg)
	tr.Update([]image.Rectangle{box(50, 50)})

	// The track survives exactly MaxDisappeared empty frames.
	for i := 0; i < cfg.MaxDisappeared; i++ {
		objects := tr.Update(nil)
		if len(objects) != 1 {
			t.Fatalf("empty frame %d: expected track to survive, got %d tracks", i+1, len(objects))
		}
	}
	if objects := tr.Update(nil); len(objects) != 0 {
		t.Fatalf("expected deregistration after %d misses, still have %d tracks", cfg.MaxDisappeared+1, len(objects))
	}
}

func TestTracker_ReappearanceWithinThresholdKeepsID(t *testing.T) {
	tr := New(Config{MaxDisappeared: 5, MaxDistance: 80})
	tr.Update([]image.Rectangle{box(50, 50)})
	tr.Update(nil)
	tr.Update(nil)

	objects := tr.Update([]image.Rectangle{box(55, 52)})
	if len(objects) != 1 {
		t.Fatalf("expected 1 track, got %d", len(objects))
	}
	if _, ok := objects[0]; !ok {
		t.Error("occluded track should keep its original ID on reappearance")
	}
}

func TestTracker_MaxDistanceCreatesNewTrack(t *testing.T) {
	tr := New(Config{MaxDisappeared: 5, MaxDistance: 30})
	tr.Update([]image.Rectangle{box(50, 50)})

	// A detection far beyond MaxDistance must not be associated.
	objects := tr.Update([]image.Rectangle{box(300, 300)})
	if len(objects) != 2 {
		t.Fatalf("expected old track + new track, got %d", len(objects))
	}
	if _, ok := objects[1]; !ok {
		t.Error("distant detection should have registered as track 1")
	}
	if objects[0] != image.Pt(50, 50) {
		t.Errorf("unmatched track moved: %v", objects[0])
	}
}

func TestTracker_IDsNeverReused(t *testing.T) {
	tr := New(Config{MaxDisappeared: 0, MaxDistance: 30})
	tr.Update([]image.Rectangle{box(50, 50)})
	tr.Update(nil) // deregisters track 0

	objects := tr.Update([]image.Rectangle{box(50, 50)})
	if _, ok := objects[0]; ok {
		t.Error("track ID 0 was reused after deregistration")
	}
	if _, ok := objects[1]; !ok {
		t.Error("new track should be ID 1")
	}
}

func TestTracker_DeterministicAssignment(t *testing.T) {
	// Two tracks, two detections at symmetric distances: the assignment
	// must be identical across repeated runs with the same input order.
	run := func() map[int]image.Point {
		tr := New(DefaultConfig())
		tr.Update([]image.Rectangle{box(100, 100), box(200, 100)})
		return tr.Update([]image.Rectangle{box(150, 100), box(250, 100)})
	}

	want := run()
	for i := 0; i < 20; i++ {
		if got := run(); !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: assignment differs: %v vs %v", i, got, want)
		}
	}
	// Distance 50 pairs tie on detection index, so the lower track ID
	// claims detection 0; track 1 then takes detection 1 at distance 50.
	if want[0] != image.Pt(150, 100) {
		t.Errorf("track 0 = %v, want (150,100)", want[0])
	}
	if want[1] != image.Pt(250, 100) {
		t.Errorf("track 1 = %v, want (250,100)", want[1])
	}
}

func TestTracker_QuerySurface(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Update([]image.Rectangle{box(10, 10), box(90, 90)})
	tr.Update(nil)

	if got := tr.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	tracks := tr.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("Tracks len = %d", len(tracks))
	}
	if tracks[0].ID != 0 || tracks[1].ID != 1 {
		t.Errorf("tracks not ordered by ID: %+v", tracks)
	}
	for _, trk := range tracks {
		if trk.MissedFrames != 1 {
			t.Errorf("track %d MissedFrames = %d, want 1", trk.ID, trk.MissedFrames)
		}
	}
}
