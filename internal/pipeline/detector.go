package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"time"
)

// HTTPDetector calls an external person-detection service: the frame is
// posted as JPEG and the service answers with bounding boxes. Running the
// model out of process keeps the heavy inference runtime out of this
// binary and lets the detector be swapped without a redeploy.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector creates a detector client for the given endpoint.
func NewHTTPDetector(url string) *HTTPDetector {
	return &HTTPDetector{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type detectorBox struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
}

// Detect posts the frame and decodes the returned boxes.
func (d *HTTPDetector) Detect(frame image.Image) ([]Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("pipeline: encode frame: %w", err)
	}

	resp, err := d.client.Post(d.url, "image/jpeg", &buf)
	if err != nil {
		return nil, fmt.Errorf("pipeline: detector request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pipeline: detector returned %s", resp.Status)
	}

	var result struct {
		Boxes []detectorBox `json:"boxes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("pipeline: decode detector response: %w", err)
	}

	detections := make([]Detection, 0, len(result.Boxes))
	for _, b := range result.Boxes {
		detections = append(detections, Detection{
			Box:        image.Rect(b.X1, b.Y1, b.X2, b.Y2),
			Confidence: b.Confidence,
		})
	}
	return detections, nil
}

// HTTPStaffFilter asks the same service whether the person at a point is
// staff. Errors propagate to the counter, which treats them as fail-open.
type HTTPStaffFilter struct {
	url    string
	client *http.Client
}

// NewHTTPStaffFilter creates a staff-classifier client.
func NewHTTPStaffFilter(url string) *HTTPStaffFilter {
	return &HTTPStaffFilter{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Classify reports whether the person at pt in frame looks like staff.
func (f *HTTPStaffFilter) Classify(frame image.Image, pt image.Point) (bool, float64, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 85}); err != nil {
		return false, 0, fmt.Errorf("pipeline: encode frame: %w", err)
	}

	url := fmt.Sprintf("%s?x=%d&y=%d", f.url, pt.X, pt.Y)
	resp, err := f.client.Post(url, "image/jpeg", &buf)
	if err != nil {
		return false, 0, fmt.Errorf("pipeline: staff filter request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, 0, fmt.Errorf("pipeline: staff filter returned %s", resp.Status)
	}

	var result struct {
		IsStaff    bool    `json:"is_staff"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, 0, fmt.Errorf("pipeline: decode staff filter response: %w", err)
	}
	return result.IsStaff, result.Confidence, nil
}
