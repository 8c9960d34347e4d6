package pipeline

import (
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"

	"github.com/banshee-data/footfall.report/internal/geometry"
)

// FFmpegSource decodes a segment with ffmpeg, cropped to the ROI and
// rotated per the configured orientation, yielding raw RGB frames. The
// crop and rotation run inside ffmpeg's filter graph so the Go side only
// ever sees ROI-local, rotation-corrected pixels.
type FFmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	width  int
	height int
	buf    []byte
}

// NewFFmpegSource opens path for decoding. roi is the crop rectangle in
// the full frame; rot is applied after the crop.
func NewFFmpegSource(binary, path string, roi image.Rectangle, rot geometry.Rotation) (*FFmpegSource, error) {
	if roi.Dx() <= 0 || roi.Dy() <= 0 {
		return nil, fmt.Errorf("pipeline: empty ROI %v", roi)
	}

	filters := []string{
		fmt.Sprintf("crop=%d:%d:%d:%d", roi.Dx(), roi.Dy(), roi.Min.X, roi.Min.Y),
	}
	outW, outH := roi.Dx(), roi.Dy()
	switch rot {
	case geometry.Rotate90:
		filters = append(filters, "transpose=1")
		outW, outH = outH, outW
	case geometry.Rotate180:
		filters = append(filters, "hflip", "vflip")
	case geometry.Rotate270:
		filters = append(filters, "transpose=2")
		outW, outH = outH, outW
	}

	cmd := exec.Command(binary,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vf", strings.Join(filters, ","),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipeline: ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pipeline: start ffmpeg: %w", err)
	}

	return &FFmpegSource{
		cmd:    cmd,
		stdout: stdout,
		width:  outW,
		height: outH,
		buf:    make([]byte, outW*outH*3),
	}, nil
}

// Next returns the next decoded frame, or io.EOF when the segment ends.
func (s *FFmpegSource) Next() (image.Image, error) {
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("pipeline: read frame: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for i, j := 0, 0; i < len(s.buf); i, j = i+3, j+4 {
		img.Pix[j] = s.buf[i]
		img.Pix[j+1] = s.buf[i+1]
		img.Pix[j+2] = s.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// Close stops the decoder and reaps the process.
func (s *FFmpegSource) Close() error {
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}
