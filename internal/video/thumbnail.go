package video

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// parseSize splits a "1280x720" dimension string.
func parseSize(v string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(v), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q", v)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q", v)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q", v)
	}
	return width, height, nil
}

// resizeFrame scales an extracted frame to the requested size and saves it,
// JPEG quality 85 when the output is a jpg.
func resizeFrame(framePath, outputPath, size string) error {
	width, height, err := parseSize(size)
	if err != nil {
		return err
	}
	img, err := imaging.Open(framePath)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}
	img = imaging.Resize(img, width, height, imaging.Lanczos)
	if err := imaging.Save(img, outputPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}
