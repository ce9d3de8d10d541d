package video

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// OutputPath derives a destination for a job that did not name one:
// dir/<stem>_<operation>_<timestamp><ext>, with the extension switched by
// operations that change the container.
func OutputPath(dir, input, operation string, params map[string]any, now time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	ts := now.Format("20060102_150405")

	ext := filepath.Ext(input)
	switch operation {
	case OpThumbnail:
		ext = ".jpg"
	case OpCreateGIF:
		ext = ".gif"
	case OpExtractAudio:
		format := "mp3"
		if v, ok := params["audio_format"].(string); ok && v != "" {
			format = v
		}
		ext = "." + format
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s%s", stem, operation, ts, ext))
}
