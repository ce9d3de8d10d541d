package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Info is the metadata surfaced for a media file.
type Info struct {
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	Bitrate  int64   `json:"bitrate"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Codec    string  `json:"codec"`
	FPS      float64 `json:"fps"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

// Probe extracts media metadata with ffprobe.
func (p *Processor) Probe(ctx context.Context, inputPath string) (*Info, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", inputPath, err)
	}

	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var stream *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			stream = &out.Streams[i]
			break
		}
	}
	if stream == nil {
		return nil, errors.New("no video stream found")
	}

	return &Info{
		Duration: parseProbeFloat(out.Format.Duration),
		Size:     parseProbeInt(out.Format.Size),
		Bitrate:  parseProbeInt(out.Format.BitRate),
		Width:    stream.Width,
		Height:   stream.Height,
		Codec:    stream.CodecName,
		FPS:      parseFrameRate(stream.RFrameRate),
	}, nil
}

func parseProbeFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func parseProbeInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// parseFrameRate evaluates ffprobe's rational frame rate ("30000/1001").
func parseFrameRate(v string) float64 {
	if v == "" {
		return 0
	}
	num, den, ok := strings.Cut(v, "/")
	if !ok {
		return parseProbeFloat(v)
	}
	d := parseProbeFloat(den)
	if d == 0 {
		return 0
	}
	return parseProbeFloat(num) / d
}
