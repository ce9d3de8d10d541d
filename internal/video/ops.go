package video

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Operation names accepted by the processor.
const (
	OpTranscode    = "transcode"
	OpCompress     = "compress"
	OpWatermark    = "add_watermark"
	OpThumbnail    = "generate_thumbnail"
	OpExtractAudio = "extract_audio"
	OpCreateGIF    = "create_gif"
	OpConcatenate  = "concatenate_videos"
	OpTrim         = "trim_video"
)

// Operations lists every supported operation name.
func Operations() []string {
	return []string{
		OpTranscode,
		OpCompress,
		OpWatermark,
		OpThumbnail,
		OpExtractAudio,
		OpCreateGIF,
		OpConcatenate,
		OpTrim,
	}
}

// Supported reports whether name is a known operation.
func Supported(name string) bool {
	for _, op := range Operations() {
		if op == name {
			return true
		}
	}
	return false
}

// decodeParams maps the loose parameter payload onto a typed struct via a
// JSON roundtrip, so numeric and string fields coerce the same way they
// would from a request body.
func decodeParams(params map[string]any, v any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return nil
}

type transcodeParams struct {
	Codec      string `json:"codec"`
	Preset     string `json:"preset"`
	CRF        int    `json:"crf"`
	AudioCodec string `json:"audio_codec"`
}

func transcodeArgs(input, output string, p transcodeParams) []string {
	if p.Codec == "" {
		p.Codec = "libx264"
	}
	if p.Preset == "" {
		p.Preset = "medium"
	}
	if p.CRF == 0 {
		p.CRF = 23
	}
	if p.AudioCodec == "" {
		p.AudioCodec = "aac"
	}
	return []string{
		"-i", input,
		"-c:v", p.Codec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-c:a", p.AudioCodec,
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-y", output,
	}
}

type compressParams struct {
	TargetSizeMB float64 `json:"target_size_mb"`
	Scale        string  `json:"scale"`
}

// compressArgs builds the compression command. duration in seconds sizes the
// video bitrate when a target size is requested, leaving 128k for audio.
func compressArgs(input, output string, p compressParams, duration float64) []string {
	args := []string{"-i", input}
	if p.TargetSizeMB > 0 && duration > 0 {
		bitrate := int(p.TargetSizeMB*8192/duration) - 128
		args = append(args,
			"-b:v", fmt.Sprintf("%dk", bitrate),
			"-maxrate", fmt.Sprintf("%dk", bitrate*3/2),
			"-bufsize", fmt.Sprintf("%dk", bitrate*2),
		)
	}
	if p.Scale != "" {
		args = append(args, "-vf", "scale="+p.Scale)
	}
	return append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-y", output,
	)
}

// watermarkPositions maps friendly names to overlay coordinates.
var watermarkPositions = map[string]string{
	"top-left":     "10:10",
	"top-right":    "W-w-10:10",
	"bottom-left":  "10:H-h-10",
	"bottom-right": "W-w-10:H-h-10",
	"center":       "(W-w)/2:(H-h)/2",
}

type watermarkParams struct {
	WatermarkPath string  `json:"watermark_path"`
	Position      string  `json:"position"`
	Opacity       float64 `json:"opacity"`
}

func watermarkArgs(input, output string, p watermarkParams) []string {
	pos, ok := watermarkPositions[p.Position]
	if !ok {
		pos = watermarkPositions["bottom-right"]
	}
	opacity := p.Opacity
	if opacity == 0 {
		opacity = 0.7
	}
	filter := fmt.Sprintf("[1]format=rgba,colorchannelmixer=aa=%g[wm];[0][wm]overlay=%s", opacity, pos)
	return []string{
		"-i", input,
		"-i", p.WatermarkPath,
		"-filter_complex", filter,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "copy",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-y", output,
	}
}

type thumbnailParams struct {
	Timestamp string `json:"timestamp"`
	Size      string `json:"size"`
}

// thumbnailFrameArgs extracts a single full-resolution frame. Scaling
// happens in-process afterwards.
func thumbnailFrameArgs(input, framePath string, p thumbnailParams) []string {
	ts := p.Timestamp
	if ts == "" {
		ts = "00:00:01"
	}
	return []string{
		"-i", input,
		"-ss", ts,
		"-vframes", "1",
		"-y", framePath,
	}
}

// audioCodecs maps audio formats to their encoders.
var audioCodecs = map[string]string{
	"mp3":  "libmp3lame",
	"aac":  "aac",
	"wav":  "pcm_s16le",
	"flac": "flac",
}

type extractAudioParams struct {
	AudioFormat string `json:"audio_format"`
	Bitrate     string `json:"bitrate"`
}

func extractAudioArgs(input, output string, p extractAudioParams) []string {
	codec, ok := audioCodecs[p.AudioFormat]
	if !ok {
		codec = "libmp3lame"
	}
	bitrate := p.Bitrate
	if bitrate == "" {
		bitrate = "192k"
	}
	return []string{
		"-i", input,
		"-vn",
		"-c:a", codec,
		"-b:a", bitrate,
		"-progress", "pipe:1",
		"-y", output,
	}
}

type gifParams struct {
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
	FPS       int    `json:"fps"`
	Scale     int    `json:"scale"`
}

func gifArgs(input, output string, p gifParams) []string {
	if p.StartTime == "" {
		p.StartTime = "00:00:00"
	}
	if p.Duration == 0 {
		p.Duration = 5
	}
	if p.FPS == 0 {
		p.FPS = 10
	}
	if p.Scale == 0 {
		p.Scale = 480
	}
	filter := fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos,split[s0][s1];[s0]palettegen[p];[s1][p]paletteuse", p.FPS, p.Scale)
	return []string{
		"-ss", p.StartTime,
		"-t", strconv.Itoa(p.Duration),
		"-i", input,
		"-vf", filter,
		"-loop", "0",
		"-progress", "pipe:1",
		"-y", output,
	}
}

func concatArgs(listPath, output string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-progress", "pipe:1",
		"-y", output,
	}
}

type trimParams struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Duration  int    `json:"duration"`
}

func trimArgs(input, output string, p trimParams) []string {
	args := []string{"-i", input, "-ss", p.StartTime}
	if p.EndTime != "" {
		args = append(args, "-to", p.EndTime)
	} else if p.Duration > 0 {
		args = append(args, "-t", strconv.Itoa(p.Duration))
	}
	return append(args, "-c", "copy", "-progress", "pipe:1", "-y", output)
}
