// Package video implements the FFmpeg-backed job executor: media probing,
// per-operation command construction, progress relay, and artifact upload.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"video-batch-processor/internal/dispatch"
	"video-batch-processor/internal/models"
)

// Options configures the processor.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	OutputDir   string
	// Uploader receives artifacts for jobs whose destination parameter
	// (or the service default) selects s3. Nil means local only.
	Uploader           Uploader
	DefaultDestination string
	Logger             *slog.Logger
}

// Processor runs video operations through ffmpeg. It implements
// dispatch.Executor.
type Processor struct {
	ffmpegPath  string
	ffprobePath string
	outputDir   string
	uploader    Uploader
	defaultDest string
	logger      *slog.Logger
}

var _ dispatch.Executor = (*Processor)(nil)

// NewProcessor constructs the processor, filling unset options with the
// conventional defaults.
func NewProcessor(opts Options) *Processor {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.DefaultDestination == "" {
		opts.DefaultDestination = "local"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Processor{
		ffmpegPath:  opts.FFmpegPath,
		ffprobePath: opts.FFprobePath,
		outputDir:   opts.OutputDir,
		uploader:    opts.Uploader,
		defaultDest: opts.DefaultDestination,
		logger:      opts.Logger,
	}
}

// request carries the parameter fields shared by every operation.
type request struct {
	Input       string   `json:"input"`
	Output      string   `json:"output"`
	Inputs      []string `json:"inputs"`
	Destination string   `json:"destination"`
}

// Execute runs one job to completion, reporting progress as ffmpeg emits it.
func (p *Processor) Execute(ctx context.Context, job models.Job, report dispatch.ProgressFunc) (*models.Result, error) {
	var req request
	if err := decodeParams(job.Parameters, &req); err != nil {
		return nil, err
	}

	started := time.Now()
	out, err := p.run(ctx, job, req, report)
	if err != nil {
		return nil, err
	}

	stored := out
	if p.destinationFor(req) == "s3" {
		if report != nil {
			report(0, "uploading")
		}
		stored, err = p.uploadArtifact(ctx, out)
		if err != nil {
			return nil, err
		}
	}

	return &models.Result{
		OutputPath:        out,
		StoredAt:          stored,
		ProcessingSeconds: time.Since(started).Seconds(),
	}, nil
}

func (p *Processor) run(ctx context.Context, job models.Job, req request, report dispatch.ProgressFunc) (string, error) {
	switch job.Operation {
	case OpConcatenate:
		return p.concatenate(ctx, job, req, report)
	case OpThumbnail:
		return p.thumbnail(ctx, job, req)
	case OpTranscode, OpCompress, OpWatermark, OpExtractAudio, OpCreateGIF, OpTrim:
		return p.encode(ctx, job, req, report)
	default:
		return "", fmt.Errorf("unknown operation %q", job.Operation)
	}
}

// encode covers the single-input operations that stream progress against the
// input duration.
func (p *Processor) encode(ctx context.Context, job models.Job, req request, report dispatch.ProgressFunc) (string, error) {
	out, err := p.resolveOutput(job, req, req.Input)
	if err != nil {
		return "", err
	}

	info, err := p.Probe(ctx, req.Input)
	if err != nil {
		return "", err
	}

	var args []string
	switch job.Operation {
	case OpTranscode:
		var tp transcodeParams
		if err := decodeParams(job.Parameters, &tp); err != nil {
			return "", err
		}
		args = transcodeArgs(req.Input, out, tp)
	case OpCompress:
		var cp compressParams
		if err := decodeParams(job.Parameters, &cp); err != nil {
			return "", err
		}
		args = compressArgs(req.Input, out, cp, info.Duration)
	case OpWatermark:
		var wp watermarkParams
		if err := decodeParams(job.Parameters, &wp); err != nil {
			return "", err
		}
		if wp.WatermarkPath == "" {
			return "", errors.New("watermark_path is required")
		}
		if _, err := os.Stat(wp.WatermarkPath); err != nil {
			return "", fmt.Errorf("watermark file: %w", err)
		}
		args = watermarkArgs(req.Input, out, wp)
	case OpExtractAudio:
		var ap extractAudioParams
		if err := decodeParams(job.Parameters, &ap); err != nil {
			return "", err
		}
		args = extractAudioArgs(req.Input, out, ap)
	case OpCreateGIF:
		var gp gifParams
		if err := decodeParams(job.Parameters, &gp); err != nil {
			return "", err
		}
		args = gifArgs(req.Input, out, gp)
	case OpTrim:
		var tp trimParams
		if err := decodeParams(job.Parameters, &tp); err != nil {
			return "", err
		}
		if tp.StartTime == "" {
			return "", errors.New("start_time is required")
		}
		args = trimArgs(req.Input, out, tp)
	}

	if err := p.runFFmpeg(ctx, args, info.Duration, report, "encoding"); err != nil {
		return "", err
	}
	return out, nil
}

// thumbnail extracts one frame with ffmpeg and resizes it in-process.
func (p *Processor) thumbnail(ctx context.Context, job models.Job, req request) (string, error) {
	out, err := p.resolveOutput(job, req, req.Input)
	if err != nil {
		return "", err
	}

	var tp thumbnailParams
	if err := decodeParams(job.Parameters, &tp); err != nil {
		return "", err
	}
	if tp.Size == "" {
		tp.Size = "1280x720"
	}

	frame, err := os.CreateTemp("", "frame-*.png")
	if err != nil {
		return "", fmt.Errorf("temp frame: %w", err)
	}
	frame.Close()
	defer os.Remove(frame.Name())

	if err := p.runFFmpeg(ctx, thumbnailFrameArgs(req.Input, frame.Name(), tp), 0, nil, ""); err != nil {
		return "", err
	}
	if err := resizeFrame(frame.Name(), out, tp.Size); err != nil {
		return "", err
	}
	return out, nil
}

func (p *Processor) concatenate(ctx context.Context, job models.Job, req request, report dispatch.ProgressFunc) (string, error) {
	if len(req.Inputs) == 0 {
		return "", errors.New("inputs is required")
	}
	for _, in := range req.Inputs {
		if _, err := os.Stat(in); err != nil {
			return "", fmt.Errorf("input file: %w", err)
		}
	}

	out := req.Output
	if out == "" {
		out = OutputPath(p.outputDir, req.Inputs[0], job.Operation, job.Parameters, time.Now())
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	list, err := writeConcatList(req.Inputs)
	if err != nil {
		return "", err
	}
	defer os.Remove(list)

	// Progress is scaled against the first input, as a best effort.
	info, err := p.Probe(ctx, req.Inputs[0])
	if err != nil {
		return "", err
	}
	if err := p.runFFmpeg(ctx, concatArgs(list, out), info.Duration, report, "concatenating"); err != nil {
		return "", err
	}
	return out, nil
}

// resolveOutput validates the input path and decides where the artifact
// goes, creating the parent directory.
func (p *Processor) resolveOutput(job models.Job, req request, input string) (string, error) {
	if input == "" {
		return "", errors.New("input is required")
	}
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("input file: %w", err)
	}

	out := req.Output
	if out == "" {
		out = OutputPath(p.outputDir, input, job.Operation, job.Parameters, time.Now())
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return out, nil
}

func writeConcatList(inputs []string) (string, error) {
	f, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("temp list: %w", err)
	}
	defer f.Close()
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", in, err)
		}
		if _, err := fmt.Fprintf(f, "file '%s'\n", abs); err != nil {
			return "", fmt.Errorf("write list: %w", err)
		}
	}
	return f.Name(), nil
}

// uploadArtifact ships the finished file through the configured uploader.
func (p *Processor) uploadArtifact(ctx context.Context, path string) (string, error) {
	if p.uploader == nil {
		return "", errors.New("destination s3 requested but no uploader configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	key := sanitizeKey(filepath.Base(path))
	return p.uploader.Upload(ctx, key, f, mimeForPath(path))
}

func (p *Processor) destinationFor(req request) string {
	if req.Destination != "" {
		return strings.ToLower(req.Destination)
	}
	return p.defaultDest
}
