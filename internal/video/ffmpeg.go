package video

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"video-batch-processor/internal/dispatch"
)

// outTimeRE matches the out_time_ms key of ffmpeg's machine-readable
// progress stream. The value is in microseconds despite the name.
var outTimeRE = regexp.MustCompile(`out_time_ms=(\d+)`)

// runFFmpeg executes an ffmpeg command and relays fractional progress scaled
// against totalDuration in seconds. Cancelling ctx kills the process, which
// is how a cancelled job stops its work mid-encode.
func (p *Processor) runFFmpeg(ctx context.Context, args []string, totalDuration float64, report dispatch.ProgressFunc, message string) error {
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	p.logger.Debug("running ffmpeg", "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if report == nil || totalDuration <= 0 {
			continue
		}
		m := outTimeRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		us, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		report(float64(us)/1e6/totalDuration, message)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tail := stderr.String()
		p.logger.Error("ffmpeg failed", "error", err, "stderr_tail", tail)
		if line := lastLine(tail); line != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, line)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// tailBuffer keeps the last capacity bytes written to it. ffmpeg's stderr is
// chatty and only the end matters when it fails.
type tailBuffer struct {
	buf []byte
	max int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{max: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
