package video

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"video-batch-processor/internal/models"
)

func testProcessor(t *testing.T) *Processor {
	t.Helper()
	return NewProcessor(Options{
		OutputDir: t.TempDir(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestExecuteUnknownOperation(t *testing.T) {
	p := testProcessor(t)
	job := models.Job{ID: "job-1", Operation: "explode", Parameters: map[string]any{}}
	if _, err := p.Execute(context.Background(), job, nil); err == nil || !strings.Contains(err.Error(), "unknown operation") {
		t.Fatalf("expected unknown operation error, got %v", err)
	}
}

func TestExecuteMissingInput(t *testing.T) {
	p := testProcessor(t)
	job := models.Job{ID: "job-1", Operation: OpTranscode, Parameters: map[string]any{}}
	if _, err := p.Execute(context.Background(), job, nil); err == nil || !strings.Contains(err.Error(), "input is required") {
		t.Fatalf("expected input required error, got %v", err)
	}
}

func TestExecuteInputNotFound(t *testing.T) {
	p := testProcessor(t)
	job := models.Job{
		ID:         "job-1",
		Operation:  OpTranscode,
		Parameters: map[string]any{"input": "/nonexistent/movie.mp4"},
	}
	if _, err := p.Execute(context.Background(), job, nil); err == nil || !strings.Contains(err.Error(), "input file") {
		t.Fatalf("expected input file error, got %v", err)
	}
}

func TestExecuteConcatRequiresInputs(t *testing.T) {
	p := testProcessor(t)
	job := models.Job{ID: "job-1", Operation: OpConcatenate, Parameters: map[string]any{}}
	if _, err := p.Execute(context.Background(), job, nil); err == nil || !strings.Contains(err.Error(), "inputs is required") {
		t.Fatalf("expected inputs required error, got %v", err)
	}
}

func TestProgressLineParsing(t *testing.T) {
	lines := []string{
		"frame=250",
		"fps=30.0",
		"out_time_ms=2500000",
		"progress=continue",
	}
	var got float64
	for _, line := range lines {
		m := outTimeRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		us, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		got = float64(us) / 1e6 / 10.0
	}
	if got != 0.25 {
		t.Fatalf("expected fraction 0.25 for 2.5s of 10s, got %v", got)
	}
}

func TestTailBufferKeepsEnd(t *testing.T) {
	tb := newTailBuffer(16)
	for i := 0; i < 10; i++ {
		if _, err := tb.Write([]byte("0123456789")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	s := tb.String()
	if len(s) != 16 {
		t.Fatalf("expected 16 bytes kept, got %d", len(s))
	}
	if !strings.HasSuffix(s, "0123456789") {
		t.Fatalf("tail lost: %q", s)
	}
}

func TestLastLine(t *testing.T) {
	s := "Stream mapping:\n  Stream #0:0 -> #0:0\nConversion failed!\n\n"
	if got := lastLine(s); got != "Conversion failed!" {
		t.Fatalf("unexpected last line %q", got)
	}
	if got := lastLine("  \n \n"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := map[string]float64{
		"25/1":  25,
		"0/0":   0,
		"":      0,
		"23.98": 23.98,
	}
	for in, want := range cases {
		if got := parseFrameRate(in); got != want {
			t.Fatalf("parseFrameRate(%q) = %v, want %v", in, got, want)
		}
	}
	ntsc := parseFrameRate("30000/1001")
	if ntsc < 29.96 || ntsc > 29.98 {
		t.Fatalf("ntsc rate = %v", ntsc)
	}
}

func TestParseSize(t *testing.T) {
	w, h, err := parseSize("1280x720")
	if err != nil || w != 1280 || h != 720 {
		t.Fatalf("parseSize: %d %d %v", w, h, err)
	}
	if _, _, err := parseSize("wide"); err == nil {
		t.Fatalf("expected error for bad size")
	}
	if _, _, err := parseSize("12x"); err == nil {
		t.Fatalf("expected error for missing height")
	}
}

func TestResizeFrame(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.png")
	outPath := filepath.Join(dir, "thumb.jpg")

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	f, err := os.Create(framePath)
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	f.Close()

	if err := resizeFrame(framePath, outPath, "32x24"); err != nil {
		t.Fatalf("resize: %v", err)
	}

	out, err := imaging.Open(outPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if out.Bounds().Dx() != 32 || out.Bounds().Dy() != 24 {
		t.Fatalf("unexpected size %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.mp4")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	list, err := writeConcatList([]string{a, b})
	if err != nil {
		t.Fatalf("write list: %v", err)
	}
	defer os.Remove(list)

	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	want := "file '" + a + "'\nfile '" + b + "'\n"
	if string(data) != want {
		t.Fatalf("unexpected list:\n got %q\nwant %q", string(data), want)
	}
}

func TestMimeForPath(t *testing.T) {
	cases := map[string]string{
		"a.mp4":  "video/mp4",
		"a.gif":  "image/gif",
		"a.jpg":  "image/jpeg",
		"a.mp3":  "audio/mpeg",
		"a.flac": "audio/flac",
		"a.bin":  "application/octet-stream",
	}
	for path, want := range cases {
		if got := mimeForPath(path); got != want {
			t.Fatalf("mimeForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestSanitizeKey(t *testing.T) {
	if got := sanitizeKey("/abs/path.mp4"); got != "abs/path.mp4" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := sanitizeKey("./rel.mp4"); got != "rel.mp4" {
		t.Fatalf("unexpected key %q", got)
	}
}
