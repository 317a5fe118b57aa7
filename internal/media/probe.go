package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for metadata extraction.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when the file has no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
	// ErrInvalidFrameRate is returned when the frame rate is missing or not positive.
	ErrInvalidFrameRate = errors.New("invalid frame rate")
	// ErrInvalidDuration is returned when the duration is missing or negative.
	ErrInvalidDuration = errors.New("invalid duration")
)

// Compile-time check that Prober implements Extractor.
var _ Extractor = (*Prober)(nil)

// Prober implements Extractor with a single ffprobe JSON call.
type Prober struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewProber creates a new Prober.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

// Extract runs ffprobe against path and converts its output to Metadata.
func (p *Prober) Extract(ctx context.Context, path, filename string) (Metadata, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Metadata{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	return ParseJSON(stdout.Bytes(), filename)
}

// ParseJSON converts raw ffprobe JSON output into Metadata.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte, filename string) (Metadata, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	var video *ffprobeStream
	for i := range raw.Streams {
		if raw.Streams[i].CodecType == "video" {
			video = &raw.Streams[i]
			break
		}
	}
	if video == nil {
		return Metadata{}, ErrNoVideoStream
	}

	duration, err := parseDuration(raw.Format.Duration, video.Duration)
	if err != nil {
		return Metadata{}, err
	}

	fps, ok := parseRate(video.AvgFrameRate)
	if !ok {
		fps, ok = parseRate(video.RFrameRate)
	}
	if !ok {
		return Metadata{}, fmt.Errorf("%w: avg=%q r=%q", ErrInvalidFrameRate, video.AvgFrameRate, video.RFrameRate)
	}

	md := Metadata{
		Filename: filename,
		Duration: duration,
		FPS:      fps,
	}
	if video.Width > 0 && video.Height > 0 {
		md.Resolution = &Resolution{Width: video.Width, Height: video.Height}
	}
	return md, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

// parseDuration prefers the container duration and falls back to the
// video stream's own.
func parseDuration(values ...string) (float64, error) {
	for _, v := range values {
		if v == "" || v == "N/A" {
			continue
		}
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, v)
		}
		return d, nil
	}
	return 0, fmt.Errorf("%w: not reported", ErrInvalidDuration)
}

// parseRate parses an ffprobe rate such as "30000/1001" or "25".
// ok is false for "0/0", empty values and non-positive rates.
func parseRate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	var rate float64
	if num, den, found := strings.Cut(s, "/"); found {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, false
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, false
		}
		rate = n / d
	} else {
		r, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		rate = r
	}

	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, false
	}
	return rate, true
}
