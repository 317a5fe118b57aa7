package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
)

// ErrUnknownEffect is returned when an effect name is not registered.
var ErrUnknownEffect = errors.New("unknown effect")

// DefaultEffect is the effect applied when none is configured.
const DefaultEffect = "blackwhite"

// effects maps effect names to ffmpeg video filter graphs.
var effects = map[string]string{
	// Drop saturation; luma is kept so the result stays in yuv420p.
	"blackwhite": "hue=s=0",
	"invert":     "negate",
	"sepia":      "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131",
}

// Effects returns the registered effect names, sorted.
func Effects() []string {
	names := make([]string, 0, len(effects))
	for name := range effects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateEffect returns ErrUnknownEffect if name is not registered.
func ValidateEffect(name string) error {
	if _, ok := effects[name]; !ok {
		return fmt.Errorf("%w: %q (available: %v)", ErrUnknownEffect, name, Effects())
	}
	return nil
}

// Compile-time check that FFmpegTransformer implements Transformer.
var _ Transformer = (*FFmpegTransformer)(nil)

// FFmpegTransformer implements Transformer using the ffmpeg CLI.
type FFmpegTransformer struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegTransformer creates a new FFmpegTransformer.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegTransformer(ffmpegPath string) *FFmpegTransformer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegTransformer{ffmpegPath: ffmpegPath}
}

// Transform re-encodes src into dst with the effect's filter applied to
// the first video stream. Audio streams are re-encoded to AAC when present.
func (t *FFmpegTransformer) Transform(ctx context.Context, src, dst, effect string) error {
	filter, ok := effects[effect]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEffect, effect)
	}

	args := []string{
		"-y",      // Overwrite output file without asking
		"-i", src, // Input file
		"-map", "0:v:0", // First video stream
		"-map", "0:a?", // Audio streams, if any
		"-vf", filter, // Effect filter
		"-c:v", "libx264", // Video codec
		"-preset", "fast", // Encoding speed preset
		"-crf", "23", // Quality (lower = better, 23 is default)
		"-pix_fmt", "yuv420p", // Pixel format for compatibility
		"-c:a", "aac", // Audio codec
		"-movflags", "+faststart", // Playable while downloading
		"-f", "mp4", // Container, independent of dst's extension
		dst,
	}

	return t.runFFmpeg(ctx, args)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (t *FFmpegTransformer) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
