// Package media extracts video metadata and applies frame effects using the
// ffprobe and ffmpeg command-line tools.
package media

import (
	"context"
	"fmt"
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Metadata describes a decoded video file. It is immutable once built by
// an Extractor.
type Metadata struct {
	Filename string  `json:"filename"`
	Duration float64 `json:"duration"` // seconds, non-negative
	FPS      float64 `json:"fps"`      // positive
	// Resolution is nil when the file did not report both dimensions.
	Resolution *Resolution `json:"resolution"`
}

// Width returns the frame width, or nil when unknown.
func (m Metadata) Width() *int {
	if m.Resolution == nil {
		return nil
	}
	w := m.Resolution.Width
	return &w
}

// Height returns the frame height, or nil when unknown.
func (m Metadata) Height() *int {
	if m.Resolution == nil {
		return nil
	}
	h := m.Resolution.Height
	return &h
}

// ResolutionString renders the resolution as "(W, H)", or "(none, none)"
// when it is unknown.
func (m Metadata) ResolutionString() string {
	if m.Resolution == nil {
		return "(none, none)"
	}
	return fmt.Sprintf("(%d, %d)", m.Resolution.Width, m.Resolution.Height)
}

// Extractor reads metadata from a local media file.
type Extractor interface {
	// Extract decodes the file at path and reports its metadata.
	// filename is recorded as-is in the result.
	// Returns an error if the file is not a decodable video.
	Extract(ctx context.Context, path, filename string) (Metadata, error)
}

// Transformer applies a named effect to every frame of a video.
type Transformer interface {
	// Transform reads src, applies effect and writes the re-encoded result
	// to dst. Audio, when present, is carried over.
	Transform(ctx context.Context, src, dst, effect string) error
}
