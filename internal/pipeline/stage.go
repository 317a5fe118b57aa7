// Package pipeline runs batches of video rows through download, metadata
// extraction, transform, upload, cleanup and metadata persistence. Every
// row yields exactly one Outcome and no row's failure affects another.
package pipeline

import (
	"errors"
)

// Stage names one step of the item pipeline.
type Stage string

// Pipeline stages in execution order. StageCleanup and StageMetadataSink
// failures are logged only. StageRow tags unexpected errors caught by the
// coordinator.
const (
	StageParse        Stage = "parse"
	StageDownload     Stage = "download"
	StageLoad         Stage = "load"
	StageProcess      Stage = "process"
	StageUpload       Stage = "upload"
	StageCleanup      Stage = "cleanup"
	StageMetadataSink Stage = "metadata-sink"
	StageRow          Stage = "row"
)

// Fatal reports whether a failure at this stage turns the item's outcome
// into a failure.
func (s Stage) Fatal() bool {
	return s != StageCleanup && s != StageMetadataSink
}

// describe returns the human-facing prefix used in failure messages.
func (s Stage) describe() string {
	switch s {
	case StageParse:
		return "Invalid row format"
	case StageDownload:
		return "Error downloading video from S3"
	case StageLoad:
		return "Error loading video"
	case StageProcess:
		return "Error processing video"
	case StageUpload:
		return "Error uploading processed video to S3"
	case StageCleanup:
		return "Error cleaning up temporary files"
	case StageMetadataSink:
		return "Error inserting metadata"
	default:
		return "Unexpected error processing row"
	}
}

// StageError is a failure attributed to one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage.describe() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage err is attributed to, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
