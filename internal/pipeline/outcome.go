package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/maauso/videobatch-api/internal/batch"
	"github.com/maauso/videobatch-api/internal/media"
)

// Outcome is the result of one row: a success summary or a failure
// attributed to a stage.
type Outcome struct {
	RowID   json.RawMessage
	Message string
	// Stage and Err are set only on failure.
	Stage Stage
	Err   error
}

// Succeeded reports whether the row was transformed and stored.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// MarshalJSON encodes the outcome as the pair [row_id, message].
func (o Outcome) MarshalJSON() ([]byte, error) {
	id := o.RowID
	if len(id) == 0 {
		id = nullRowID
	}
	return json.Marshal([]any{id, o.Message})
}

// Result converts the outcome to its batch history form.
func (o Outcome) Result() batch.Result {
	return batch.Result{RowID: o.RowID, Message: o.Message, Stage: string(o.Stage)}
}

func success(rowID json.RawMessage, md media.Metadata) Outcome {
	return Outcome{RowID: rowID, Message: FormatSummary(md)}
}

func failure(rowID json.RawMessage, se *StageError) Outcome {
	return Outcome{RowID: rowID, Message: se.Error(), Stage: se.Stage, Err: se}
}

// FormatSummary renders the success message for md.
func FormatSummary(md media.Metadata) string {
	return fmt.Sprintf("Processed: %s, duration: %.2fs, fps: %.2f, resolution: %s",
		md.Filename, md.Duration, md.FPS, md.ResolutionString())
}
