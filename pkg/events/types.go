package events

import "encoding/json"

// Event name constants
const (
	OutputCreated   = "lockbox.output.created"
	OutputDeleted   = "lockbox.output.deleted"
	OutputRenamed   = "lockbox.output.renamed"
	StageCreated    = "lockbox.stage.created"
	StageDeleted    = "lockbox.stage.deleted"
	StageRenamed    = "lockbox.stage.renamed"
	ModelChanged    = "lockbox.model.changed"
	StateChanged    = "lockbox.state.changed"
	InputAdded      = "lockbox.input.added"
	InputRemoved    = "lockbox.input.removed"
	InputCalibrated = "lockbox.input.calibrated"

	// CalibrationAction reports changes of the calibration schedule and
	// failed scheduled runs.
	CalibrationAction = "calibration.action"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// EntitiesEvent is the payload of the created/deleted/added/removed/
// calibrated events. Names lists the affected entities.
type EntitiesEvent struct {
	Lockbox string   `json:"lockbox"`
	Names   []string `json:"names"`
	Ts      int64    `json:"ts"`
}

// RenamedEvent is the typed payload for the renamed events.
type RenamedEvent struct {
	Lockbox string `json:"lockbox"`
	From    string `json:"from"`
	To      string `json:"to"`
	Ts      int64  `json:"ts"`
}

// StateChangedEvent is the typed payload for lockbox.state.changed.
type StateChangedEvent struct {
	Lockbox string `json:"lockbox"`
	From    string `json:"from"`
	To      string `json:"to"`
	Ts      int64  `json:"ts"`
}

// ModelChangedEvent is the typed payload for lockbox.model.changed.
type ModelChangedEvent struct {
	Lockbox   string `json:"lockbox"`
	Classname string `json:"classname"`
	Ts        int64  `json:"ts"`
}

// CalibrationActionEvent is the typed payload for calibration.action.
type CalibrationActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.StateChangedEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
