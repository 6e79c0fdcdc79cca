// Package agui streams replay progress as AG-UI protocol SSE events. Files
// map to steps; pair outcomes travel as CUSTOM events.
package agui

import (
	"time"

	"github.com/thipages/js-crud-api/internal/runner"
)

// EventType identifies an AG-UI event.
type EventType string

const (
	EventRunStarted   EventType = "RUN_STARTED"
	EventRunFinished  EventType = "RUN_FINISHED"
	EventRunError     EventType = "RUN_ERROR"
	EventStepStarted  EventType = "STEP_STARTED"
	EventStepFinished EventType = "STEP_FINISHED"
	EventCustom       EventType = "CUSTOM"
)

// CustomPairFinished names the CUSTOM event carrying one pair outcome.
const CustomPairFinished = "pair_finished"

// Event is a single SSE event emitted to the client.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// RunStartedData carries the number of files queued and, behind
// authentication, the subject that started the run.
type RunStartedData struct {
	Files     int    `json:"files"`
	StartedBy string `json:"started_by,omitempty"`
}

// StepData carries a file transition. Result is set on STEP_FINISHED.
type StepData struct {
	Step   string             `json:"step"`
	Result *runner.FileResult `json:"result,omitempty"`
	Stats  *runner.Stats      `json:"stats,omitempty"`
}

// CustomData is the payload of a CUSTOM event.
type CustomData struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ErrorData carries error info for RUN_ERROR events.
type ErrorData struct {
	Message string `json:"message"`
}

// FromRunner converts a runner event.
func FromRunner(e runner.Event, at time.Time) Event {
	out := Event{Timestamp: at.UTC(), RunID: e.RunID}
	switch e.Kind {
	case runner.EventRunStarted:
		out.Type = EventRunStarted
		out.Data = RunStartedData{Files: e.Total}
	case runner.EventFileStarted:
		out.Type = EventStepStarted
		out.Data = StepData{Step: e.File}
	case runner.EventPairFinished:
		out.Type = EventCustom
		out.Data = CustomData{Name: CustomPairFinished, Value: e.Pair}
	case runner.EventFileFinished:
		stats := e.Stats
		out.Type = EventStepFinished
		out.Data = StepData{Step: e.File, Result: e.Result, Stats: &stats}
	case runner.EventRunFinished:
		out.Type = EventRunFinished
		out.Data = e.Stats
	default:
		out.Type = EventCustom
		out.Data = CustomData{Name: string(e.Kind)}
	}
	return out
}
