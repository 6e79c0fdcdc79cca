package runner

// EventKind names a point in a run.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventFileStarted  EventKind = "file_started"
	EventPairFinished EventKind = "pair_finished"
	EventFileFinished EventKind = "file_finished"
	EventRunFinished  EventKind = "run_finished"
)

// Event is delivered to observers as the run progresses. Fields not relevant
// to Kind are zero.
type Event struct {
	Kind   EventKind
	RunID  string
	File   string
	Total  int
	Pair   *PairResult
	Result *FileResult
	Stats  Stats
}

// Observer receives run events. It must not block for long; the run loop
// waits for it.
type Observer func(Event)
