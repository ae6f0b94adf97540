package schemas

import "time"

// EventType discriminates progress-stream events. Consumers parse one JSON
// object per line and dispatch on this tag.
type EventType string

const (
	// EventProgress carries a free-form phase update.
	EventProgress EventType = "progress"
	// EventIteration marks an iteration boundary for the CI timeline.
	EventIteration EventType = "iteration"
	// EventFix reports one fix's lifecycle transition (pending, fixed, failed).
	EventFix EventType = "fix"
	// EventDone terminates the stream and carries the run's final counts.
	EventDone EventType = "done"
)

// Event is the envelope written to the progress stream, one per line.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// PhaseData is the payload of an EventProgress event.
type PhaseData struct {
	Phase        string   `json:"phase"`
	Message      string   `json:"message"`
	Iteration    int      `json:"iteration,omitempty"`
	ErrorsFound  int      `json:"errors_found,omitempty"`
	ErrorDetails []string `json:"error_details,omitempty"`
	CIStatus     string   `json:"ci_status,omitempty"`
}

// IterationData is the payload of an EventIteration event.
type IterationData struct {
	Iteration       int       `json:"iteration"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	ErrorsRemaining int       `json:"errors_remaining"`
}

// FixData is the payload of an EventFix event.
type FixData struct {
	File          string    `json:"file"`
	BugType       BugType   `json:"bug_type"`
	LineNumber    int       `json:"line_number"`
	CommitMessage string    `json:"commit_message"`
	Status        FixStatus `json:"status"`
	Description   string    `json:"description"`
}

// DoneData is the payload of an EventDone event, the last event of a run.
type DoneData struct {
	CIStatus         string  `json:"ci_status"`
	AllTestsPassed   bool    `json:"all_tests_passed"`
	IterationsUsed   int     `json:"iterations_used"`
	FixesApplied     int     `json:"fixes_applied"`
	FixesFailed      int     `json:"fixes_failed"`
	FinalScore       int     `json:"final_score"`
	TotalTimeSeconds float64 `json:"total_time_seconds"`
}

// PhaseEvent builds a progress event for the named phase.
func PhaseEvent(data PhaseData) Event {
	return Event{Type: EventProgress, Data: data}
}

// IterationEvent builds the timeline event for one completed analysis pass.
func IterationEvent(iteration, errorsRemaining int) Event {
	status := CIFailed
	if errorsRemaining == 0 {
		status = CIPassed
	}
	return Event{Type: EventIteration, Data: IterationData{
		Iteration:       iteration,
		Status:          status,
		Timestamp:       time.Now().UTC(),
		ErrorsRemaining: errorsRemaining,
	}}
}

// FixEvent builds the lifecycle event for one fix at a given status.
func FixEvent(f Fix, status FixStatus) Event {
	return Event{Type: EventFix, Data: FixData{
		File:          f.FilePath,
		BugType:       f.BugType,
		LineNumber:    f.LineNumber,
		CommitMessage: f.CommitMessage,
		Status:        status,
		Description:   f.ResultString(),
	}}
}

// DoneEvent builds the terminal event from a finished run's summary.
func DoneEvent(s *RunSummary) Event {
	return Event{Type: EventDone, Data: DoneData{
		CIStatus:         s.CIStatus,
		AllTestsPassed:   s.AllTestsPassed,
		IterationsUsed:   s.IterationsUsed,
		FixesApplied:     s.Summary.TotalFixesApplied,
		FixesFailed:      s.Summary.TotalFixesFailed,
		FinalScore:       s.Score.Final,
		TotalTimeSeconds: s.TotalTimeSeconds,
	}}
}
