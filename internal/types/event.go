package types

import "time"

// EventType names the events the engine emits to observers.
type EventType string

const (
	EventJobCreated    EventType = "job.created"
	EventJobState      EventType = "job.state"
	EventStageOutput   EventType = "stage.output"
	EventStageFinished EventType = "stage.finished"
)

// JobInfo is the observer-facing snapshot of a job.
type JobInfo struct {
	ID         uint64 `json:"id"`
	PGID       int    `json:"pgid"`
	PIDs       []int  `json:"pids"`
	Command    string `json:"command"`
	State      string `json:"state"`
	ExitStatus int    `json:"exit_status"`
	Foreground bool   `json:"foreground"`
}

// OutputChunk is one drained byte range from a pipeline stage, tagged with
// the format verdict current at drain time (possibly still unlocked).
type OutputChunk struct {
	StreamID string `json:"stream_id"`
	JobID    uint64 `json:"job_id,omitempty"`
	Stderr   bool   `json:"stderr,omitempty"`
	Data     []byte `json:"data"`
	Format   string `json:"format"`
	Locked   bool   `json:"locked"`
	Final    bool   `json:"final,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Event is one engine occurrence delivered to subscribers. Per-job ordering
// is preserved; no ordering holds across distinct jobs.
type Event struct {
	Type  EventType    `json:"type"`
	Time  time.Time    `json:"time"`
	Job   *JobInfo     `json:"job,omitempty"`
	Chunk *OutputChunk `json:"chunk,omitempty"`
}
