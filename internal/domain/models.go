package domain

import "time"

type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Job represents a unit of requested transcription work identified by a
// content key. Jobs are owned by the queue; workers hold only a transient
// reference while executing.
type Job struct {
	Key         string    `json:"key"`
	Identity    Identity  `json:"identity"`
	Title       string    `json:"title,omitempty"`
	Priority    int       `json:"priority"`
	State       JobState  `json:"state"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	LastError   string    `json:"last_error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

// Stage is a named phase of the processing pipeline. Callers emit stages in
// the declared order; the broadcaster does not reorder or reject updates.
type Stage string

const (
	StageInitialization Stage = "initialization"
	StageDownload       Stage = "download"
	StageAnalysis       Stage = "analysis"
	StageProcessing     Stage = "processing"
	StageTranscription  Stage = "transcription"
	StageCleanup        Stage = "cleanup"
)

// ProgressEvent is the latest-wins progress state for one job, also used as
// the server-to-client wire frame.
type ProgressEvent struct {
	Type     string `json:"type"`
	JobKey   string `json:"jobKey"`
	Stage    Stage  `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Substage string `json:"substage,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TranscriptSegment is one timed fragment of transcribed text. Start and End
// are absolute offsets in milliseconds from the beginning of the source.
type TranscriptSegment struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Text  string `json:"text"`
}

// Transcript is the merged output of a transcription job.
type Transcript struct {
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments"`
}
