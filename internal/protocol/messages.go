package protocol

import "time"

// JobRequest asks the jobs service to render a text file.
type JobRequest struct {
	JobID  string   `json:"job_id"`
	Source string   `json:"source"`
	Stages []string `json:"stages,omitempty"`
	Output string   `json:"output,omitempty"`
}

// JobStatus is published once a job finishes, successfully or not.
type JobStatus struct {
	JobID     string            `json:"job_id"`
	Source    string            `json:"source"`
	Completed bool              `json:"completed"`
	Error     string            `json:"error,omitempty"`
	Outputs   []string          `json:"outputs,omitempty"`
	Timbres   map[string]string `json:"timbres,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Progress reports a step inside a pipeline stage.
type Progress struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Event     string    `json:"event"`
	Chapter   string    `json:"chapter,omitempty"`
	Index     int       `json:"index,omitempty"`
	Total     int       `json:"total,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerAnnounce advertises a serving worker and the voices it can cast.
type WorkerAnnounce struct {
	NodeID    string         `json:"node_id"`
	Stages    []string       `json:"stages"`
	Voices    map[string]int `json:"voices,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WorkerHeartbeat keeps a worker marked healthy and reports its load.
type WorkerHeartbeat struct {
	NodeID     string    `json:"node_id"`
	ActiveJobs int       `json:"active_jobs"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectJobRequest      = "drama.job.request"
	SubjectJobDone         = "drama.job.done"
	SubjectProgressPrefix  = "drama.progress"
	SubjectWorkerAnnounce  = "drama.worker.announce"
	SubjectWorkerHeartbeat = "drama.worker.heartbeat"
)

// HeartbeatSubject is the subject nodeID sends heartbeats on.
func HeartbeatSubject(nodeID string) string {
	return SubjectWorkerHeartbeat + "." + nodeID
}

// ProgressSubject is the subject progress for stage is published on.
func ProgressSubject(stage string) string {
	return SubjectProgressPrefix + "." + stage
}
