package client

import "time"

// JobletRequest is the body of POST /joblets.
type JobletRequest struct {
	Name    string            `json:"name,omitempty"`
	Factory string            `json:"factory,omitempty"`
	Command string            `json:"command,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     []string          `json:"env,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// Submission identifies a launched joblet.
type Submission struct {
	ID  string `json:"id"`
	PID int    `json:"pid"`
}

// JobState is one of PENDING, IN_PROGRESS, DONE or ERROR.
type JobState string

const (
	StatePending    JobState = "PENDING"
	StateInProgress JobState = "IN_PROGRESS"
	StateDone       JobState = "DONE"
	StateError      JobState = "ERROR"
)

func (s JobState) Terminal() bool { return s == StateDone || s == StateError }

type ErrorInfo struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// JobStatus is the body of GET /status/:id.
type JobStatus struct {
	ID    string     `json:"id"`
	State JobState   `json:"state"`
	Error *ErrorInfo `json:"error,omitempty"`
}

type Metadata struct {
	ConfigID    string    `json:"config_id"`
	Factory     string    `json:"factory"`
	Name        string    `json:"name,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Process is one tracked joblet as returned by GET /processes.
type Process struct {
	PID      int      `json:"pid"`
	Metadata Metadata `json:"metadata"`
	State    JobState `json:"state,omitempty"`
}

type Capacity struct {
	Max       int `json:"max"`
	Running   int `json:"running"`
	Available int `json:"available"`
}

type ResourceSample struct {
	JobID      string    `json:"job_id"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Resources struct {
	Latest  ResourceSample   `json:"latest"`
	History []ResourceSample `json:"history"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
