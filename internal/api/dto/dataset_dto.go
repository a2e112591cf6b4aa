package dto

// EnqueueResponse is returned after a fetch job has been queued
type EnqueueResponse struct {
	JobID    string `json:"job_id"`
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
}

// JobStatusResponse reports queue state plus the latest progress
// message, when one exists
type JobStatusResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// DatasetStatusResponse reports the latest progress message for a
// dataset across all of its jobs
type DatasetStatusResponse struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
}
