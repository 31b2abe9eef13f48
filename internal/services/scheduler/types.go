package scheduler

// JobTypePruneRuns deletes ingestion runs older than the payload's retention
const JobTypePruneRuns = "prune_runs"

// JobListResponse represents a scheduled job in list responses
type JobListResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	JobType   string  `json:"job_type"`
	Cron      string  `json:"cron"`
	Enabled   bool    `json:"enabled"`
	LastRunAt *string `json:"last_run_at"` // ISO 8601 format
	NextRun   *string `json:"next_run"`    // ISO 8601 format
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// UpsertJobRequest creates or updates a job by name
type UpsertJobRequest struct {
	Name    string `json:"name"`
	JobType string `json:"job_type"`
	Cron    string `json:"cron"` // 5 or 6 fields
	Enabled bool   `json:"enabled"`
	Payload any    `json:"payload"` // map, struct or JSON string
}

// PrunePayload is the payload of a prune_runs job; Retention is a Go duration string
type PrunePayload struct {
	Retention string `json:"retention"`
}
