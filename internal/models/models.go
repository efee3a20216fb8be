package models

import "encoding/json"

// Job statuses as stored in the per-job metadata hash.
const (
	StatusPending   = "pending"
	StatusClaimed   = "claimed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// --- Queue ---

// QueueCreate uses pointers where an absent field takes a server default
// and the zero value is meaningful (max_retries: 0 disables retries).
type QueueCreate struct {
	Name         string `json:"name" validate:"required,queuename,max=128"`
	Description  string `json:"description"`
	MaxRetries   *int   `json:"max_retries" validate:"omitempty,gte=0"`
	ClaimTimeout *int   `json:"claim_timeout" validate:"omitempty,gt=0"` // seconds
	Dedupe       bool   `json:"dedupe"`
}

type QueueInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	MaxRetries   int    `json:"max_retries"`
	ClaimTimeout int    `json:"claim_timeout"`
	Dedupe       bool   `json:"dedupe"`
	Pending      int64  `json:"pending"`
	Completed    int64  `json:"completed"`
	Failed       int64  `json:"failed"`
	Workers      int64  `json:"workers"`
	Length       int64  `json:"length"`
}

type QueueList struct {
	Queues []QueueInfo `json:"queues"`
}

// --- Job ---

type JobSubmit struct {
	Payload  map[string]any `json:"payload"`
	Priority int            `json:"priority"`
}

type JobSubmitBatch struct {
	Jobs []JobSubmit `json:"jobs"`
}

// SubmitRequest is the tagged union the submit endpoint accepts: either a
// single JobSubmit object or a {"jobs": [...]} batch envelope. Normalized
// to a list internally.
type SubmitRequest struct {
	Jobs []JobSubmit
}

func (s *SubmitRequest) UnmarshalJSON(b []byte) error {
	var batch JobSubmitBatch
	if err := json.Unmarshal(b, &batch); err == nil && batch.Jobs != nil {
		s.Jobs = batch.Jobs
		return nil
	}
	var one JobSubmit
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	s.Jobs = []JobSubmit{one}
	return nil
}

// JobClaim defaults count to 1 when absent; an explicit 0 legally claims
// nothing.
type JobClaim struct {
	Count   *int `json:"count" validate:"omitempty,gte=0"`
	BlockMS int  `json:"block_ms" validate:"gte=0"`
}

type JobComplete struct {
	Result map[string]any `json:"result"`
}

type JobFail struct {
	Error string `json:"error"`
}

type JobInfo struct {
	ID          string         `json:"id"`
	Queue       string         `json:"queue"`
	Status      string         `json:"status"`
	Payload     map[string]any `json:"payload"`
	Result      map[string]any `json:"result"`
	Error       string         `json:"error"`
	Retries     int            `json:"retries"`
	CreatedAt   string         `json:"created_at"`
	ClaimedAt   string         `json:"claimed_at"`
	CompletedAt string         `json:"completed_at"`
}

type SubmitResponse struct {
	Jobs      []JobInfo `json:"jobs"`
	Submitted int       `json:"submitted"`
	Skipped   int       `json:"skipped"`
}

type ClaimedJobs struct {
	Jobs []JobInfo `json:"jobs"`
}

type JobListResponse struct {
	Jobs    []JobInfo `json:"jobs"`
	Cursor  string    `json:"cursor"` // stream ID for next page ("" = no more)
	HasMore bool      `json:"has_more"`
}
