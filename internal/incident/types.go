// Package incident defines the closed domain types that flow through the
// triage pipeline: the immutable inbound Incident, the queued TriageJob,
// the LLM Classification, and the PipelineState carried across stages.
package incident

import "time"

// Incident is the immutable input received from the ticketing system.
type Incident struct {
	Number           string `json:"number" validate:"required"`
	ShortDescription string `json:"short_description" validate:"required"`
	Description      string `json:"description,omitempty"`
	CallerID         string `json:"caller_id,omitempty"`
	Category         string `json:"category,omitempty"`
	Subcategory      string `json:"subcategory,omitempty"`
	Priority         string `json:"priority,omitempty" validate:"omitempty,oneof=1 2 3 4 5"`
	CmdbCI           string `json:"cmdb_ci,omitempty"`
	AssignmentGroup  string `json:"assignment_group,omitempty"`
}

// TriageJob wraps an Incident for queue transport. The underscore-prefixed
// fields are queue metadata stamped by the driver on retry/dead-letter.
type TriageJob struct {
	Incident

	TriageID   string    `json:"triage_id"`
	ReceivedAt time.Time `json:"received_at"`

	// Scrubbed copies produced at ingress; the originals are never
	// overwritten. Guardrails re-derives these when absent.
	ScrubbedShortDescription string `json:"scrubbed_short_description,omitempty"`
	ScrubbedDescription      string `json:"scrubbed_description,omitempty"`

	RetryCount int    `json:"_retry_count,omitempty"`
	LastRetry  string `json:"_last_retry,omitempty"`
	Error      string `json:"_error,omitempty"`
	FailedAt   string `json:"_failed_at,omitempty"`
}

// Status is the pipeline terminal/progress status. It only ever advances
// along pending → (blocked | triaged | executed | failed).
type Status string

const (
	StatusPending  Status = "pending"
	StatusBlocked  Status = "blocked"
	StatusTriaged  Status = "triaged"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Action is the resolution path chosen by the classifier. PendingApproval
// is assigned by the executor in assist mode, never by the model.
type Action string

const (
	ActionRoute           Action = "route"
	ActionAutoHeal        Action = "auto_heal"
	ActionEscalate        Action = "escalate"
	ActionPendingApproval Action = "pending_approval"
)

// Classification is the schema-constrained LLM output.
type Classification struct {
	Category        string  `json:"category" validate:"required,oneof=Software Hardware Network Access Other"`
	Subcategory     string  `json:"subcategory"`
	Priority        string  `json:"priority" validate:"required,oneof=1 2 3 4 5"`
	AssignmentGroup string  `json:"assignment_group" validate:"required"`
	ResolutionNotes string  `json:"resolution_notes"`
	Action          Action  `json:"action" validate:"required,oneof=route auto_heal escalate"`
	Tool            string  `json:"tool,omitempty" validate:"omitempty,oneof=restart_iis clear_cache unlock_account"`
	Target          string  `json:"target,omitempty"`
	Confidence      float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// KBArticle is a knowledge-base search hit, best-first.
type KBArticle struct {
	Number  string  `json:"number,omitempty"`
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

// UserInfo is the caller record looked up from the ITSM user table.
type UserInfo struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	VIP        bool   `json:"vip"`
	Department string `json:"department,omitempty"`
	Location   string `json:"location,omitempty"`
	Title      string `json:"title,omitempty"`
}

// CIInfo is the configuration item record from the CMDB.
type CIInfo struct {
	Name                string `json:"name"`
	Class               string `json:"class"`
	OperationalStatus   string `json:"operational_status,omitempty"`
	SupportGroup        string `json:"support_group,omitempty"`
	BusinessCriticality string `json:"business_criticality,omitempty"`
}

// PipelineState carries a job through the state machine. Scrubbed fields
// are derived only from the original fields; actions_taken is append-only.
type PipelineState struct {
	TriageID         string `json:"triage_id"`
	Number           string `json:"incident_number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description,omitempty"`
	CallerID         string `json:"caller_id,omitempty"`
	Category         string `json:"category,omitempty"`
	CmdbCI           string `json:"cmdb_ci,omitempty"`
	Priority         string `json:"priority"`

	ScrubbedShortDescription string `json:"scrubbed_short_description"`
	ScrubbedDescription      string `json:"scrubbed_description,omitempty"`

	IsDuplicate bool   `json:"is_duplicate"`
	DuplicateOf string `json:"duplicate_of,omitempty"`

	KBArticles []KBArticle `json:"kb_articles"`
	UserInfo   *UserInfo   `json:"user_info,omitempty"`
	CIInfo     *CIInfo     `json:"ci_info,omitempty"`

	Classification *Classification `json:"classification,omitempty"`
	Confidence     float64         `json:"confidence"`
	Reasoning      string          `json:"reasoning,omitempty"`

	Status       Status   `json:"status"`
	Error        string   `json:"error,omitempty"`
	ActionsTaken []string `json:"actions_taken"`
}

// NewPipelineState initializes state for a job. Priority defaults to "3"
// as in the ticketing system.
func NewPipelineState(job TriageJob) *PipelineState {
	priority := job.Priority
	if priority == "" {
		priority = "3"
	}
	return &PipelineState{
		TriageID:                 job.TriageID,
		Number:                   job.Number,
		ShortDescription:         job.ShortDescription,
		Description:              job.Description,
		CallerID:                 job.CallerID,
		Category:                 job.Category,
		CmdbCI:                   job.CmdbCI,
		Priority:                 priority,
		ScrubbedShortDescription: job.ScrubbedShortDescription,
		ScrubbedDescription:      job.ScrubbedDescription,
		Status:                   StatusPending,
		KBArticles:               []KBArticle{},
		ActionsTaken:             []string{},
	}
}

// Record appends a human-readable action line. Lines are never removed.
func (s *PipelineState) Record(line string) {
	s.ActionsTaken = append(s.ActionsTaken, line)
}

// statusRank orders statuses along the pipeline DAG. Terminal statuses
// share the top rank; pending is the floor.
var statusRank = map[Status]int{
	StatusPending:  0,
	StatusTriaged:  1,
	StatusBlocked:  2,
	StatusExecuted: 2,
	StatusFailed:   2,
}

// Advance moves status forward. Back-transitions are ignored so the
// monotonicity invariant holds even under buggy callers.
func (s *PipelineState) Advance(next Status) {
	if statusRank[next] >= statusRank[s.Status] {
		s.Status = next
	}
}

// Terminal reports whether the state has reached a terminal status.
func (s *PipelineState) Terminal() bool {
	switch s.Status {
	case StatusBlocked, StatusExecuted, StatusFailed:
		return true
	}
	return false
}
