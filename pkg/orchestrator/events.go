package orchestrator

import "context"

// Pipeline stage statuses, emitted in order over one run's event stream.
// Exactly one terminal event (completed or error) closes every stream.
const (
	StatusStarting         = "starting"
	StatusRequirements     = "requirements"
	StatusRequirementsDone = "requirements_done"
	StatusArchitecture     = "architecture"
	StatusArchitectureDone = "architecture_done"
	StatusImplementer      = "implementer"
	StatusImplementerDone  = "implementer_done"
	StatusReviewer         = "reviewer"
	StatusReviewPass       = "review_pass"
	StatusRevision         = "revision"
	StatusReviewerDone     = "reviewer_done"
	StatusRepairer         = "repairer"
	StatusRepairRevision   = "repair_revision"
	StatusRepairerDone     = "repairer_done"
	StatusCompleted        = "completed"
	StatusError            = "error"
)

// Event is one pipeline progress notification. Artifact carries the stage's
// typed artifact for the *_done checkpoints and the completion payload.
type Event struct {
	Status              string   `json:"status"`
	Message             string   `json:"message,omitempty"`
	Attempt             int      `json:"attempt,omitempty"`
	IssuesCount         int      `json:"issues_count,omitempty"`
	AffectedFiles       []string `json:"affected_files,omitempty"`
	SecurityScore       int      `json:"security_score,omitempty"`
	FilesCount          int      `json:"files_count,omitempty"`
	Approved            *bool    `json:"approved,omitempty"`
	MeetsTrustThreshold *bool    `json:"meets_trust_threshold,omitempty"`
	Artifact            any      `json:"artifact,omitempty"`
}

// emitter delivers events to the caller over an unbuffered channel, so the
// producer suspends until the caller consumes each event. A cancelled
// context stops delivery and tells the producer to abort.
type emitter struct {
	ctx    context.Context
	events chan<- Event
}

// send returns false when the run was cancelled; the caller must stop
// producing.
func (e *emitter) send(event Event) bool {
	select {
	case e.events <- event:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func boolPtr(v bool) *bool { return &v }
