package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/service/gateway"
	"ai-call-triage-service/internal/service/tokencache"
)

var (
	// ErrTranscriptionFailed means the provider reported FAILED. The job ends in FAILED.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrJobTimeout means the job ran past its wall-clock budget or poll limit.
	ErrJobTimeout = errors.New("job timed out")
)

// JobError reports a fatal job error with the last status the job reached,
// so operators know where to resume or re-trigger.
type JobError struct {
	JobID  string
	Status models.JobStatus
	Err    error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s stopped at %s: %v", e.JobID, e.Status, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// FailureReason maps a job error to a short metrics label.
func FailureReason(err error) string {
	var je *JobError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTranscriptionFailed):
		return "transcription_failed"
	case errors.Is(err, ErrJobTimeout):
		return "timeout"
	case tokencache.IsAuthError(err):
		return "auth"
	case gateway.IsToolInvocationError(err):
		return "tool"
	case errors.As(err, &je):
		return "step_" + strings.ToLower(string(je.Status))
	default:
		return "error"
	}
}
