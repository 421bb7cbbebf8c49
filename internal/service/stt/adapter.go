// Package stt defines the interface for asynchronous Speech-to-Text providers.
package stt

import "context"

// State is the provider-reported state of a transcription job.
type State string

const (
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Status is the result of one status check.
type Status struct {
	State State

	// TranscriptKey is the object-storage key of the transcript payload.
	// Set only when State is COMPLETED.
	TranscriptKey string

	// FailureReason is the provider's explanation when State is FAILED.
	FailureReason string
}

// Transcriber starts batch transcription jobs and reports their progress.
type Transcriber interface {
	// Start submits audioLocator for transcription and returns a handle for Status.
	Start(ctx context.Context, jobID, audioLocator string) (string, error)

	// Status checks the job identified by handle once. It never blocks waiting for completion.
	Status(ctx context.Context, handle string) (Status, error)
}
