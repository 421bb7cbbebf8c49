// Package mock provides a simulated batch transcriber for running without cloud credentials.
// Jobs stay IN_PROGRESS for a fixed number of status checks, then write a canned
// transcript to object storage and report COMPLETED.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/service/storage"
	"ai-call-triage-service/internal/service/stt"
)

// FailMarker as a whole path segment of the audio object key makes the simulated
// job fail, e.g. gs://audio/simulate-failure/call-1.wav.
const FailMarker = "simulate-failure"

// DefaultPollsToComplete is how many status checks a job stays in progress.
const DefaultPollsToComplete = 2

// DefaultTranscripts provides sample calls covering each severity tier.
var DefaultTranscripts = []string{
	"Hi, this is Dana from Northwind. Our whole checkout system has been down since this morning and we are losing orders every minute. This is urgent, please escalate.",
	"I'm calling about my last invoice. I was charged twice for the same month and honestly I'm frustrated and disappointed with how long this is taking.",
	"I just wanted to say thanks, the technician fixed everything yesterday and the connection has been great since.",
	"Hello, could you send me details on the business plans? I'm thinking about upgrading my current package.",
}

// Writer stores the transcript payload. storage.ObjectStore satisfies it.
type Writer interface {
	Put(ctx context.Context, key string, data []byte) error
}

type job struct {
	jobID   string
	locator string
	polls   int
	text    string
}

// Adapter implements stt.Transcriber with simulated jobs.
type Adapter struct {
	store           Writer
	pollsToComplete int
	logger          zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
	next int
}

// New creates a mock transcriber writing transcripts to store.
func New(store Writer, pollsToComplete int) *Adapter {
	if pollsToComplete < 1 {
		pollsToComplete = DefaultPollsToComplete
	}
	return &Adapter{
		store:           store,
		pollsToComplete: pollsToComplete,
		logger:          logging.WithComponent("stt-mock"),
		jobs:            make(map[string]*job),
	}
}

// Start registers a simulated job. Transcripts cycle through DefaultTranscripts.
func (a *Adapter) Start(ctx context.Context, jobID, audioLocator string) (string, error) {
	if jobID == "" {
		return "", fmt.Errorf("mock stt: job id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	handle := "mock-" + uuid.NewString()
	a.jobs[handle] = &job{
		jobID:   jobID,
		locator: audioLocator,
		text:    DefaultTranscripts[a.next%len(DefaultTranscripts)],
	}
	a.next++

	a.logger.Debug().Str("jobId", jobID).Str("handle", handle).Msg("Simulated transcription started")
	return handle, nil
}

// Status advances the simulated job by one check. A job is forgotten once it
// reports COMPLETED or FAILED; later checks on its handle fail.
func (a *Adapter) Status(ctx context.Context, handle string) (stt.Status, error) {
	a.mu.Lock()
	j, ok := a.jobs[handle]
	if !ok {
		a.mu.Unlock()
		return stt.Status{}, fmt.Errorf("mock stt: unknown handle %q", handle)
	}
	j.polls++
	polls := j.polls
	a.mu.Unlock()

	if polls < a.pollsToComplete {
		return stt.Status{State: stt.StateInProgress}, nil
	}
	if shouldFail(j.locator) {
		a.forget(handle)
		return stt.Status{State: stt.StateFailed, FailureReason: "simulated failure"}, nil
	}

	key := storage.TranscriptKey(j.jobID)
	payload, err := Payload(j.jobID, j.text)
	if err != nil {
		return stt.Status{}, err
	}
	if err := a.store.Put(ctx, key, payload); err != nil {
		return stt.Status{}, fmt.Errorf("mock stt: write transcript: %w", err)
	}
	a.forget(handle)
	return stt.Status{State: stt.StateCompleted, TranscriptKey: key}, nil
}

func (a *Adapter) forget(handle string) {
	a.mu.Lock()
	delete(a.jobs, handle)
	a.mu.Unlock()
}

func (a *Adapter) pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

func shouldFail(locator string) bool {
	key := locator
	if _, _, k, err := storage.ParseLocator(locator); err == nil {
		key = k
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == FailMarker {
			return true
		}
	}
	return false
}

// Payload renders text in the AWS Transcribe output shape.
func Payload(jobID, text string) ([]byte, error) {
	type transcript struct {
		Transcript string `json:"transcript"`
	}
	return json.Marshal(map[string]any{
		"jobName": jobID,
		"status":  "COMPLETED",
		"results": map[string]any{
			"transcripts": []transcript{{Transcript: text}},
		},
	})
}
