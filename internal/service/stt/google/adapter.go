// Package google provides a Google Cloud Speech-to-Text batch transcription adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/service/stt"
)

// handleSep joins the job id and the operation name in a handle. Operation names never contain it.
const handleSep = "#"

// Config holds configuration for the Google STT adapter.
type Config struct {
	LanguageCode  string // e.g., "en-US"
	SampleRateHz  int32  // e.g., 8000 for telephony
	AudioEncoding string // LINEAR16, MULAW, FLAC, etc.
	Model         string // e.g., "phone_call"; empty uses the provider default
	Punctuation   bool

	// OutputBucket and OutputPrefix locate transcript results in Cloud Storage.
	OutputBucket string
	OutputPrefix string
}

// DefaultConfig returns sensible defaults for telephony audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  8000,
		AudioEncoding: "LINEAR16",
		Model:         "phone_call",
		Punctuation:   true,
		OutputPrefix:  "transcripts/",
	}
}

// parseAudioEncoding converts a string encoding name to the protobuf enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// Adapter implements stt.Transcriber using LongRunningRecognize with Cloud Storage output.
type Adapter struct {
	client *speech.Client
	config Config
	logger zerolog.Logger
}

// New creates a new Google STT adapter.
// Without explicit options, credentials come from GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Adapter, error) {
	if cfg.OutputBucket == "" {
		return nil, errors.New("google stt: output bucket is required")
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client: c,
		config: cfg,
		logger: logging.WithComponent("stt-google"),
	}, nil
}

// Start submits a long-running recognition job for a gs:// audio locator.
func (a *Adapter) Start(ctx context.Context, jobID, audioLocator string) (string, error) {
	req, err := a.buildRequest(jobID, audioLocator)
	if err != nil {
		return "", err
	}
	op, err := a.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("google stt: start %s: %w", jobID, err)
	}

	a.logger.Info().
		Str("jobId", jobID).
		Str("operation", op.Name()).
		Str("audio", audioLocator).
		Msg("Transcription started")

	return encodeHandle(jobID, op.Name()), nil
}

// Status polls the operation once.
func (a *Adapter) Status(ctx context.Context, handle string) (stt.Status, error) {
	jobID, opName, err := decodeHandle(handle)
	if err != nil {
		return stt.Status{}, err
	}

	op := a.client.LongRunningRecognizeOperation(opName)
	if _, err := op.Poll(ctx); err != nil {
		if op.Done() {
			return stt.Status{State: stt.StateFailed, FailureReason: err.Error()}, nil
		}
		return stt.Status{}, fmt.Errorf("google stt: poll %s: %w", opName, err)
	}
	if !op.Done() {
		return stt.Status{State: stt.StateInProgress}, nil
	}
	return stt.Status{State: stt.StateCompleted, TranscriptKey: a.transcriptKey(jobID)}, nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) buildRequest(jobID, audioLocator string) (*speechpb.LongRunningRecognizeRequest, error) {
	if !strings.HasPrefix(audioLocator, "gs://") {
		return nil, fmt.Errorf("google stt: audio locator must be a gs:// URI, got %q", audioLocator)
	}

	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(a.config.AudioEncoding),
			SampleRateHertz:            a.config.SampleRateHz,
			LanguageCode:               a.config.LanguageCode,
			Model:                      a.config.Model,
			EnableAutomaticPunctuation: a.config.Punctuation,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audioLocator},
		},
		OutputConfig: &speechpb.TranscriptOutputConfig{
			OutputType: &speechpb.TranscriptOutputConfig_GcsUri{
				GcsUri: fmt.Sprintf("gs://%s/%s", a.config.OutputBucket, a.transcriptKey(jobID)),
			},
		},
	}, nil
}

func (a *Adapter) transcriptKey(jobID string) string {
	return a.config.OutputPrefix + jobID + ".json"
}

func encodeHandle(jobID, opName string) string {
	return jobID + handleSep + opName
}

func decodeHandle(handle string) (jobID, opName string, err error) {
	i := strings.LastIndex(handle, handleSep)
	if i <= 0 || i == len(handle)-1 {
		return "", "", fmt.Errorf("google stt: malformed handle %q", handle)
	}
	return handle[:i], handle[i+1:], nil
}
