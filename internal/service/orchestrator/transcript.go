package orchestrator

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

var errMalformedTranscript = errors.New("malformed transcript payload")

// ParseTranscript extracts the call text from a provider payload. Supported shapes:
//
//	{"results":{"transcripts":[{"transcript":"..."}]}}          batch output with one transcript
//	{"results":[{"alternatives":[{"transcript":"..."}]}, ...]}  one result per audio segment
//	{"transcript":"..."}                                        uploaded test transcripts
//
// A payload with results but no text yields an empty transcript.
func ParseTranscript(payload []byte) (string, error) {
	if !gjson.ValidBytes(payload) {
		return "", errMalformedTranscript
	}
	doc := gjson.ParseBytes(payload)

	results := doc.Get("results")
	switch {
	case results.IsObject():
		return strings.TrimSpace(results.Get("transcripts.0.transcript").String()), nil
	case results.IsArray():
		var parts []string
		for _, alt := range results.Get("#.alternatives.0.transcript").Array() {
			if s := strings.TrimSpace(alt.String()); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " "), nil
	}

	if t := doc.Get("transcript"); t.Exists() {
		return strings.TrimSpace(t.String()), nil
	}
	return "", errMalformedTranscript
}
