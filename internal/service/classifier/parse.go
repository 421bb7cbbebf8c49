package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"ai-call-triage-service/internal/models"
)

// Fallbacks applied when the model's answer cannot be read.
const (
	DefaultSentiment = models.SentimentNeutral
	DefaultIntensity = 5
)

var (
	// Markdown emphasis ("**Sentiment:** negative") is tolerated.
	sentimentPattern = regexp.MustCompile(`sentiment[:\s*]*(positive|negative|neutral)`)
	intensityPattern = regexp.MustCompile(`intensity[:\s*]*(\d+)`)
)

// Analysis is the sentiment read from a free-text completion.
type Analysis struct {
	Sentiment models.Sentiment
	Intensity int
	// Fallback is set when either value had to be defaulted.
	Fallback bool
}

// ParseAnalysis extracts sentiment and intensity from a free-text model answer.
// It never fails: a missing sentiment becomes neutral and a missing or
// out-of-range intensity (outside 1..10) becomes 5.
func ParseAnalysis(text string) Analysis {
	lower := strings.ToLower(text)
	a := Analysis{Sentiment: DefaultSentiment, Intensity: DefaultIntensity}

	if m := sentimentPattern.FindStringSubmatch(lower); m != nil {
		a.Sentiment = models.Sentiment(m[1])
	} else {
		a.Fallback = true
	}

	if m := intensityPattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= 10 {
			a.Intensity = n
		} else {
			a.Fallback = true
		}
	} else {
		a.Fallback = true
	}

	return a
}
