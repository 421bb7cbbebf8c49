package orchestrator

import (
	"path"
	"strings"

	"github.com/google/uuid"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/service/storage"
)

var mediaExtensions = []string{".wav", ".mp3", ".json"}

// ResolveJobID returns the caller-supplied id, or derives one from the audio
// object key. Triggers with neither get a generated "test-" id.
func ResolveJobID(jobID, audioLocator string) string {
	if jobID != "" {
		return jobID
	}
	if audioLocator != "" {
		key := audioLocator
		if _, _, k, err := storage.ParseLocator(audioLocator); err == nil {
			key = k
		}
		if id := JobIDFromKey(key); id != "" {
			return id
		}
	}
	return "test-" + uuid.NewString()[:8]
}

// JobIDFromKey strips a known media extension and flattens path separators.
// Ids longer than models.MaxJobIDLength keep their trailing runes, where the file name is.
func JobIDFromKey(key string) string {
	key = strings.Trim(key, "/")
	ext := strings.ToLower(path.Ext(key))
	for _, e := range mediaExtensions {
		if ext == e {
			key = key[:len(key)-len(ext)]
			break
		}
	}
	id := strings.ReplaceAll(key, "/", "-")
	if runes := []rune(id); len(runes) > models.MaxJobIDLength {
		id = strings.TrimLeft(string(runes[len(runes)-models.MaxJobIDLength:]), "-")
	}
	return id
}
