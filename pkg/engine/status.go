package engine

import "github.com/loki-platform/loki/pkg/models"

// statusVocabulary translates the engine's execution status words into
// ours. The engine reports both American and British spellings across
// versions; both map to the same status.
var statusVocabulary = map[string]models.ExecutionStatus{
	"new":       models.ExecutionStatusPending,
	"waiting":   models.ExecutionStatusPending,
	"running":   models.ExecutionStatusRunning,
	"success":   models.ExecutionStatusSucceeded,
	"succeeded": models.ExecutionStatusSucceeded,
	"error":     models.ExecutionStatusFailed,
	"failed":    models.ExecutionStatusFailed,
	"crashed":   models.ExecutionStatusFailed,
	"canceled":  models.ExecutionStatusCancelled,
	"cancelled": models.ExecutionStatusCancelled,
}

// MapStatus translates one engine status word. The second return is
// false for words outside the vocabulary.
func MapStatus(raw string) (models.ExecutionStatus, bool) {
	status, ok := statusVocabulary[raw]

	return status, ok
}
