package model

import (
	"strings"
	"time"
)

// Generation request bounds and defaults, matching the engine's contract.
const (
	MinDurationSeconds     = 10
	MaxDurationSeconds     = 300
	DefaultDurationSeconds = 30
	DefaultLanguage        = "en"

	// TitleMaxRunes bounds the track title derived from the prompt.
	TitleMaxRunes = 60
)

// ValidLanguages are the languages the engine accepts.
var ValidLanguages = []string{"ru", "en"}

// GenerationRequest is the payload for starting a generation job. It is
// stored verbatim on the job and replayed into track metadata on
// completion.
type GenerationRequest struct {
	Prompt          string `json:"prompt" validate:"required"`
	DurationSeconds int    `json:"durationSeconds" validate:"omitempty,gte=10,lte=300"`
	Language        string `json:"language" validate:"omitempty,oneof=ru en"`
	Genre           string `json:"genre,omitempty"`
	Mood            string `json:"mood,omitempty"`
}

// ApplyDefaults fills in the engine defaults for omitted fields.
func (r *GenerationRequest) ApplyDefaults() {
	if r.DurationSeconds == 0 {
		r.DurationSeconds = DefaultDurationSeconds
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
}

// GenerationAccepted acknowledges a created job. Creation is asynchronous:
// the caller observes progress through the job endpoints.
type GenerationAccepted struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobView is the full job representation returned to callers, with the
// original request and, once completed, the engine result parsed back out
// of the stored raw payloads.
type JobView struct {
	Job
	Request *GenerationRequest     `json:"request,omitempty"`
	Result  map[string]interface{} `json:"result,omitempty"`
}

// JobSummary is the listing shape: the lifecycle fields plus the prompt,
// without the raw payloads.
type JobSummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Prompt    string    `json:"prompt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TitleFromPrompt derives a bounded track title from the original prompt.
func TitleFromPrompt(prompt string) string {
	title := strings.TrimSpace(prompt)
	runes := []rune(title)
	if len(runes) > TitleMaxRunes {
		title = strings.TrimSpace(string(runes[:TitleMaxRunes]))
	}
	return title
}
