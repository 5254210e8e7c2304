package model

import "time"

// Track is the persisted artifact record derived from a completed job.
// A track is created exactly once, as the final side effect of the job's
// transition into completed, and is deleted together with its job.
type Track struct {
	ID          string            `json:"id"`
	JobID       string            `json:"jobId"`
	Title       string            `json:"title"`
	Duration    float64           `json:"duration"`
	FilePathWAV string            `json:"filePathWav,omitempty"`
	FilePathMP3 string            `json:"filePathMp3,omitempty"`
	PublicURL   string            `json:"publicUrl,omitempty"`
	StorageKey  string            `json:"-"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
