package datastore

import (
	"encoding/json"
	"time"
)

// Job statuses. Transitions form a DAG: pending → uploaded → processing →
// completed|failed|cancelled, with failed → processing allowed on retry and
// pending → cancelled allowed before submission.
const (
	JobStatusPending    = "pending"
	JobStatusUploaded   = "uploaded"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Chunk statuses.
const (
	ChunkStatusPending    = "pending"
	ChunkStatusProcessing = "processing"
	ChunkStatusCompleted  = "completed"
	ChunkStatusFailed     = "failed"
)

// JobConfig is the immutable per-job transcription configuration, stored as
// JSON on the job row.
type JobConfig struct {
	Language            string   `json:"language"`
	AdditionalLanguages []string `json:"additional_languages,omitempty"`
	Prompt              string   `json:"prompt,omitempty"`
	CustomVocabulary    []string `json:"custom_vocabulary,omitempty"`
	Domain              string   `json:"domain,omitempty"`
	DiarizationEnabled  bool     `json:"diarization_enabled"`
	MinSpeakers         int      `json:"min_speakers,omitempty"`
	MaxSpeakers         int      `json:"max_speakers,omitempty"`
	IncludeTimestamps   bool     `json:"include_timestamps"`
	TimestampGranularity string  `json:"timestamp_granularity,omitempty"`
	IncludeConfidence   bool     `json:"include_confidence,omitempty"`
}

// Job represents one user submission.
type Job struct {
	ID     string `gorm:"primaryKey;type:varchar(36)"`
	Status string `gorm:"index:idx_jobs_status;type:varchar(16);not null"`

	Config   string `gorm:"type:text"` // JobConfig JSON
	Provider string `gorm:"index:idx_jobs_provider;type:varchar(32);not null"`

	OriginalFilename string `gorm:"type:varchar(512)"`
	FileSizeBytes    int64
	DurationSeconds  float64
	AudioFormat      string `gorm:"type:varchar(32)"`
	OriginalKey      string  `gorm:"type:varchar(512)"` // object-store key of the upload
	ResultKey        string  `gorm:"type:varchar(512)"` // object-store key of transcript.json

	TotalChunks     int
	CompletedChunks int

	Result       string `gorm:"type:text"` // inline merged summary JSON
	ErrorMessage string `gorm:"type:text"`
	ErrorCode    string `gorm:"type:varchar(32)"`

	WebhookURL  string `gorm:"type:varchar(1024)"`
	WebhookSent bool

	CreatedAt   time.Time `gorm:"index:idx_jobs_created_at"`
	UpdatedAt   time.Time
	CompletedAt *time.Time

	Chunks []Chunk `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

// Chunk is a bounded slice of a job's audio, processed by one provider call.
type Chunk struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	JobID      string `gorm:"index:idx_chunks_job_index,unique;type:varchar(36);not null"`
	ChunkIndex int    `gorm:"index:idx_chunks_job_index,unique;not null"`

	Status    string `gorm:"type:varchar(16);not null"`
	StartTime float64
	EndTime   float64
	ChunkKey  string `gorm:"type:varchar(512)"` // object-store key, when archived

	AttemptCount int
	LastError    string `gorm:"type:text"`
	Result       string `gorm:"type:text"` // per-chunk provider result JSON

	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Duration returns the chunk span in seconds.
func (c *Chunk) Duration() float64 {
	return c.EndTime - c.StartTime
}

// DecodeConfig unmarshals the stored job configuration.
func (j *Job) DecodeConfig() (JobConfig, error) {
	var cfg JobConfig
	if j.Config == "" {
		return cfg, nil
	}
	err := json.Unmarshal([]byte(j.Config), &cfg)
	return cfg, err
}

// EncodeConfig marshals and stores the job configuration.
func (j *Job) EncodeConfig(cfg *JobConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	j.Config = string(raw)
	return nil
}

// IsTerminal reports whether the status admits no further transitions
// (other than deletion).
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusCancelled
}

// ProgressPercent returns completion as a percentage rounded to one decimal.
func (j *Job) ProgressPercent() float64 {
	if j.Status == JobStatusCompleted {
		return 100.0
	}
	if j.TotalChunks == 0 {
		return 0.0
	}
	pct := float64(j.CompletedChunks) / float64(j.TotalChunks) * 100.0
	return float64(int(pct*10+0.5)) / 10
}
