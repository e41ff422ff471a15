// Package jobs defines the publish-job domain shared by the store, runner, worker and API layers.
package jobs

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of an automation job.
type Status string

// Supported job statuses.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further automatic transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ArticleStatus is the externally owned article workflow state.
type ArticleStatus string

// Article statuses. Only ArticlePublished is written by this service.
const (
	ArticleDraft     ArticleStatus = "draft"
	ArticleReady     ArticleStatus = "ready"
	ArticleApproved  ArticleStatus = "approved"
	ArticlePublished ArticleStatus = "published"
)

// DefaultMaxAttempts bounds the number of claim cycles per job.
const DefaultMaxAttempts = 3

// MaxBatchSize is the largest enqueue batch accepted.
const MaxBatchSize = 30

// ListLimit caps the job listing projection.
const ListLimit = 25

// Job is one publish attempt pipeline for an (article, account) pair.
type Job struct {
	ID           string
	UserID       string
	ArticleID    string
	AccountID    string
	CTAID        *string
	Status       Status
	ScheduledFor *time.Time
	Attempts     int
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ErrorMessage *string
	ResultURL    *string
	Payload      map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EligibleAt reports whether the job may be claimed at now.
func (j Job) EligibleAt(now time.Time) bool {
	if j.Status != StatusQueued {
		return false
	}
	return j.ScheduledFor == nil || !j.ScheduledFor.After(now)
}

// JobInput carries the fields needed to insert a queued job.
type JobInput struct {
	ID           string
	UserID       string
	ArticleID    string
	AccountID    string
	CTAID        *string
	ScheduledFor *time.Time
}

// Payload builds the auxiliary JSON payload persisted alongside the job.
func (in JobInput) Payload() map[string]any {
	if in.CTAID == nil || *in.CTAID == "" {
		return nil
	}
	return map[string]any{"ctaId": *in.CTAID}
}

// Article is the externally owned record being published.
type Article struct {
	ID          string
	UserID      string
	Title       string
	Content     string
	Status      ArticleStatus
	AccountID   *string
	PublicURL   *string
	PublishedAt *time.Time
	UpdatedAt   time.Time
}

// HasContent reports whether the article carries a publishable title and body.
func (a Article) HasContent() bool {
	return strings.TrimSpace(a.Title) != "" && strings.TrimSpace(a.Content) != ""
}

// Account is a linked third-party account with an encrypted session token.
type Account struct {
	ID             string
	UserID         string
	ExternalID     string
	DisplayName    string
	EncryptedToken string
	IsPrimary      bool
	LastSyncedAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobView is the read-only listing projection joined with article data.
type JobView struct {
	ID               string     `json:"id"`
	Status           Status     `json:"status"`
	ScheduledFor     *time.Time `json:"scheduledFor"`
	StartedAt        *time.Time `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt"`
	CreatedAt        time.Time  `json:"createdAt"`
	ErrorMessage     *string    `json:"errorMessage"`
	ResultURL        *string    `json:"resultUrl"`
	ArticleTitle     string     `json:"articleTitle"`
	ArticlePublicURL *string    `json:"articlePublicUrl"`
}

// RunStatus is the coarse outcome of a single runner cycle.
type RunStatus string

// Runner cycle outcomes.
const (
	RunNoJob     RunStatus = "no_job"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunResult reports what a runner cycle did.
type RunResult struct {
	Status    RunStatus `json:"status"`
	JobID     string    `json:"jobId,omitempty"`
	Message   string    `json:"message"`
	WillRetry bool      `json:"willRetry"`
	Attempts  int       `json:"attempts,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}
