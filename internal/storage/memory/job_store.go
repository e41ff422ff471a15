package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

// Store is an in-memory jobs.Store for development and tests. A single mutex
// serializes every transition, which makes Claim atomic across goroutines.
type Store struct {
	mu          sync.RWMutex
	maxAttempts int
	jobs        map[string]jobs.Job
	articles    map[string]jobs.Article
	accounts    map[string]jobs.Account
}

// NewStore constructs a Store. maxAttempts < 1 falls back to jobs.DefaultMaxAttempts.
func NewStore(maxAttempts int) *Store {
	if maxAttempts < 1 {
		maxAttempts = jobs.DefaultMaxAttempts
	}
	return &Store{
		maxAttempts: maxAttempts,
		jobs:        make(map[string]jobs.Job),
		articles:    make(map[string]jobs.Article),
		accounts:    make(map[string]jobs.Account),
	}
}

// PutArticle seeds or replaces an article.
func (s *Store) PutArticle(article jobs.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[article.ID] = article
}

// PutAccount seeds or replaces an account.
func (s *Store) PutAccount(account jobs.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

// Enqueue inserts queued jobs and returns them newest-first.
func (s *Store) Enqueue(_ context.Context, inputs []jobs.JobInput, now time.Time) ([]jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if in.ID == "" {
			return nil, fmt.Errorf("enqueue: job id is required")
		}
		if _, dup := seen[in.ID]; dup {
			return nil, fmt.Errorf("enqueue: duplicate job id %s", in.ID)
		}
		if _, exists := s.jobs[in.ID]; exists {
			return nil, fmt.Errorf("enqueue: job %s already exists", in.ID)
		}
		seen[in.ID] = struct{}{}
	}

	out := make([]jobs.Job, 0, len(inputs))
	for _, in := range inputs {
		job := jobs.Job{
			ID:           in.ID,
			UserID:       in.UserID,
			ArticleID:    in.ArticleID,
			AccountID:    in.AccountID,
			CTAID:        in.CTAID,
			Status:       jobs.StatusQueued,
			ScheduledFor: in.ScheduledFor,
			Payload:      in.Payload(),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.jobs[job.ID] = job
		out = append(out, cloneJob(job))
	}
	slices.Reverse(out)
	return out, nil
}

// FetchNextEligible returns the oldest eligible queued job.
func (s *Store) FetchNextEligible(_ context.Context, now time.Time) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next *jobs.Job
	for _, job := range s.jobs {
		if !job.EligibleAt(now) {
			continue
		}
		if next == nil || runsBefore(job, *next) {
			candidate := job
			next = &candidate
		}
	}
	if next == nil {
		return nil, nil
	}
	out := cloneJob(*next)
	return &out, nil
}

// runsBefore orders by scheduled time (unscheduled first), then creation time, then ID.
func runsBefore(a, b jobs.Job) bool {
	switch {
	case a.ScheduledFor == nil && b.ScheduledFor != nil:
		return true
	case a.ScheduledFor != nil && b.ScheduledFor == nil:
		return false
	case a.ScheduledFor != nil && !a.ScheduledFor.Equal(*b.ScheduledFor):
		return a.ScheduledFor.Before(*b.ScheduledFor)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Claim transitions the job to processing if it is still queued.
func (s *Store) Claim(_ context.Context, job jobs.Job, now time.Time) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", job.ID, jobs.ErrNotFound)
	}
	if current.Status != jobs.StatusQueued {
		return nil, nil
	}
	current.Status = jobs.StatusProcessing
	current.StartedAt = jobs.TimePtr(now)
	current.Attempts++
	current.UpdatedAt = now
	s.jobs[job.ID] = current
	out := cloneJob(current)
	return &out, nil
}

// Complete marks the job completed and publishes its article.
func (s *Store) Complete(_ context.Context, job jobs.Job, resultURL string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("complete %s: %w", job.ID, jobs.ErrNotFound)
	}
	if current.Status != jobs.StatusProcessing {
		return fmt.Errorf("complete %s from %s: %w", job.ID, current.Status, jobs.ErrInvalidTransition)
	}
	current.Status = jobs.StatusCompleted
	current.FinishedAt = jobs.TimePtr(now)
	current.ErrorMessage = nil
	current.ResultURL = jobs.StringPtr(resultURL)
	current.UpdatedAt = now
	s.jobs[job.ID] = current

	if article, ok := s.articles[current.ArticleID]; ok {
		article.Status = jobs.ArticlePublished
		article.PublishedAt = jobs.TimePtr(now)
		if resultURL != "" {
			article.PublicURL = jobs.StringPtr(resultURL)
		}
		article.UpdatedAt = now
		s.articles[article.ID] = article
	}
	return nil
}

// FailAndMaybeRequeue requeues the job while attempts remain, otherwise fails it.
func (s *Store) FailAndMaybeRequeue(_ context.Context, job jobs.Job, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return false, fmt.Errorf("fail %s: %w", job.ID, jobs.ErrNotFound)
	}
	if current.Status != jobs.StatusProcessing {
		return false, fmt.Errorf("fail %s from %s: %w", job.ID, current.Status, jobs.ErrInvalidTransition)
	}
	requeue := current.Attempts < s.maxAttempts
	current.ErrorMessage = jobs.StringPtr(reason)
	current.UpdatedAt = now
	if requeue {
		current.Status = jobs.StatusQueued
		current.StartedAt = nil
		current.FinishedAt = nil
	} else {
		current.Status = jobs.StatusFailed
		current.FinishedAt = jobs.TimePtr(now)
	}
	s.jobs[job.ID] = current
	return requeue, nil
}

// MarkFailed records a terminal failure independent of attempts.
func (s *Store) MarkFailed(_ context.Context, job jobs.Job, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("mark failed %s: %w", job.ID, jobs.ErrNotFound)
	}
	if current.Status.Terminal() {
		return fmt.Errorf("mark failed %s from %s: %w", job.ID, current.Status, jobs.ErrInvalidTransition)
	}
	current.Status = jobs.StatusFailed
	current.ErrorMessage = jobs.StringPtr(reason)
	current.FinishedAt = jobs.TimePtr(now)
	current.UpdatedAt = now
	s.jobs[job.ID] = current
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobs.Job{}, fmt.Errorf("job %s: %w", id, jobs.ErrNotFound)
	}
	return cloneJob(job), nil
}

// ListJobs returns the newest jobs for userID joined with their article.
func (s *Store) ListJobs(_ context.Context, userID string, limit int) ([]jobs.JobView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]jobs.Job, 0)
	for _, job := range s.jobs {
		if job.UserID == userID {
			owned = append(owned, job)
		}
	}
	slices.SortFunc(owned, func(a, b jobs.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}

	views := make([]jobs.JobView, 0, len(owned))
	for _, job := range owned {
		view := jobs.JobView{
			ID:           job.ID,
			Status:       job.Status,
			ScheduledFor: job.ScheduledFor,
			StartedAt:    job.StartedAt,
			FinishedAt:   job.FinishedAt,
			CreatedAt:    job.CreatedAt,
			ErrorMessage: job.ErrorMessage,
			ResultURL:    job.ResultURL,
			ArticleTitle: "Untitled",
		}
		if article, ok := s.articles[job.ArticleID]; ok {
			if article.Title != "" {
				view.ArticleTitle = article.Title
			}
			view.ArticlePublicURL = article.PublicURL
		}
		views = append(views, view)
	}
	return views, nil
}

// GetArticle fetches an article by ID.
func (s *Store) GetArticle(_ context.Context, id string) (jobs.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[id]
	if !ok {
		return jobs.Article{}, fmt.Errorf("article %s: %w", id, jobs.ErrNotFound)
	}
	return article, nil
}

// ListArticles returns the articles among ids owned by userID.
func (s *Store) ListArticles(_ context.Context, userID string, ids []string) ([]jobs.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobs.Article, 0, len(ids))
	for _, id := range ids {
		if article, ok := s.articles[id]; ok && article.UserID == userID {
			out = append(out, article)
		}
	}
	return out, nil
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(_ context.Context, id string) (jobs.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return jobs.Account{}, fmt.Errorf("account %s: %w", id, jobs.ErrNotFound)
	}
	return account, nil
}

// ListAccounts returns userID's accounts oldest first.
func (s *Store) ListAccounts(_ context.Context, userID string) ([]jobs.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobs.Account, 0)
	for _, account := range s.accounts {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	slices.SortFunc(out, func(a, b jobs.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// InsertAccount stores a new account.
func (s *Store) InsertAccount(_ context.Context, account jobs.Account) (jobs.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return jobs.Account{}, fmt.Errorf("account %s already exists", account.ID)
	}
	s.accounts[account.ID] = account
	return account, nil
}

// UpdateAccountToken replaces the token, display name and sync time of an existing account.
func (s *Store) UpdateAccountToken(_ context.Context, account jobs.Account) (jobs.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[account.ID]
	if !ok {
		return jobs.Account{}, fmt.Errorf("account %s: %w", account.ID, jobs.ErrNotFound)
	}
	current.EncryptedToken = account.EncryptedToken
	current.DisplayName = account.DisplayName
	current.LastSyncedAt = account.LastSyncedAt
	current.UpdatedAt = account.UpdatedAt
	s.accounts[current.ID] = current
	return current, nil
}

func cloneJob(job jobs.Job) jobs.Job {
	job.Payload = maps.Clone(job.Payload)
	return job
}
