// Package runner executes one claim-publish-persist cycle against the job queue.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/note-autopublisher/internal/automation"
	"github.com/JakeFAU/note-autopublisher/internal/clock/system"
	"github.com/JakeFAU/note-autopublisher/internal/hash/sha256"
	"github.com/JakeFAU/note-autopublisher/internal/jobs"
	"github.com/JakeFAU/note-autopublisher/internal/metrics"
	"github.com/JakeFAU/note-autopublisher/internal/vault"
)

// Event types published after each transition.
const (
	EventCompleted = "job.completed"
	EventRequeued  = "job.requeued"
	EventFailed    = "job.failed"
)

const (
	reasonArticleMissing = "article content missing"
	reasonAccountMissing = "account credential missing"
)

// Automation publishes an article with a decrypted session token.
type Automation interface {
	Publish(ctx context.Context, sessionToken string, article automation.Article) (automation.Result, error)
}

// Store is the persistence surface the runner needs.
type Store interface {
	jobs.Queue
	GetArticle(ctx context.Context, id string) (jobs.Article, error)
	GetAccount(ctx context.Context, id string) (jobs.Account, error)
}

// Config controls Runner behavior.
type Config struct {
	// JobDeadline bounds the whole publish call; zero disables it.
	JobDeadline time.Duration
	// ArtifactPrefix is prepended to failure artifact paths.
	ArtifactPrefix string
	// Topic receives job events; empty disables publishing.
	Topic string
	// ThrottleKey is the URL whose host keys the publish throttle.
	ThrottleKey string
}

// Runner claims at most one job per cycle and drives it to a terminal or requeued state.
type Runner struct {
	store     Store
	vault     jobs.Vault
	driver    Automation
	blobStore jobs.BlobStore
	publisher jobs.Publisher
	throttle  jobs.Throttle
	hasher    jobs.Hasher
	clock     jobs.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. blobStore, publisher and throttle may be nil.
func New(
	store Store,
	v jobs.Vault,
	driver Automation,
	blobStore jobs.BlobStore,
	publisher jobs.Publisher,
	throttle jobs.Throttle,
	hasher jobs.Hasher,
	clock jobs.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if hasher == nil {
		hasher = sha256.New()
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:     store,
		vault:     v,
		driver:    driver,
		blobStore: blobStore,
		publisher: publisher,
		throttle:  throttle,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunOnce executes a single cycle. Errors are returned only for store failures
// that leave the cycle outcome unknown; job failures are reported in the result.
func (r *Runner) RunOnce(ctx context.Context) (jobs.RunResult, error) {
	start := time.Now()

	next, err := r.store.FetchNextEligible(ctx, r.clock.Now())
	if err != nil {
		return jobs.RunResult{}, fmt.Errorf("fetch next job: %w", err)
	}
	if next == nil {
		metrics.ObserveRun(string(jobs.RunNoJob), time.Since(start))
		return jobs.RunResult{Status: jobs.RunNoJob, Message: "no eligible job"}, nil
	}

	job, err := r.store.Claim(ctx, *next, r.clock.Now())
	if err != nil {
		return jobs.RunResult{}, fmt.Errorf("claim job %s: %w", next.ID, err)
	}
	if job == nil {
		metrics.ObserveClaimConflict()
		r.logger.Debug("claim lost to another worker", zap.String("job_id", next.ID))
		return jobs.RunResult{Status: jobs.RunNoJob, JobID: next.ID, Message: "job claimed by another worker"}, nil
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := r.logger.With(
		zap.String("job_id", job.ID),
		zap.String("article_id", job.ArticleID),
		zap.String("account_id", job.AccountID),
		zap.Int("attempts", job.Attempts),
	)
	logger.Info("job claimed")

	result, err := r.process(ctx, *job, logger)
	outcome := string(result.Status)
	if result.Status == jobs.RunFailed && result.WillRetry {
		outcome = "requeued"
	}
	metrics.ObserveRun(outcome, time.Since(start))
	return result, err
}

func (r *Runner) process(ctx context.Context, job jobs.Job, logger *zap.Logger) (jobs.RunResult, error) {
	article, err := r.store.GetArticle(ctx, job.ArticleID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return r.failPrecondition(ctx, job, reasonArticleMissing, logger)
	case err != nil:
		return r.failAttempt(ctx, job, fmt.Sprintf("load article: %v", err), logger)
	case !article.HasContent():
		return r.failPrecondition(ctx, job, reasonArticleMissing, logger)
	}

	account, err := r.store.GetAccount(ctx, job.AccountID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return r.failPrecondition(ctx, job, reasonAccountMissing, logger)
	case err != nil:
		return r.failAttempt(ctx, job, fmt.Sprintf("load account: %v", err), logger)
	case account.EncryptedToken == "":
		return r.failPrecondition(ctx, job, reasonAccountMissing, logger)
	}

	token, err := r.vault.Decrypt(account.EncryptedToken)
	switch {
	case vault.IsCredentialError(err):
		return r.failTerminal(ctx, job, fmt.Sprintf("credential decrypt failed: %v", err), logger)
	case err != nil:
		return r.failAttempt(ctx, job, fmt.Sprintf("credential decrypt: %v", err), logger)
	}

	if r.throttle != nil {
		if err := r.throttle.Wait(ctx, r.cfg.ThrottleKey); err != nil {
			return r.failAttempt(ctx, job, err.Error(), logger)
		}
	}

	res, err := r.publish(ctx, token, article)
	if err != nil {
		kind := automation.KindOf(err)
		if kind == "" {
			metrics.ObserveAutomationFailure("unknown")
		} else {
			metrics.ObserveAutomationFailure(string(kind))
		}
		r.storeArtifacts(ctx, job, err, logger)
		if kind != "" && !kind.Retryable() {
			return r.failTerminal(ctx, job, err.Error(), logger)
		}
		return r.failAttempt(ctx, job, err.Error(), logger)
	}

	resultURL := res.PublishedURL
	if resultURL == "" && article.PublicURL != nil {
		resultURL = *article.PublicURL
	}
	if err := r.store.Complete(ctx, job, resultURL, r.clock.Now()); err != nil {
		return jobs.RunResult{}, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	logger.Info("job completed", zap.String("url", resultURL))
	r.emit(ctx, EventCompleted, job, resultURL, "")
	return jobs.RunResult{
		Status:   jobs.RunCompleted,
		JobID:    job.ID,
		Message:  "published",
		Attempts: job.Attempts,
	}, nil
}

func (r *Runner) publish(ctx context.Context, token string, article jobs.Article) (automation.Result, error) {
	if r.cfg.JobDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.JobDeadline)
		defer cancel()
	}
	return r.driver.Publish(ctx, token, automation.Article{Title: article.Title, Content: article.Content})
}

// failAttempt requeues the job while attempts remain.
func (r *Runner) failAttempt(ctx context.Context, job jobs.Job, reason string, logger *zap.Logger) (jobs.RunResult, error) {
	requeued, err := r.store.FailAndMaybeRequeue(ctx, job, reason, r.clock.Now())
	if err != nil {
		return jobs.RunResult{}, fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}
	event := EventFailed
	if requeued {
		event = EventRequeued
		logger.Warn("job attempt failed, requeued", zap.String("error", reason))
	} else {
		logger.Error("job failed after final attempt", zap.String("error", reason))
	}
	r.emit(ctx, event, job, "", reason)
	return jobs.RunResult{
		Status:    jobs.RunFailed,
		JobID:     job.ID,
		Message:   reason,
		WillRetry: requeued,
		Attempts:  job.Attempts,
	}, nil
}

// failPrecondition fails a job whose article or account cannot be used.
func (r *Runner) failPrecondition(ctx context.Context, job jobs.Job, reason string, logger *zap.Logger) (jobs.RunResult, error) {
	logger.Warn("job precondition not met", zap.Error(fmt.Errorf("%w: %s", jobs.ErrPrecondition, reason)))
	return r.failTerminal(ctx, job, reason, logger)
}

// failTerminal fails the job regardless of remaining attempts.
func (r *Runner) failTerminal(ctx context.Context, job jobs.Job, reason string, logger *zap.Logger) (jobs.RunResult, error) {
	if err := r.store.MarkFailed(ctx, job, reason, r.clock.Now()); err != nil {
		return jobs.RunResult{}, fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	logger.Error("job failed permanently", zap.String("error", reason))
	r.emit(ctx, EventFailed, job, "", reason)
	return jobs.RunResult{
		Status:   jobs.RunFailed,
		JobID:    job.ID,
		Message:  reason,
		Attempts: job.Attempts,
	}, nil
}

func (r *Runner) storeArtifacts(ctx context.Context, job jobs.Job, err error, logger *zap.Logger) {
	if r.blobStore == nil {
		return
	}
	artifacts := automation.ArtifactsOf(err)
	if artifacts == nil {
		return
	}
	if len(artifacts.Screenshot) > 0 {
		r.putArtifact(ctx, job, artifacts.Screenshot, "png", "image/png", logger)
	}
	if artifacts.HTML != "" {
		r.putArtifact(ctx, job, []byte(artifacts.HTML), "html", "text/html; charset=utf-8", logger)
	}
}

func (r *Runner) putArtifact(ctx context.Context, job jobs.Job, data []byte, ext, contentType string, logger *zap.Logger) {
	digest, err := r.hasher.Hash(data)
	if err != nil {
		logger.Warn("hash artifact failed", zap.Error(err))
		return
	}
	path := r.artifactPath(job.ID, job.Attempts, digest, ext)
	uri, err := r.blobStore.PutObject(ctx, path, contentType, data)
	if err != nil {
		logger.Warn("store artifact failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("failure artifact stored", zap.String("uri", uri))
}

func (r *Runner) artifactPath(jobID string, attempt int, digest, ext string) string {
	name := fmt.Sprintf("attempt-%d-%s.%s", attempt, digest, ext)
	prefix := strings.Trim(r.cfg.ArtifactPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", jobID, name)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, jobID, name)
}

// Event is the payload published after a job transition.
type Event struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	ArticleID string `json:"article_id"`
	AccountID string `json:"account_id"`
	Attempts  int    `json:"attempts"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EventType implements pubsub.Typed.
func (e Event) EventType() string {
	return e.Type
}

func (r *Runner) emit(ctx context.Context, eventType string, job jobs.Job, resultURL, reason string) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	event := Event{
		Type:      eventType,
		JobID:     job.ID,
		ArticleID: job.ArticleID,
		AccountID: job.AccountID,
		Attempts:  job.Attempts,
		ResultURL: resultURL,
		Error:     reason,
		Timestamp: r.clock.Now().Format(time.RFC3339),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
		r.logger.Warn("publish job event failed",
			zap.String("job_id", job.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}
