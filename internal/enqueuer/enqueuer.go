// Package enqueuer validates publish requests and records queued automation jobs.
package enqueuer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/note-autopublisher/internal/clock/system"
	"github.com/JakeFAU/note-autopublisher/internal/jobs"
	"github.com/JakeFAU/note-autopublisher/internal/metrics"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Notes describe the queued workflow to the caller.
var Notes = []string{
	"Polling workers claim queued automation jobs, decrypt the linked note session and publish through the note.com editor. The result URL is written back to the article.",
	"Jobs were recorded in automation_jobs.",
}

// Item is one article to publish.
type Item struct {
	ArticleID    string     `json:"id" validate:"required,uuid"`
	CTAID        *string    `json:"ctaId" validate:"omitempty,uuid"`
	ScheduledFor *time.Time `json:"schedule"`
}

// Request is a batch of publish requests for one principal.
type Request struct {
	Articles []Item `json:"articles" validate:"required,min=1,max=30,dive"`
}

// QueuedJob identifies one inserted job.
type QueuedJob struct {
	ID           string      `json:"id"`
	ArticleID    string      `json:"articleId"`
	AccountID    string      `json:"noteAccountId"`
	Status       jobs.Status `json:"status"`
	ScheduledFor *time.Time  `json:"scheduledFor"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Summary reports an accepted batch.
type Summary struct {
	Queued int         `json:"queued"`
	Jobs   []QueuedJob `json:"jobs"`
	Notes  []string    `json:"notes"`
}

// Store is the persistence surface the Enqueuer needs.
type Store interface {
	Enqueue(ctx context.Context, inputs []jobs.JobInput, now time.Time) ([]jobs.Job, error)
	ListArticles(ctx context.Context, userID string, ids []string) ([]jobs.Article, error)
	ListAccounts(ctx context.Context, userID string) ([]jobs.Account, error)
}

// Enqueuer accepts or rejects whole batches.
type Enqueuer struct {
	store  Store
	ids    jobs.IDGenerator
	clock  jobs.Clock
	logger *zap.Logger
}

// New constructs an Enqueuer.
func New(store Store, ids jobs.IDGenerator, clock jobs.Clock, logger *zap.Logger) *Enqueuer {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enqueuer{store: store, ids: ids, clock: clock, logger: logger}
}

// Enqueue validates req for userID and inserts one queued job per item. Nothing is
// written unless every item references an owned article linked to an owned account.
func (e *Enqueuer) Enqueue(ctx context.Context, userID string, req Request) (Summary, error) {
	if strings.TrimSpace(userID) == "" {
		return Summary{}, &jobs.ValidationError{Field: "user", Reason: "required"}
	}
	if err := validateRequest(req); err != nil {
		return Summary{}, err
	}

	ids := make([]string, 0, len(req.Articles))
	seen := make(map[string]struct{}, len(req.Articles))
	for i, item := range req.Articles {
		if _, dup := seen[item.ArticleID]; dup {
			return Summary{}, &jobs.ValidationError{Field: fmt.Sprintf("articles[%d].id", i), Reason: "duplicate article"}
		}
		seen[item.ArticleID] = struct{}{}
		ids = append(ids, item.ArticleID)
	}

	articles, err := e.store.ListArticles(ctx, userID, ids)
	if err != nil {
		return Summary{}, fmt.Errorf("load articles: %w", err)
	}
	byID := make(map[string]jobs.Article, len(articles))
	for _, a := range articles {
		byID[a.ID] = a
	}
	if len(byID) != len(ids) {
		return Summary{}, fmt.Errorf("articles: %w", jobs.ErrNotFound)
	}

	accounts, err := e.store.ListAccounts(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("load accounts: %w", err)
	}
	owned := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		owned[a.ID] = struct{}{}
	}

	inputs := make([]jobs.JobInput, 0, len(req.Articles))
	for i, item := range req.Articles {
		article := byID[item.ArticleID]
		field := fmt.Sprintf("articles[%d].id", i)
		if article.AccountID == nil || *article.AccountID == "" {
			return Summary{}, &jobs.ValidationError{Field: field, Reason: "article has no linked note account"}
		}
		if _, ok := owned[*article.AccountID]; !ok {
			return Summary{}, &jobs.ValidationError{Field: field, Reason: "linked note account not found"}
		}
		id, err := e.ids.NewID()
		if err != nil {
			return Summary{}, fmt.Errorf("job id: %w", err)
		}
		var cta *string
		if item.CTAID != nil {
			cta = jobs.StringPtr(*item.CTAID)
		}
		inputs = append(inputs, jobs.JobInput{
			ID:           id,
			UserID:       userID,
			ArticleID:    article.ID,
			AccountID:    *article.AccountID,
			CTAID:        cta,
			ScheduledFor: item.ScheduledFor,
		})
	}

	inserted, err := e.store.Enqueue(ctx, inputs, e.clock.Now())
	if err != nil {
		return Summary{}, fmt.Errorf("enqueue jobs: %w", err)
	}
	metrics.ObserveEnqueued(len(inserted))
	e.logger.Info("jobs enqueued", zap.String("user_id", userID), zap.Int("count", len(inserted)))

	summary := Summary{
		Queued: len(inserted),
		Jobs:   make([]QueuedJob, 0, len(inserted)),
		Notes:  append([]string(nil), Notes...),
	}
	for _, job := range inserted {
		summary.Jobs = append(summary.Jobs, QueuedJob{
			ID:           job.ID,
			ArticleID:    job.ArticleID,
			AccountID:    job.AccountID,
			Status:       job.Status,
			ScheduledFor: job.ScheduledFor,
			CreatedAt:    job.CreatedAt,
		})
	}
	return summary, nil
}

func validateRequest(req Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &jobs.ValidationError{Reason: err.Error()}
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	return &jobs.ValidationError{Field: field, Reason: reasonFor(fe)}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain 1 to %d entries", jobs.MaxBatchSize)
		}
		return "required"
	case "min", "max":
		return fmt.Sprintf("must contain 1 to %d entries", jobs.MaxBatchSize)
	case "uuid":
		return "must be a UUID"
	default:
		return "invalid"
	}
}
