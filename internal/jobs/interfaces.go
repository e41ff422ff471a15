package jobs

import (
	"context"
	"time"
)

// Queue persists job rows and exposes the conditional transitions used by the runner.
type Queue interface {
	// Enqueue inserts queued jobs and returns them newest-first.
	Enqueue(ctx context.Context, inputs []JobInput, now time.Time) ([]Job, error)
	// FetchNextEligible returns the next claimable job, or nil when none is eligible at now.
	FetchNextEligible(ctx context.Context, now time.Time) (*Job, error)
	// Claim moves the job from queued to processing if it is still queued. A lost race returns nil, nil.
	Claim(ctx context.Context, job Job, now time.Time) (*Job, error)
	// Complete marks the job completed and the article published.
	Complete(ctx context.Context, job Job, resultURL string, now time.Time) error
	// FailAndMaybeRequeue requeues the job while attempts remain, otherwise marks it failed.
	FailAndMaybeRequeue(ctx context.Context, job Job, reason string, now time.Time) (bool, error)
	// MarkFailed records a terminal failure regardless of attempts.
	MarkFailed(ctx context.Context, job Job, reason string, now time.Time) error
	// GetJob fetches a job by ID.
	GetJob(ctx context.Context, id string) (Job, error)
	// ListJobs returns the newest jobs owned by userID.
	ListJobs(ctx context.Context, userID string, limit int) ([]JobView, error)
}

// ArticleReader reads externally owned articles.
type ArticleReader interface {
	GetArticle(ctx context.Context, id string) (Article, error)
	ListArticles(ctx context.Context, userID string, ids []string) ([]Article, error)
}

// AccountStore reads and upserts linked accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context, userID string) ([]Account, error)
	InsertAccount(ctx context.Context, account Account) (Account, error)
	UpdateAccountToken(ctx context.Context, account Account) (Account, error)
}

// Store bundles every persistence concern the service needs.
type Store interface {
	Queue
	ArticleReader
	AccountStore
}

// Vault encrypts and decrypts stored session tokens.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// BlobStore writes failure artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Throttle delays publishes against a target host.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher computes digests used to name artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs.
type IDGenerator interface {
	NewID() (string, error)
}
