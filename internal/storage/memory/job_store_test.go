package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func enqueueOne(t *testing.T, store *Store, id string, scheduled *time.Time, at time.Time) jobs.Job {
	t.Helper()
	out, err := store.Enqueue(context.Background(), []jobs.JobInput{{
		ID:           id,
		UserID:       "user-1",
		ArticleID:    "article-" + id,
		AccountID:    "acct-1",
		ScheduledFor: scheduled,
	}}, at)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestEnqueueReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewStore(0)
	out, err := store.Enqueue(context.Background(), []jobs.JobInput{
		{ID: "a", UserID: "u", ArticleID: "x", AccountID: "acct"},
		{ID: "b", UserID: "u", ArticleID: "y", AccountID: "acct", CTAID: jobs.StringPtr("cta-9")},
	}, base)
	require.NoError(t, err)
	require.Equal(t, "b", out[0].ID)
	require.Equal(t, "a", out[1].ID)
	require.Equal(t, jobs.StatusQueued, out[0].Status)
	require.Zero(t, out[0].Attempts)
	require.Equal(t, map[string]any{"ctaId": "cta-9"}, out[0].Payload)

	_, err = store.Enqueue(context.Background(), []jobs.JobInput{{ID: "a"}}, base)
	require.Error(t, err)
	_, err = store.Enqueue(context.Background(), []jobs.JobInput{{ID: "c"}, {ID: "c"}}, base)
	require.Error(t, err)
	_, err = store.GetJob(context.Background(), "c")
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestFetchNextEligibleOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(3)
	future := base.Add(time.Hour)
	early := base.Add(-2 * time.Hour)
	late := base.Add(-time.Hour)

	enqueueOne(t, store, "future", &future, base.Add(-5*time.Hour))
	enqueueOne(t, store, "late", &late, base.Add(-4*time.Hour))
	enqueueOne(t, store, "early", &early, base.Add(-1*time.Minute))
	enqueueOne(t, store, "plain-new", nil, base.Add(-time.Minute))
	enqueueOne(t, store, "plain-old", nil, base.Add(-3*time.Hour))

	var order []string
	for {
		next, err := store.FetchNextEligible(ctx, base)
		require.NoError(t, err)
		if next == nil {
			break
		}
		claimed, err := store.Claim(ctx, *next, base)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		order = append(order, claimed.ID)
	}
	require.Equal(t, []string{"plain-old", "plain-new", "early", "late"}, order)

	next, err := store.FetchNextEligible(ctx, future)
	require.NoError(t, err)
	require.Equal(t, "future", next.ID)
}

func TestClaimIsAtomicAcrossGoroutines(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(3)
	job := enqueueOne(t, store, "job-1", nil, base)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, job, base)
			if err == nil && claimed != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())

	stored, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusProcessing, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.StartedAt)
}

func TestFailAndMaybeRequeueBoundsAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(3)
	job := enqueueOne(t, store, "job-1", nil, base)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := store.Claim(ctx, job, base)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.Equal(t, attempt, claimed.Attempts)

		requeued, err := store.FailAndMaybeRequeue(ctx, *claimed, "boom", base)
		require.NoError(t, err)
		require.Equal(t, attempt < 3, requeued)
	}

	final, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, final.Status)
	require.Equal(t, 3, final.Attempts)
	require.Equal(t, "boom", *final.ErrorMessage)
	require.NotNil(t, final.FinishedAt)

	claimed, err := store.Claim(ctx, job, base)
	require.NoError(t, err)
	require.Nil(t, claimed)
	_, err = store.FailAndMaybeRequeue(ctx, final, "again", base)
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)
}

func TestRequeueClearsTimestamps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(3)
	job := enqueueOne(t, store, "job-1", nil, base)
	claimed, err := store.Claim(ctx, job, base)
	require.NoError(t, err)
	_, err = store.FailAndMaybeRequeue(ctx, *claimed, "timeout", base)
	require.NoError(t, err)

	stored, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusQueued, stored.Status)
	require.Nil(t, stored.StartedAt)
	require.Nil(t, stored.FinishedAt)
	require.Equal(t, "timeout", *stored.ErrorMessage)
}

func TestCompletePublishesArticle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(3)
	store.PutArticle(jobs.Article{ID: "article-job-1", UserID: "user-1", Title: "T", Content: "Body."})
	job := enqueueOne(t, store, "job-1", nil, base)

	require.ErrorIs(t, store.Complete(ctx, job, "https://note.com/x/abc", base), jobs.ErrInvalidTransition)

	claimed, err := store.Claim(ctx, job, base)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, *claimed, "https://note.com/x/abc", base.Add(time.Minute)))

	stored, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, stored.Status)
	require.Equal(t, "https://note.com/x/abc", *stored.ResultURL)
	require.Nil(t, stored.ErrorMessage)

	article, err := store.GetArticle(ctx, "article-job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.ArticlePublished, article.Status)
	require.Equal(t, "https://note.com/x/abc", *article.PublicURL)
	require.Equal(t, base.Add(time.Minute), *article.PublishedAt)
}

func TestMarkFailedIsTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(3)
	job := enqueueOne(t, store, "job-1", nil, base)
	claimed, err := store.Claim(ctx, job, base)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, *claimed, "article content missing", base))

	stored, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.ErrorIs(t, store.MarkFailed(ctx, stored, "x", base), jobs.ErrInvalidTransition)
}

func TestListJobsProjection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(3)
	store.PutArticle(jobs.Article{ID: "article-j1", UserID: "user-1", Title: "First"})
	for i := range 30 {
		id := "j" + string(rune('A'+i))
		enqueueOne(t, store, id, nil, base.Add(time.Duration(i)*time.Minute))
	}
	enqueueOne(t, store, "j1", nil, base.Add(time.Hour))
	_, err := store.Enqueue(ctx, []jobs.JobInput{{ID: "other", UserID: "user-2"}}, base.Add(2*time.Hour))
	require.NoError(t, err)

	views, err := store.ListJobs(ctx, "user-1", jobs.ListLimit)
	require.NoError(t, err)
	require.Len(t, views, jobs.ListLimit)
	require.Equal(t, "j1", views[0].ID)
	require.Equal(t, "First", views[0].ArticleTitle)
	require.Equal(t, "Untitled", views[1].ArticleTitle)
	for i := 1; i < len(views); i++ {
		require.False(t, views[i].CreatedAt.After(views[i-1].CreatedAt))
	}
}

func TestAccountsUpsertHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(3)
	first, err := store.InsertAccount(ctx, jobs.Account{ID: "a1", UserID: "u", ExternalID: "alice", CreatedAt: base})
	require.NoError(t, err)
	_, err = store.InsertAccount(ctx, first)
	require.Error(t, err)
	_, err = store.InsertAccount(ctx, jobs.Account{ID: "a0", UserID: "u", ExternalID: "bob", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)

	updated, err := store.UpdateAccountToken(ctx, jobs.Account{ID: "a1", EncryptedToken: "blob", DisplayName: "Alice"})
	require.NoError(t, err)
	require.Equal(t, "alice", updated.ExternalID)
	require.Equal(t, "blob", updated.EncryptedToken)

	list, err := store.ListAccounts(ctx, "u")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a1", list[0].ID)

	_, err = store.UpdateAccountToken(ctx, jobs.Account{ID: "missing"})
	require.ErrorIs(t, err, jobs.ErrNotFound)
}
