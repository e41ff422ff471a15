package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

var (
	now     = time.Unix(1700000000, 0).UTC()
	jobCols = []string{
		"id", "user_id", "article_id", "note_account_id", "cta_id", "status", "scheduled_for", "attempts",
		"started_at", "finished_at", "error_message", "result_url", "payload", "created_at", "updated_at",
	}
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, 3)
	require.NoError(t, err)
	return store, mock
}

func jobRow(id string, status jobs.Status, attempts int, payload []byte) []any {
	var started *time.Time
	if status == jobs.StatusProcessing {
		started = jobs.TimePtr(now)
	}
	return []any{
		id, "user-1", "article-1", "acct-1", (*string)(nil), string(status), (*time.Time)(nil), attempts,
		started, (*time.Time)(nil), (*string)(nil), (*string)(nil), payload, now, now,
	}
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, 3)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWithPool(mock, 0)
	require.NoError(t, err)
	require.Equal(t, jobs.DefaultMaxAttempts, store.maxAttempts)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestEnqueueInsertsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO automation_jobs").
		WithArgs("job-a", "user-1", "article-1", "acct-1", (*string)(nil), (*time.Time)(nil), []byte(nil), now).
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(jobRow("job-a", jobs.StatusQueued, 0, nil)...))
	mock.ExpectQuery("INSERT INTO automation_jobs").
		WithArgs("job-b", "user-1", "article-2", "acct-1", jobs.StringPtr("cta-1"), (*time.Time)(nil),
			[]byte(`{"ctaId":"cta-1"}`), now).
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(jobRow("job-b", jobs.StatusQueued, 0, []byte(`{"ctaId":"cta-1"}`))...))
	mock.ExpectCommit()

	out, err := store.Enqueue(context.Background(), []jobs.JobInput{
		{ID: "job-a", UserID: "user-1", ArticleID: "article-1", AccountID: "acct-1"},
		{ID: "job-b", UserID: "user-1", ArticleID: "article-2", AccountID: "acct-1", CTAID: jobs.StringPtr("cta-1")},
	}, now)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "job-b", out[0].ID)
	require.Equal(t, map[string]any{"ctaId": "cta-1"}, out[0].Payload)
	require.Nil(t, out[1].Payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO automation_jobs").
		WithArgs("job-a", "user-1", "missing", "acct-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	_, err := store.Enqueue(context.Background(), []jobs.JobInput{
		{ID: "job-a", UserID: "user-1", ArticleID: "missing", AccountID: "acct-1"},
	}, now)
	require.ErrorContains(t, err, "fk violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchNextEligible(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`scheduled_for IS NULL OR scheduled_for <= \$1`).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(jobRow("job-1", jobs.StatusQueued, 0, nil)...))
	mock.ExpectQuery("FROM automation_jobs").
		WithArgs(now).
		WillReturnError(pgx.ErrNoRows)

	job, err := store.FetchNextEligible(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, jobs.StatusQueued, job.Status)

	job, err = store.FetchNextEligible(context.Background(), now)
	require.NoError(t, err)
	require.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimConditionalUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE id = \$1 AND status = 'queued'`).
		WithArgs("job-1", now).
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(jobRow("job-1", jobs.StatusProcessing, 1, nil)...))
	mock.ExpectQuery(`WHERE id = \$1 AND status = 'queued'`).
		WithArgs("job-1", now).
		WillReturnError(pgx.ErrNoRows)

	claimed, err := store.Claim(context.Background(), jobs.Job{ID: "job-1"}, now)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusProcessing, claimed.Status)
	require.Equal(t, 1, claimed.Attempts)
	require.Equal(t, now, *claimed.StartedAt)

	lost, err := store.Claim(context.Background(), jobs.Job{ID: "job-1"}, now)
	require.NoError(t, err)
	require.Nil(t, lost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteUpdatesJobAndArticle(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE automation_jobs").
		WithArgs("job-1", now, jobs.StringPtr("https://note.com/x/abc")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE articles").
		WithArgs("article-1", now, "https://note.com/x/abc").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.Complete(context.Background(), jobs.Job{ID: "job-1", ArticleID: "article-1"}, "https://note.com/x/abc", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRejectsNonProcessingJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE automation_jobs").
		WithArgs("job-1", now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.Complete(context.Background(), jobs.Job{ID: "job-1", ArticleID: "article-1"}, "u", now)
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailAndMaybeRequeue(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("CASE WHEN attempts < \\$3").
		WithArgs("job-1", "NavigationTimeout: timed out", 3, now).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("queued"))
	mock.ExpectQuery("CASE WHEN attempts < \\$3").
		WithArgs("job-1", "boom", 3, now).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectQuery("CASE WHEN attempts < \\$3").
		WithArgs("job-2", "boom", 3, now).
		WillReturnError(pgx.ErrNoRows)

	requeued, err := store.FailAndMaybeRequeue(context.Background(), jobs.Job{ID: "job-1"}, "NavigationTimeout: timed out", now)
	require.NoError(t, err)
	require.True(t, requeued)

	requeued, err = store.FailAndMaybeRequeue(context.Background(), jobs.Job{ID: "job-1"}, "boom", now)
	require.NoError(t, err)
	require.False(t, requeued)

	_, err = store.FailAndMaybeRequeue(context.Background(), jobs.Job{ID: "job-2"}, "boom", now)
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("SET status = 'failed'").
		WithArgs("job-1", "article content missing", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET status = 'failed'").
		WithArgs("job-1", "again", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.MarkFailed(context.Background(), jobs.Job{ID: "job-1"}, "article content missing", now))
	require.ErrorIs(t, store.MarkFailed(context.Background(), jobs.Job{ID: "job-1"}, "again", now), jobs.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM automation_jobs WHERE id").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, jobs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsProjection(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	url := jobs.StringPtr("https://note.com/x/abc")
	mock.ExpectQuery("LEFT JOIN articles").
		WithArgs("user-1", jobs.ListLimit).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "scheduled_for", "started_at", "finished_at", "created_at",
			"error_message", "result_url", "title", "note_article_url",
		}).
			AddRow("job-2", "completed", (*time.Time)(nil), jobs.TimePtr(now), jobs.TimePtr(now), now,
				(*string)(nil), url, "Hello", url).
			AddRow("job-1", "failed", (*time.Time)(nil), (*time.Time)(nil), jobs.TimePtr(now), now.Add(-time.Hour),
				jobs.StringPtr("boom"), (*string)(nil), "Untitled", (*string)(nil)))

	views, err := store.ListJobs(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, jobs.StatusCompleted, views[0].Status)
	require.Equal(t, "Hello", views[0].ArticleTitle)
	require.Equal(t, "boom", *views[1].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsEmbeddedFiles(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS note_accounts").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
