package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

const articleColumns = `id, user_id, title, content, status, note_account_id, note_article_url, published_at, updated_at`

func scanArticle(row pgx.Row) (jobs.Article, error) {
	var (
		article jobs.Article
		status  string
	)
	err := row.Scan(
		&article.ID,
		&article.UserID,
		&article.Title,
		&article.Content,
		&status,
		&article.AccountID,
		&article.PublicURL,
		&article.PublishedAt,
		&article.UpdatedAt,
	)
	if err != nil {
		return jobs.Article{}, err
	}
	article.Status = jobs.ArticleStatus(status)
	return article, nil
}

// GetArticle fetches an article by ID.
func (s *Store) GetArticle(ctx context.Context, id string) (jobs.Article, error) {
	article, err := scanArticle(s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Article{}, fmt.Errorf("article %s: %w", id, jobs.ErrNotFound)
	}
	if err != nil {
		return jobs.Article{}, fmt.Errorf("get article %s: %w", id, err)
	}
	return article, nil
}

// ListArticles returns the articles among ids owned by userID.
func (s *Store) ListArticles(ctx context.Context, userID string, ids []string) ([]jobs.Article, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	out := make([]jobs.Article, 0, len(ids))
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return out, nil
}
