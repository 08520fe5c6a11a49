package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ripplehq/ripple/internal/domain"
	"github.com/ripplehq/ripple/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository    = (*Repository)(nil)
	_ repository.PostRepository    = (*Repository)(nil)
	_ repository.CommentRepository = (*Repository)(nil)
	_ repository.LikeRepository    = (*Repository)(nil)
)

const uniqueViolation = "23505"

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, username, email, password_hash, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.IsAdmin, user.CreatedAt, user.UpdatedAt)
	return mapError(err)
}

func (r *Repository) getUser(ctx context.Context, clause string, arg any) (*domain.User, error) {
	query := `SELECT id, username, email, password_hash, is_admin, created_at, updated_at FROM users WHERE ` + clause
	row := r.pool.QueryRow(ctx, query, arg)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// GetUserByUsername fetches a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getUser(ctx, "username = $1", username)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getUser(ctx, "email = $1", email)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, "id = $1", id)
}

// CreatePost inserts a post.
func (r *Repository) CreatePost(ctx context.Context, post *domain.Post) error {
	const query = `INSERT INTO posts (id, author_id, content, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, post.ID, post.AuthorID, post.Content, post.ImageURL, post.CreatedAt, post.UpdatedAt)
	return mapError(err)
}

const postColumns = `p.id, p.author_id, p.content, COALESCE(p.image_url, ''), p.created_at, p.updated_at,
		(SELECT COUNT(1) FROM likes l WHERE l.post_id = p.id),
		(SELECT COUNT(1) FROM comments c WHERE c.post_id = p.id)`

func scanPost(row pgx.Row) (*domain.Post, error) {
	var p domain.Post
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Content, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt, &p.LikesCount, &p.CommentsCount); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// GetPostByID retrieves a post with its like and comment counts.
func (r *Repository) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts p WHERE p.id = $1`
	return scanPost(r.pool.QueryRow(ctx, query, id))
}

// ListPosts returns posts newest first.
func (r *Repository) ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts p ORDER BY p.created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	posts := make([]domain.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

// UpdatePost replaces mutable post fields.
func (r *Repository) UpdatePost(ctx context.Context, post *domain.Post) error {
	const query = `UPDATE posts SET content = $2, image_url = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, post.ID, post.Content, post.ImageURL, post.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePost removes a post; comments and likes cascade.
func (r *Repository) DeletePost(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateComment inserts a comment.
func (r *Repository) CreateComment(ctx context.Context, comment *domain.Comment) error {
	const query = `INSERT INTO comments (id, post_id, author_id, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, comment.ID, comment.PostID, comment.AuthorID, comment.Content, comment.CreatedAt, comment.UpdatedAt)
	return mapError(err)
}

// GetCommentByID retrieves a comment.
func (r *Repository) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	const query = `SELECT id, post_id, author_id, content, created_at, updated_at FROM comments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var c domain.Comment
	if err := row.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

// ListCommentsByPost returns a post's comments oldest first.
func (r *Repository) ListCommentsByPost(ctx context.Context, postID string, limit, offset int) ([]domain.Comment, error) {
	const query = `SELECT id, post_id, author_id, content, created_at, updated_at FROM comments
		WHERE post_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, postID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	comments := make([]domain.Comment, 0)
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// UpdateComment replaces a comment's content.
func (r *Repository) UpdateComment(ctx context.Context, comment *domain.Comment) error {
	const query = `UPDATE comments SET content = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, comment.ID, comment.Content, comment.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteComment removes a comment.
func (r *Repository) DeleteComment(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const (
	// likePairLockQuery holds a transaction-scoped advisory lock keyed on
	// the (post_id, user_id) pair. ON CONFLICT DO NOTHING does not lock an
	// already committed conflicting row, so without this two toggles
	// starting from the liked state can both reach the delete branch and
	// net out as if only one ran.
	likePairLockQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`
	likeInsertQuery   = `INSERT INTO likes (post_id, user_id) VALUES ($1, $2) ON CONFLICT (post_id, user_id) DO NOTHING`
	likeDeleteQuery   = `DELETE FROM likes WHERE post_id = $1 AND user_id = $2`
)

// likeExecer is the slice of pgx.Tx the toggle needs.
type likeExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func toggleLike(ctx context.Context, tx likeExecer, postID, userID string) (bool, error) {
	if _, err := tx.Exec(ctx, likePairLockQuery, postID, userID); err != nil {
		return false, fmt.Errorf("toggle like lock: %w", err)
	}
	tag, err := tx.Exec(ctx, likeInsertQuery, postID, userID)
	if err != nil {
		return false, fmt.Errorf("toggle like insert: %w", err)
	}
	liked := tag.RowsAffected() == 1
	if !liked {
		if _, err := tx.Exec(ctx, likeDeleteQuery, postID, userID); err != nil {
			return false, fmt.Errorf("toggle like delete: %w", err)
		}
	}
	return liked, nil
}

// ToggleLike flips like membership inside one transaction. The advisory
// lock serializes concurrent toggles for the same pair, so the net
// effect of N toggles is determined by N's parity.
func (r *Repository) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	liked, err := toggleLike(ctx, tx, postID, userID)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return liked, nil
}

// ListLikesByPost returns every (post, user) like pair for a post.
func (r *Repository) ListLikesByPost(ctx context.Context, postID string) ([]domain.Like, error) {
	rows, err := r.pool.Query(ctx, `SELECT post_id, user_id FROM likes WHERE post_id = $1`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	likes := make([]domain.Like, 0)
	for rows.Next() {
		var l domain.Like
		if err := rows.Scan(&l.PostID, &l.UserID); err != nil {
			return nil, err
		}
		likes = append(likes, l)
	}
	return likes, rows.Err()
}
