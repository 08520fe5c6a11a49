package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ripplehq/ripple/internal/domain"
	"github.com/ripplehq/ripple/internal/repository"
)

// ErrForbidden indicates the caller does not own the resource.
var ErrForbidden = errors.New("feed: not the author")

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Service implements the post, comment and like operations.
type Service struct {
	posts    repository.PostRepository
	comments repository.CommentRepository
	likes    repository.LikeRepository
	logger   *slog.Logger
}

// New constructs a Service.
func New(posts repository.PostRepository, comments repository.CommentRepository, likes repository.LikeRepository, logger *slog.Logger) Service {
	return Service{posts: posts, comments: comments, likes: likes, logger: logger}
}

// PostInput carries post creation and update fields.
type PostInput struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// CreatePost stores a new post authored by authorID.
func (s Service) CreatePost(ctx context.Context, authorID string, input PostInput) (*domain.Post, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, errors.New("content is required")
	}
	now := time.Now().UTC()
	post := &domain.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Content:   content,
		ImageURL:  strings.TrimSpace(input.ImageURL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.posts.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	s.logger.Info("post created", "post_id", post.ID, "author_id", authorID)
	return post, nil
}

// GetPost fetches one post.
func (s Service) GetPost(ctx context.Context, postID string) (*domain.Post, error) {
	return s.posts.GetPostByID(ctx, postID)
}

// ListPosts pages through the feed newest first.
func (s Service) ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	limit, offset = clampPage(limit, offset)
	return s.posts.ListPosts(ctx, limit, offset)
}

// UpdatePost replaces a post's content; only the author may do so.
func (s Service) UpdatePost(ctx context.Context, userID, postID string, input PostInput) (*domain.Post, error) {
	post, err := s.posts.GetPostByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != userID {
		return nil, ErrForbidden
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, errors.New("content is required")
	}
	post.Content = content
	post.ImageURL = strings.TrimSpace(input.ImageURL)
	post.UpdatedAt = time.Now().UTC()
	if err := s.posts.UpdatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	return post, nil
}

// DeletePost removes a post; only the author may do so. Comments and
// likes go with it.
func (s Service) DeletePost(ctx context.Context, userID, postID string) error {
	post, err := s.posts.GetPostByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != userID {
		return ErrForbidden
	}
	if err := s.posts.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	s.logger.Info("post deleted", "post_id", postID, "author_id", userID)
	return nil
}

// CreateComment attaches a comment to an existing post.
func (s Service) CreateComment(ctx context.Context, authorID, postID, content string) (*domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content is required")
	}
	if _, err := s.posts.GetPostByID(ctx, postID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	comment := &domain.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.comments.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

// ListComments pages through a post's comments.
func (s Service) ListComments(ctx context.Context, postID string, limit, offset int) ([]domain.Comment, error) {
	if _, err := s.posts.GetPostByID(ctx, postID); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	return s.comments.ListCommentsByPost(ctx, postID, limit, offset)
}

// UpdateComment replaces a comment's content; only the author may do so.
func (s Service) UpdateComment(ctx context.Context, userID, commentID, content string) (*domain.Comment, error) {
	comment, err := s.comments.GetCommentByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != userID {
		return nil, ErrForbidden
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content is required")
	}
	comment.Content = content
	comment.UpdatedAt = time.Now().UTC()
	if err := s.comments.UpdateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return comment, nil
}

// DeleteComment removes a comment; only the author may do so.
func (s Service) DeleteComment(ctx context.Context, userID, commentID string) error {
	comment, err := s.comments.GetCommentByID(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.AuthorID != userID {
		return ErrForbidden
	}
	return s.comments.DeleteComment(ctx, commentID)
}

// ToggleLike flips userID's like on a post and reports the resulting
// state. The flip itself is serialized per (post, user) by the
// repository.
func (s Service) ToggleLike(ctx context.Context, userID, postID string) (bool, error) {
	if _, err := s.posts.GetPostByID(ctx, postID); err != nil {
		return false, err
	}
	liked, err := s.likes.ToggleLike(ctx, postID, userID)
	if err != nil {
		return false, fmt.Errorf("toggle like: %w", err)
	}
	return liked, nil
}

// ListLikes returns the like pairs for a post.
func (s Service) ListLikes(ctx context.Context, postID string) ([]domain.Like, error) {
	if _, err := s.posts.GetPostByID(ctx, postID); err != nil {
		return nil, err
	}
	return s.likes.ListLikesByPost(ctx, postID)
}
