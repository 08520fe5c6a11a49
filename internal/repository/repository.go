package repository

import (
	"context"

	"github.com/ripplehq/ripple/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// PostRepository persists posts.
type PostRepository interface {
	CreatePost(ctx context.Context, post *domain.Post) error
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error)
	UpdatePost(ctx context.Context, post *domain.Post) error
	DeletePost(ctx context.Context, id string) error
}

// CommentRepository persists comments.
type CommentRepository interface {
	CreateComment(ctx context.Context, comment *domain.Comment) error
	GetCommentByID(ctx context.Context, id string) (*domain.Comment, error)
	ListCommentsByPost(ctx context.Context, postID string, limit, offset int) ([]domain.Comment, error)
	UpdateComment(ctx context.Context, comment *domain.Comment) error
	DeleteComment(ctx context.Context, id string) error
}

// LikeRepository manages post like membership.
type LikeRepository interface {
	// ToggleLike flips membership of (postID, userID) in the liked-by set
	// and reports whether the post is liked after the call. The flip is
	// atomic: concurrent toggles for the same pair serialize rather than
	// race.
	ToggleLike(ctx context.Context, postID, userID string) (liked bool, err error)
	ListLikesByPost(ctx context.Context, postID string) ([]domain.Like, error)
}
