package domain

import "time"

// Post is a feed entry authored by a user.
type Post struct {
	ID            string
	AuthorID      string
	Content       string
	ImageURL      string
	LikesCount    int
	CommentsCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Comment is attached to a post.
type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Like records one user liking one post.
type Like struct {
	PostID string
	UserID string
}
