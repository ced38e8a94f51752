package crawl

import "context"

// Source issues authenticated read calls against the external discussion
// platform. Implementations surface rate limiting as ErrRateLimited so the
// engine can recover locally.
type Source interface {
	NewPosts(ctx context.Context, board string, limit int) ([]Post, error)
	HotPosts(ctx context.Context, board string, limit int) ([]Post, error)
	CommentTree(ctx context.Context, post Post, maxComments, maxDepth int) ([]Comment, error)
	UserComments(ctx context.Context, username string, limit int) ([]Comment, error)
	UserSubmissions(ctx context.Context, username string, limit int) ([]Post, error)
}

// Store persists crawl output through the ingestion service API. All writes
// are upserts keyed by external identity, so repeating a write is harmless.
type Store interface {
	Boards(ctx context.Context) ([]Board, error)
	UpsertBoard(ctx context.Context, board Board) (Board, error)
	UpsertUser(ctx context.Context, username string) error
	UpsertPost(ctx context.Context, post Post) error
	CommentExists(ctx context.Context, id string) (bool, error)
	UpsertComment(ctx context.Context, comment Comment) error
}
