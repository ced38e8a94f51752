package gateway

import "time"

// ActiveUser is a row from the high-activity user listing.
type ActiveUser struct {
	AuthorName string `json:"authorName"`
}

// StoredComment is a persisted comment as returned by the user detail
// endpoint. CommentDate is nil when the ingest never resolved a creation
// time for the comment.
type StoredComment struct {
	ID          string     `json:"id"`
	Author      string     `json:"author"`
	Body        string     `json:"body"`
	BodyHTML    string     `json:"body_html"`
	Subreddit   string     `json:"subreddit"`
	Permalink   string     `json:"permalink"`
	CommentDate *time.Time `json:"commentDate"`
}

// UserDetail is the stored user record with its persisted comments.
type UserDetail struct {
	Username string          `json:"username"`
	Comments []StoredComment `json:"comments"`
}
