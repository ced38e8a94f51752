// Package crawl defines core types shared across subsystems and implements
// the traversal engine that walks boards, posts, comments, and commenter
// histories.
package crawl

// Board is a named community discussion forum. Tracking controls whether the
// traversal actively fetches its posts; discovered-but-untracked boards are
// recorded, never crawled.
type Board struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Tracking    bool   `json:"tracking"`
}

// Post is a top-level content item in a board. Identity is the external id,
// globally unique across boards.
type Post struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"content"`
	Author    string `json:"author"`
	Permalink string `json:"permalink"`
	Board     string `json:"subreddit"`
}

// Comment is a reply within a post's comment tree. Identity is the external
// id, globally unique.
type Comment struct {
	ID         string `json:"id"`
	Author     string `json:"author"`
	Body       string `json:"body"`
	BodyHTML   string `json:"body_html"`
	Board      string `json:"subreddit"`
	Permalink  string `json:"permalink"`
	CreatedUTC int64  `json:"created_utc"`
}

// UserHistory is an ephemeral snapshot of a user's visible activity as
// reported by the external source at fetch time.
type UserHistory struct {
	Username    string
	Comments    []Comment
	Submissions []Post
}
