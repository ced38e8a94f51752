package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spyglass-project/spyglass-crawler/internal/crawl"
)

// Listing payloads wrap every item in a kind-tagged envelope. Posts are kind
// "t3", comments "t1"; other kinds ("more" continuation stubs in particular)
// are ignored rather than expanded.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listing struct {
	Children []thing `json:"children"`
}

type listingEnvelope struct {
	Kind string  `json:"kind"`
	Data listing `json:"data"`
}

type postData struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	SelfText  string `json:"selftext"`
	Author    string `json:"author"`
	Permalink string `json:"permalink"`
	Subreddit string `json:"subreddit"`
}

type commentData struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	BodyHTML   string          `json:"body_html"`
	Subreddit  string          `json:"subreddit"`
	Permalink  string          `json:"permalink"`
	CreatedUTC float64         `json:"created_utc"`
	Replies    json.RawMessage `json:"replies"`
}

func parsePosts(env listingEnvelope) ([]crawl.Post, error) {
	posts := make([]crawl.Post, 0, len(env.Data.Children))
	for _, child := range env.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var data postData
		if err := json.Unmarshal(child.Data, &data); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		posts = append(posts, crawl.Post{
			ID:        data.ID,
			Title:     data.Title,
			Body:      data.SelfText,
			Author:    data.Author,
			Permalink: data.Permalink,
			Board:     data.Subreddit,
		})
	}
	return posts, nil
}

// flattenComments walks a comment listing depth-first and returns at most
// maxCount comments no deeper than maxDepth.
func flattenComments(env listingEnvelope, maxCount, maxDepth int) ([]crawl.Comment, error) {
	var comments []crawl.Comment
	var walk func(l listing, depth int) error
	walk = func(l listing, depth int) error {
		if depth > maxDepth {
			return nil
		}
		for _, child := range l.Children {
			if len(comments) >= maxCount {
				return nil
			}
			if child.Kind != "t1" {
				continue
			}
			var data commentData
			if err := json.Unmarshal(child.Data, &data); err != nil {
				return fmt.Errorf("decode comment: %w", err)
			}
			comments = append(comments, crawl.Comment{
				ID:         data.ID,
				Author:     data.Author,
				Body:       data.Body,
				BodyHTML:   data.BodyHTML,
				Board:      data.Subreddit,
				Permalink:  data.Permalink,
				CreatedUTC: int64(data.CreatedUTC),
			})
			replies, ok := replyListing(data.Replies)
			if !ok {
				continue
			}
			if err := walk(replies.Data, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(env.Data, 1); err != nil {
		return nil, err
	}
	return comments, nil
}

// replyListing decodes the replies field, which is the empty string when a
// comment has no children.
func replyListing(raw json.RawMessage) (listingEnvelope, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return listingEnvelope{}, false
	}
	var env listingEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return listingEnvelope{}, false
	}
	return env, true
}
