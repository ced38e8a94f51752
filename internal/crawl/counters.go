package crawl

import "sync/atomic"

// Counters accumulates run totals. Every field is updated atomically because
// the traversal mutates them from many concurrent branches.
type Counters struct {
	apiCalls     atomic.Int64
	cacheHits    atomic.Int64
	boards       atomic.Int64
	posts        atomic.Int64
	comments     atomic.Int64
	userComments atomic.Int64
	rateLimited  atomic.Int64
}

// Totals is an immutable snapshot of Counters taken at run end.
type Totals struct {
	APICalls     int64 `json:"api_calls"`
	CacheHits    int64 `json:"cache_hits"`
	Boards       int64 `json:"boards"`
	Posts        int64 `json:"posts"`
	Comments     int64 `json:"comments"`
	UserComments int64 `json:"user_comments"`
	RateLimited  int64 `json:"rate_limited"`
}

// Totals snapshots the current counter values.
func (c *Counters) Totals() Totals {
	return Totals{
		APICalls:     c.apiCalls.Load(),
		CacheHits:    c.cacheHits.Load(),
		Boards:       c.boards.Load(),
		Posts:        c.posts.Load(),
		Comments:     c.comments.Load(),
		UserComments: c.userComments.Load(),
		RateLimited:  c.rateLimited.Load(),
	}
}

// Efficiency is the share of content resolutions served from cache:
// cacheHits / (apiCalls + cacheHits). Zero activity yields 0.
func (t Totals) Efficiency() float64 {
	total := t.APICalls + t.CacheHits
	if total == 0 {
		return 0
	}
	return float64(t.CacheHits) / float64(total)
}
