package crawl

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spyglass-project/spyglass-crawler/internal/cache"
	"github.com/spyglass-project/spyglass-crawler/internal/gate"
	"github.com/spyglass-project/spyglass-crawler/internal/metrics"
)

// Config controls Engine behavior.
type Config struct {
	BoardConcurrency   int
	PostConcurrency    int
	CommentConcurrency int

	PostLimit          int
	HotPostProbability float64
	MaxTreeComments    int
	MaxTreeDepth       int
	HistoryLimit       int
	WriteBatchSize     int

	ExcludedAuthors []string

	BoardListTTL   time.Duration
	UserHistoryTTL time.Duration
}

// Engine drives the traversal: watched boards fan out to posts, posts to
// comments, comments to commenter histories, and histories back to newly
// discovered boards. The engine is constructed once and may be run
// repeatedly; the TTL caches span runs while dedup sets and counters are
// fresh per run.
type Engine struct {
	cfg    Config
	source Source
	store  Store
	logger *zap.Logger

	boardGate   *gate.Gate
	postGate    *gate.Gate
	commentGate *gate.Gate

	boardList    *cache.TTL[[]Board]
	userHistory  *cache.TTL[UserHistory]
	boardUpserts *cache.TTL[Board]

	excluded map[string]struct{}
}

const boardListKey = "watched"

// NewEngine constructs an Engine. Zero config fields fall back to the
// defaults observed to stay within the external API limits.
func NewEngine(cfg Config, source Source, store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BoardConcurrency <= 0 {
		cfg.BoardConcurrency = 4
	}
	if cfg.PostConcurrency <= 0 {
		cfg.PostConcurrency = 5
	}
	if cfg.CommentConcurrency <= 0 {
		cfg.CommentConcurrency = 10
	}
	if cfg.PostLimit <= 0 {
		cfg.PostLimit = 5
	}
	if cfg.MaxTreeComments <= 0 {
		cfg.MaxTreeComments = 100
	}
	if cfg.MaxTreeDepth <= 0 {
		cfg.MaxTreeDepth = 5
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.WriteBatchSize <= 0 {
		cfg.WriteBatchSize = 5
	}
	if cfg.ExcludedAuthors == nil {
		cfg.ExcludedAuthors = []string{"[deleted]", "AutoModerator"}
	}
	if cfg.BoardListTTL <= 0 {
		cfg.BoardListTTL = 5 * time.Minute
	}
	if cfg.UserHistoryTTL <= 0 {
		cfg.UserHistoryTTL = 24 * time.Hour
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludedAuthors))
	for _, author := range cfg.ExcludedAuthors {
		excluded[author] = struct{}{}
	}

	metrics.Init()

	return &Engine{
		cfg:          cfg,
		source:       source,
		store:        store,
		logger:       logger,
		boardGate:    gate.New(cfg.BoardConcurrency),
		postGate:     gate.New(cfg.PostConcurrency),
		commentGate:  gate.New(cfg.CommentConcurrency),
		boardList:    cache.NewTTL[[]Board](cfg.BoardListTTL),
		userHistory:  cache.NewTTL[UserHistory](cfg.UserHistoryTTL),
		boardUpserts: cache.NewTTL[Board](cache.NoExpiration),
		excluded:     excluded,
	}
}

// runContext holds the state scoped to exactly one run: counters reset to
// zero at run start and the monotonic dedup sets.
type runContext struct {
	counters     Counters
	seenPosts    *cache.Set
	seenComments *cache.Set
}

func newRunContext() *runContext {
	return &runContext{
		seenPosts:    cache.NewSet(),
		seenComments: cache.NewSet(),
	}
}

// Run executes one full traversal pass and returns the accumulated totals.
// Per-item failures are degraded locally; only failure to retrieve the
// watched-board list aborts the run.
func (e *Engine) Run(ctx context.Context) (Totals, error) {
	start := time.Now()
	log := e.logger.With(zap.String("run_id", uuid.NewString()))
	rc := newRunContext()

	boards, err := e.watchedBoards(ctx, rc)
	if err != nil {
		metrics.ObserveRun("fatal", time.Since(start))
		return rc.counters.Totals(), fmt.Errorf("retrieve watched boards: %w", err)
	}

	tracking := make(map[string]bool, len(boards))
	for _, board := range boards {
		tracking[board.Name] = board.Tracking
	}

	log.Info("run starting",
		zap.Int("boards_known", len(boards)),
		zap.Int("board_gate", e.cfg.BoardConcurrency),
		zap.Int("post_gate", e.cfg.PostConcurrency),
		zap.Int("comment_gate", e.cfg.CommentConcurrency),
	)

	var wg sync.WaitGroup
	for _, board := range boards {
		if !board.Tracking {
			continue
		}
		wg.Add(1)
		go func(board Board) {
			defer wg.Done()
			err := e.boardGate.Do(ctx, func() error {
				return e.crawlBoard(ctx, log, rc, board, tracking)
			})
			if err != nil {
				log.Error("board crawl failed", zap.String("board", board.Name), zap.Error(err))
			}
		}(board)
	}
	wg.Wait()

	totals := rc.counters.Totals()
	e.report(log, totals, time.Since(start))
	return totals, nil
}

// watchedBoards returns the full known-board list, shuffled so runs do not
// systematically starve boards late in a fixed ordering under rate limits.
func (e *Engine) watchedBoards(ctx context.Context, rc *runContext) ([]Board, error) {
	boards, ok := e.boardList.Get(boardListKey)
	metrics.ObserveCacheLookup("board_list", ok)
	if ok {
		rc.counters.cacheHits.Add(1)
	} else {
		var err error
		boards, err = e.store.Boards(ctx)
		if err != nil {
			return nil, err
		}
		e.boardList.Set(boardListKey, boards)
	}

	shuffled := make([]Board, len(boards))
	copy(shuffled, boards)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled, nil
}

func (e *Engine) crawlBoard(ctx context.Context, log *zap.Logger, rc *runContext, board Board, tracking map[string]bool) error {
	posts := e.fetchBoardPosts(ctx, log, rc, board.Name)
	rc.counters.boards.Add(1)

	var wg sync.WaitGroup
	for _, post := range posts {
		wg.Add(1)
		go func(post Post) {
			defer wg.Done()
			err := e.postGate.Do(ctx, func() error {
				return e.crawlPost(ctx, log, rc, post, tracking)
			})
			if err != nil {
				log.Error("post crawl failed",
					zap.String("board", board.Name),
					zap.String("post", post.ID),
					zap.Error(err),
				)
			}
		}(post)
	}
	wg.Wait()
	return nil
}

// fetchBoardPosts always pulls the newest posts and, with the configured
// probability, the currently popular ones as well. The merged set is shuffled
// to decorrelate traversal order across runs.
func (e *Engine) fetchBoardPosts(ctx context.Context, log *zap.Logger, rc *runContext, board string) []Post {
	rc.counters.apiCalls.Add(1)
	posts, err := e.source.NewPosts(ctx, board, e.cfg.PostLimit)
	if err != nil {
		e.noteFetchFailure(log, rc, "new_posts", board, err)
		posts = nil
	} else {
		metrics.ObserveSourceCall("new_posts", "ok")
	}

	if rand.Float64() < e.cfg.HotPostProbability {
		rc.counters.apiCalls.Add(1)
		hot, err := e.source.HotPosts(ctx, board, e.cfg.PostLimit)
		if err != nil {
			e.noteFetchFailure(log, rc, "hot_posts", board, err)
		} else {
			metrics.ObserveSourceCall("hot_posts", "ok")
			posts = append(posts, hot...)
		}
	}

	rand.Shuffle(len(posts), func(i, j int) {
		posts[i], posts[j] = posts[j], posts[i]
	})
	return posts
}

func (e *Engine) crawlPost(ctx context.Context, log *zap.Logger, rc *runContext, post Post, tracking map[string]bool) error {
	if err := e.store.UpsertUser(ctx, post.Author); err != nil {
		return fmt.Errorf("upsert author %q: %w", post.Author, err)
	}
	metrics.ObserveStoreWrite("user")

	if rc.seenPosts.Add(post.ID) {
		if err := e.store.UpsertPost(ctx, post); err != nil {
			return fmt.Errorf("upsert post %q: %w", post.ID, err)
		}
		metrics.ObserveStoreWrite("post")
		rc.counters.posts.Add(1)
	} else {
		rc.counters.cacheHits.Add(1)
	}

	comments := e.fetchCommentTree(ctx, log, rc, post)

	var wg sync.WaitGroup
	for _, comment := range comments {
		if _, skip := e.excluded[comment.Author]; skip {
			continue
		}
		wg.Add(1)
		go func(comment Comment) {
			defer wg.Done()
			err := e.commentGate.Do(ctx, func() error {
				return e.processCommenter(ctx, log, rc, comment, tracking)
			})
			if err != nil {
				log.Error("commenter processing failed",
					zap.String("post", post.ID),
					zap.String("comment", comment.ID),
					zap.String("author", comment.Author),
					zap.Error(err),
				)
			}
		}(comment)
	}
	wg.Wait()
	return nil
}

func (e *Engine) fetchCommentTree(ctx context.Context, log *zap.Logger, rc *runContext, post Post) []Comment {
	rc.counters.apiCalls.Add(1)
	comments, err := e.source.CommentTree(ctx, post, e.cfg.MaxTreeComments, e.cfg.MaxTreeDepth)
	if err != nil {
		e.noteFetchFailure(log, rc, "comment_tree", post.ID, err)
		return nil
	}
	metrics.ObserveSourceCall("comment_tree", "ok")
	return comments
}

// processCommenter resolves the commenter's full history and persists every
// history comment not already in the store. A single comment is evidence the
// user is active in the tracked ecosystem; their entire visible history is
// the payload of interest.
func (e *Engine) processCommenter(ctx context.Context, log *zap.Logger, rc *runContext, comment Comment, tracking map[string]bool) error {
	rc.counters.comments.Add(1)

	history, ok, err := e.resolveHistory(ctx, log, rc, comment.Author)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var persistErr error
	chunked(history.Comments, e.cfg.WriteBatchSize)(func(batch []Comment) bool {
		group, groupCtx := errgroup.WithContext(ctx)
		for _, historyComment := range batch {
			historyComment := historyComment
			group.Go(func() error {
				return e.persistComment(groupCtx, rc, historyComment, tracking)
			})
		}
		if err := group.Wait(); err != nil {
			persistErr = fmt.Errorf("persist history of %q: %w", comment.Author, err)
			return false
		}
		return true
	})
	return persistErr
}

// resolveHistory returns the user's history snapshot, from cache when fresh.
// A fetch failure degrades to no history (ok=false) without caching, so the
// next encounter retries; only the user upsert can return an error.
func (e *Engine) resolveHistory(ctx context.Context, log *zap.Logger, rc *runContext, username string) (UserHistory, bool, error) {
	key := strings.ToLower(username)

	history, hit := e.userHistory.Get(key)
	metrics.ObserveCacheLookup("user_history", hit)
	if hit {
		rc.counters.cacheHits.Add(1)
		return history, true, nil
	}

	rc.counters.apiCalls.Add(1)
	comments, err := e.source.UserComments(ctx, username, e.cfg.HistoryLimit)
	if err != nil {
		e.noteFetchFailure(log, rc, "user_comments", username, err)
		return UserHistory{}, false, nil
	}
	metrics.ObserveSourceCall("user_comments", "ok")

	rc.counters.apiCalls.Add(1)
	submissions, err := e.source.UserSubmissions(ctx, username, e.cfg.HistoryLimit)
	if err != nil {
		e.noteFetchFailure(log, rc, "user_submissions", username, err)
		return UserHistory{}, false, nil
	}
	metrics.ObserveSourceCall("user_submissions", "ok")

	if err := e.store.UpsertUser(ctx, username); err != nil {
		return UserHistory{}, false, fmt.Errorf("upsert user %q: %w", username, err)
	}
	metrics.ObserveStoreWrite("user")

	history = UserHistory{Username: username, Comments: comments, Submissions: submissions}
	e.userHistory.Set(key, history)
	return history, true, nil
}

// persistComment writes one history comment if absent from the store,
// upserting its board first so transitively discovered boards are recorded.
// The sequence existence-check, board-upsert, comment-upsert is strictly
// ordered within a comment.
func (e *Engine) persistComment(ctx context.Context, rc *runContext, comment Comment, tracking map[string]bool) error {
	rc.counters.userComments.Add(1)

	if !rc.seenComments.Add(comment.ID) {
		rc.counters.cacheHits.Add(1)
		return nil
	}

	exists, err := e.store.CommentExists(ctx, comment.ID)
	if err != nil {
		return fmt.Errorf("check comment %q: %w", comment.ID, err)
	}
	if exists {
		return nil
	}

	if err := e.upsertBoard(ctx, rc, comment.Board, tracking[comment.Board]); err != nil {
		return fmt.Errorf("upsert board %q: %w", comment.Board, err)
	}

	if err := e.store.UpsertComment(ctx, comment); err != nil {
		return fmt.Errorf("upsert comment %q: %w", comment.ID, err)
	}
	metrics.ObserveStoreWrite("comment")
	return nil
}

// upsertBoard records a board discovered through a history comment,
// propagating whether that board is itself on the watched list. Responses
// are cached and reused unconditionally; the cache is only populated after
// a successful upsert so a failed board record is never masked.
func (e *Engine) upsertBoard(ctx context.Context, rc *runContext, name string, tracked bool) error {
	if _, hit := e.boardUpserts.Get(name); hit {
		metrics.ObserveCacheLookup("board_upsert", true)
		rc.counters.cacheHits.Add(1)
		return nil
	}
	metrics.ObserveCacheLookup("board_upsert", false)

	board, err := e.store.UpsertBoard(ctx, Board{Name: name, Tracking: tracked})
	if err != nil {
		return err
	}
	metrics.ObserveStoreWrite("board")
	e.boardUpserts.Set(name, board)
	return nil
}

func (e *Engine) noteFetchFailure(log *zap.Logger, rc *runContext, op, target string, err error) {
	class := Classify(err)
	metrics.ObserveSourceCall(op, string(class))
	if class == FailureRateLimited {
		rc.counters.rateLimited.Add(1)
		log.Warn("source rate limited, continuing degraded",
			zap.String("op", op),
			zap.String("target", target),
		)
		return
	}
	log.Error("source fetch failed, continuing degraded",
		zap.String("op", op),
		zap.String("target", target),
		zap.Error(err),
	)
}

func (e *Engine) report(log *zap.Logger, totals Totals, elapsed time.Duration) {
	metrics.ObserveRun("success", elapsed)
	metrics.AddRunItems("boards", totals.Boards)
	metrics.AddRunItems("posts", totals.Posts)
	metrics.AddRunItems("comments", totals.Comments)
	metrics.AddRunItems("user_comments", totals.UserComments)

	log.Info("run complete",
		zap.Duration("elapsed", elapsed),
		zap.Int64("api_calls", totals.APICalls),
		zap.Int64("cache_hits", totals.CacheHits),
		zap.Int64("boards", totals.Boards),
		zap.Int64("posts", totals.Posts),
		zap.Int64("comments", totals.Comments),
		zap.Int64("user_comments", totals.UserComments),
		zap.Int64("rate_limited", totals.RateLimited),
		zap.Float64("api_efficiency", totals.Efficiency()),
	)
}

// chunked yields fixed-size batches of items; the last batch may be short.
func chunked[T any](items []T, size int) func(func([]T) bool) {
	if size <= 0 {
		size = 1
	}
	return func(yield func([]T) bool) {
		for start := 0; start < len(items); start += size {
			end := min(start+size, len(items))
			if !yield(items[start:end]) {
				return
			}
		}
	}
}
