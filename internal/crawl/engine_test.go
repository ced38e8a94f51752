package crawl

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu sync.Mutex

	newPosts    map[string][]Post
	newPostsErr map[string]error
	hotPosts    map[string][]Post
	trees       map[string][]Comment
	treeErr     map[string]error
	comments    map[string][]Comment
	commentsErr map[string]error
	submissions map[string][]Post

	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		newPosts:    map[string][]Post{},
		newPostsErr: map[string]error{},
		hotPosts:    map[string][]Post{},
		trees:       map[string][]Comment{},
		treeErr:     map[string]error{},
		comments:    map[string][]Comment{},
		commentsErr: map[string]error{},
		submissions: map[string][]Post{},
		calls:       map[string]int{},
	}
}

func (s *fakeSource) record(key string) {
	s.mu.Lock()
	s.calls[key]++
	s.mu.Unlock()
}

func (s *fakeSource) callCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *fakeSource) NewPosts(_ context.Context, board string, _ int) ([]Post, error) {
	s.record("new:" + board)
	if err := s.newPostsErr[board]; err != nil {
		return nil, err
	}
	return s.newPosts[board], nil
}

func (s *fakeSource) HotPosts(_ context.Context, board string, _ int) ([]Post, error) {
	s.record("hot:" + board)
	return s.hotPosts[board], nil
}

func (s *fakeSource) CommentTree(_ context.Context, post Post, _, _ int) ([]Comment, error) {
	s.record("tree:" + post.ID)
	if err := s.treeErr[post.ID]; err != nil {
		return nil, err
	}
	return s.trees[post.ID], nil
}

func (s *fakeSource) UserComments(_ context.Context, username string, _ int) ([]Comment, error) {
	s.record("comments:" + username)
	if err := s.commentsErr[username]; err != nil {
		return nil, err
	}
	return s.comments[username], nil
}

func (s *fakeSource) UserSubmissions(_ context.Context, username string, _ int) ([]Post, error) {
	s.record("submitted:" + username)
	return s.submissions[username], nil
}

type fakeStore struct {
	mu sync.Mutex

	boards    []Board
	boardsErr error
	existing  map[string]bool

	commentErr error

	users          []string
	posts          []Post
	writtenBoards  []Board
	comments       []Comment
	existenceCheck int
}

func newFakeStore(boards ...Board) *fakeStore {
	return &fakeStore{boards: boards, existing: map[string]bool{}}
}

func (s *fakeStore) Boards(context.Context) ([]Board, error) {
	if s.boardsErr != nil {
		return nil, s.boardsErr
	}
	return s.boards, nil
}

func (s *fakeStore) UpsertBoard(_ context.Context, board Board) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writtenBoards = append(s.writtenBoards, board)
	return board, nil
}

func (s *fakeStore) UpsertUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, username)
	return nil
}

func (s *fakeStore) UpsertPost(_ context.Context, post Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, post)
	return nil
}

func (s *fakeStore) CommentExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existenceCheck++
	return s.existing[id], nil
}

func (s *fakeStore) UpsertComment(_ context.Context, comment Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commentErr != nil {
		return s.commentErr
	}
	s.comments = append(s.comments, comment)
	return nil
}

func (s *fakeStore) writtenComments() []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Comment(nil), s.comments...)
}

func (s *fakeStore) writtenBoardNames() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := map[string]bool{}
	for _, b := range s.writtenBoards {
		names[b.Name] = b.Tracking
	}
	return names
}

func testEngine(source Source, store Store) *Engine {
	// HotPostProbability stays zero so runs are deterministic.
	return NewEngine(Config{WriteBatchSize: 2}, source, store, zap.NewNop())
}

func TestRunWalksTrackedBoardsOnly(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(
		Board{Name: "golang", Tracking: true},
		Board{Name: "archive", Tracking: false},
	)
	source.newPosts["golang"] = []Post{{ID: "p1", Author: "poster", Board: "golang"}}

	_, err := testEngine(source, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, source.callCount("new:golang"))
	assert.Equal(t, 0, source.callCount("new:archive"))
}

func TestRunPersistsDiscoveredHistory(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(
		Board{Name: "golang", Tracking: true},
		Board{Name: "archive", Tracking: false},
	)
	source.newPosts["golang"] = []Post{{ID: "p1", Author: "poster", Board: "golang"}}
	source.trees["p1"] = []Comment{
		{ID: "c1", Author: "alice", Board: "golang"},
		{ID: "c2", Author: "AutoModerator", Board: "golang"},
	}
	source.comments["alice"] = []Comment{
		{ID: "h1", Author: "alice", Board: "golang"},
		{ID: "h2", Author: "alice", Board: "rust"},
		{ID: "h3", Author: "alice", Board: "rust"},
	}
	store.existing["h3"] = true

	totals, err := testEngine(source, store).Run(context.Background())
	require.NoError(t, err)

	// AutoModerator's history is never resolved.
	assert.Equal(t, 0, source.callCount("comments:AutoModerator"))
	assert.Equal(t, 1, source.callCount("comments:alice"))
	assert.Equal(t, 1, source.callCount("submitted:alice"))

	written := store.writtenComments()
	ids := make([]string, 0, len(written))
	for _, c := range written {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"h1", "h2"}, ids)

	boards := store.writtenBoardNames()
	assert.Equal(t, map[string]bool{"golang": true, "rust": false}, boards)

	assert.Contains(t, store.users, "poster")
	assert.Contains(t, store.users, "alice")
	assert.NotContains(t, store.users, "AutoModerator")

	assert.Equal(t, int64(1), totals.Boards)
	assert.Equal(t, int64(1), totals.Posts)
	assert.Equal(t, int64(1), totals.Comments)
	assert.Equal(t, int64(3), totals.UserComments)
}

func TestRunDedupesRepeatedHistoryComments(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(Board{Name: "golang", Tracking: true})
	source.newPosts["golang"] = []Post{
		{ID: "p1", Author: "poster", Board: "golang"},
		{ID: "p2", Author: "poster", Board: "golang"},
	}
	// Alice comments on both posts; her history overlaps with itself.
	source.trees["p1"] = []Comment{{ID: "c1", Author: "alice", Board: "golang"}}
	source.trees["p2"] = []Comment{{ID: "c2", Author: "alice", Board: "golang"}}
	source.comments["alice"] = []Comment{{ID: "h1", Author: "alice", Board: "golang"}}

	// Posts are serialized so the second encounter sees the cached history.
	engine := NewEngine(Config{PostConcurrency: 1, WriteBatchSize: 2}, source, store, zap.NewNop())
	totals, err := engine.Run(context.Background())
	require.NoError(t, err)

	// One history fetch and one write despite two encounters.
	assert.Equal(t, 1, source.callCount("comments:alice"))
	assert.Len(t, store.writtenComments(), 1)
	assert.Greater(t, totals.CacheHits, int64(0))
}

func TestRunSkipsAlreadyStoredComments(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(Board{Name: "golang", Tracking: true})
	source.newPosts["golang"] = []Post{{ID: "p1", Author: "poster", Board: "golang"}}
	source.trees["p1"] = []Comment{{ID: "c1", Author: "alice", Board: "golang"}}
	source.comments["alice"] = []Comment{
		{ID: "h1", Author: "alice", Board: "golang"},
		{ID: "h2", Author: "alice", Board: "golang"},
	}
	store.existing["h1"] = true
	store.existing["h2"] = true

	_, err := testEngine(source, store).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, store.writtenComments())
	assert.Empty(t, store.writtenBoardNames())
}

func TestRunDegradesOnRateLimitedBoard(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(
		Board{Name: "golang", Tracking: true},
		Board{Name: "rust", Tracking: true},
	)
	source.newPostsErr["golang"] = ErrRateLimited
	source.newPosts["rust"] = []Post{{ID: "p1", Author: "poster", Board: "rust"}}

	totals, err := testEngine(source, store).Run(context.Background())
	require.NoError(t, err)

	// The throttled board degrades to empty; the sibling is unaffected.
	assert.Equal(t, 1, source.callCount("tree:p1"))
	assert.Equal(t, int64(2), totals.Boards)
	assert.Equal(t, int64(1), totals.RateLimited)
}

func TestRunDegradesOnFailedHistoryFetch(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(Board{Name: "golang", Tracking: true})
	source.newPosts["golang"] = []Post{{ID: "p1", Author: "poster", Board: "golang"}}
	source.trees["p1"] = []Comment{{ID: "c1", Author: "alice", Board: "golang"}}
	source.commentsErr["alice"] = errors.New("boom")

	totals, err := testEngine(source, store).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, store.writtenComments())
	assert.Equal(t, int64(1), totals.Comments)
}

func TestRunFailsWhenBoardListUnavailable(t *testing.T) {
	store := newFakeStore()
	store.boardsErr = errors.New("gateway down")

	_, err := testEngine(newFakeSource(), store).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "watched boards")
}

func TestRunReusesBoardListAcrossRuns(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(Board{Name: "golang", Tracking: true})
	engine := testEngine(source, store)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	// Make the store unusable; the cached list must carry the second run.
	store.boardsErr = errors.New("gateway down")
	totals, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, totals.CacheHits, int64(0))
}

func TestRunReusesUserHistoryAcrossRuns(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(Board{Name: "golang", Tracking: true})
	source.newPosts["golang"] = []Post{{ID: "p1", Author: "poster", Board: "golang"}}
	source.trees["p1"] = []Comment{{ID: "c1", Author: "alice", Board: "golang"}}
	source.comments["alice"] = []Comment{{ID: "h1", Author: "alice", Board: "golang"}}
	engine := testEngine(source, store)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, source.callCount("comments:alice"))
	// The second run still re-checks existence for the cached history.
	assert.Len(t, store.writtenComments(), 1)
}

func TestRunPropagatesCommentWriteFailure(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore(Board{Name: "golang", Tracking: true})
	source.newPosts["golang"] = []Post{{ID: "p1", Author: "poster", Board: "golang"}}
	source.trees["p1"] = []Comment{{ID: "c1", Author: "alice", Board: "golang"}}
	source.comments["alice"] = []Comment{{ID: "h1", Author: "alice", Board: "golang"}}
	store.commentErr = errors.New("write refused")

	// The run itself still completes; the failure is scoped to the commenter.
	totals, err := testEngine(source, store).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, store.writtenComments())
	assert.Equal(t, int64(1), totals.Comments)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, FailureRateLimited, Classify(ErrRateLimited))
	assert.Equal(t, FailureRateLimited, Classify(errors.Join(errors.New("wrapped"), ErrRateLimited)))
	assert.Equal(t, FailureTransient, Classify(errors.New("timeout")))
}

func TestChunked(t *testing.T) {
	var batches [][]int
	chunked([]int{1, 2, 3, 4, 5}, 2)(func(batch []int) bool {
		batches = append(batches, batch)
		return true
	})
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, batches)

	batches = nil
	chunked([]int{1}, 0)(func(batch []int) bool {
		batches = append(batches, batch)
		return true
	})
	assert.Equal(t, [][]int{{1}}, batches)
}

func TestEfficiency(t *testing.T) {
	assert.Zero(t, Totals{}.Efficiency())
	assert.InDelta(t, 0.25, Totals{APICalls: 3, CacheHits: 1}.Efficiency(), 1e-9)
}
