// Package backfill repairs stored comments that were ingested without a
// creation date by re-reading the live comment history of the most active
// stored users.
package backfill

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/spyglass-project/spyglass-crawler/internal/crawl"
	"github.com/spyglass-project/spyglass-crawler/internal/gateway"
)

// Directory is the slice of the persistence gateway the job needs.
type Directory interface {
	HighActivityUsers(ctx context.Context) ([]gateway.ActiveUser, error)
	UserDetail(ctx context.Context, username string) (gateway.UserDetail, error)
	UpsertComment(ctx context.Context, comment crawl.Comment) error
}

// Source is the slice of the content source the job needs.
type Source interface {
	UserComments(ctx context.Context, username string, limit int) ([]crawl.Comment, error)
}

// Totals summarizes one backfill pass.
type Totals struct {
	UsersChecked    int
	CommentsUpdated int
}

// Job walks high-activity users and fills in missing comment dates.
type Job struct {
	directory    Directory
	source       Source
	historyLimit int
	logger       *zap.Logger
}

// New constructs a Job.
func New(directory Directory, source Source, historyLimit int, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Job{
		directory:    directory,
		source:       source,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Run executes one backfill pass. Per-user failures are logged and skipped;
// only failure to list the user set aborts the pass. Users are visited in
// random order so repeated passes do not always repair the same prefix.
func (j *Job) Run(ctx context.Context) (Totals, error) {
	users, err := j.directory.HighActivityUsers(ctx)
	if err != nil {
		return Totals{}, fmt.Errorf("list users: %w", err)
	}
	rand.Shuffle(len(users), func(i, k int) {
		users[i], users[k] = users[k], users[i]
	})

	var totals Totals
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return totals, err
		}
		updated, err := j.backfillUser(ctx, user.AuthorName)
		if err != nil {
			j.logger.Warn("user backfill skipped",
				zap.String("user", user.AuthorName),
				zap.Error(err),
			)
			continue
		}
		totals.UsersChecked++
		totals.CommentsUpdated += updated
	}

	j.logger.Info("backfill complete",
		zap.Int("users_checked", totals.UsersChecked),
		zap.Int("comments_updated", totals.CommentsUpdated),
	)
	return totals, nil
}

func (j *Job) backfillUser(ctx context.Context, username string) (int, error) {
	detail, err := j.directory.UserDetail(ctx, username)
	if err != nil {
		return 0, err
	}

	missing := 0
	for _, stored := range detail.Comments {
		if stored.CommentDate == nil {
			missing++
		}
	}
	if missing == 0 {
		return 0, nil
	}

	live, err := j.source.UserComments(ctx, username, j.historyLimit)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]crawl.Comment, len(live))
	for _, comment := range live {
		byID[comment.ID] = comment
	}

	updated := 0
	for _, stored := range detail.Comments {
		if stored.CommentDate != nil {
			continue
		}
		match, ok := byID[stored.ID]
		if !ok || match.CreatedUTC == 0 {
			continue
		}
		comment := crawl.Comment{
			ID:         stored.ID,
			Author:     stored.Author,
			Body:       stored.Body,
			BodyHTML:   stored.BodyHTML,
			Board:      stored.Subreddit,
			Permalink:  stored.Permalink,
			CreatedUTC: match.CreatedUTC,
		}
		if err := j.directory.UpsertComment(ctx, comment); err != nil {
			return updated, fmt.Errorf("upsert comment %q: %w", stored.ID, err)
		}
		updated++
	}
	return updated, nil
}
