package crawl

import "errors"

// ErrRateLimited is returned by Source implementations when the external
// platform signals throttling. The engine recovers locally by substituting a
// neutral empty result instead of failing the unit of work.
var ErrRateLimited = errors.New("source rate limited")

// FailureClass labels a Source failure for logging and counters.
type FailureClass string

// Failure classes for Source calls. Store write failures are never
// classified; they propagate out of the owning unit of work.
const (
	FailureRateLimited FailureClass = "rate_limited"
	FailureTransient   FailureClass = "transient"
)

// Classify maps a Source error onto the failure taxonomy.
func Classify(err error) FailureClass {
	if errors.Is(err, ErrRateLimited) {
		return FailureRateLimited
	}
	return FailureTransient
}
