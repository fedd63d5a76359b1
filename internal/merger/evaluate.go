package merger

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/mergeordinator/internal/bitbucketclt"
	"github.com/simplesurance/mergeordinator/internal/logfields"
)

// shouldMerge reports if the merge trigger is present in the pull request.
//
// The description is checked first, a match short-circuits and the comments
// are not fetched. Otherwise the comments written by username are searched,
// including replies in nested threads.
// A comment fetch failure is degraded to an empty comment list, it must not
// fail the evaluation of the pull request.
func (m *Merger) shouldMerge(ctx context.Context, logger *zap.Logger, pr *bitbucketclt.PullRequest, username string) bool {
	if m.checkDescription && m.trigger.Matches(pr.Description) {
		logger.Info(
			"found merge trigger in pull request description",
			logfields.Event("merge_trigger_found"),
		)

		return true
	}

	if !m.checkComments {
		return false
	}

	comments, err := m.bb.Comments(ctx, pr, username)
	if err != nil {
		logger.Error(
			"fetching pull request comments failed, treating as no comments",
			logfields.Event("comment_fetch_failed"),
			zap.Error(err),
		)

		return false
	}

	for _, comment := range comments {
		if m.trigger.Matches(comment) {
			logger.Info(
				"found merge trigger in own pull request comment",
				logfields.Event("merge_trigger_found"),
			)

			return true
		}
	}

	return false
}
