package merger

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/mergeordinator/internal/bitbucketclt"
	"github.com/simplesurance/mergeordinator/internal/logfields"
)

// retryFailedBuilds triggers rebuilds of failed CI builds of the pull
// request. It is invoked after a merge attempt failed and is best-effort,
// all failures are logged and skipped.
//
// All failed builds of the pull request share the backoff counter of the
// pull request's commit hash, the retry ceiling caps retries per revision,
// not per build.
func (m *Merger) retryFailedBuilds(ctx context.Context, logger *zap.Logger, pr *bitbucketclt.PullRequest) {
	if m.ci == nil || m.retryTrigger == nil {
		logger.Debug(
			"ci rebuilds are not configured, skipping retry attempt",
			logfields.Event("build_retry_skipped"),
		)

		return
	}

	if pr.CommitHash == "" {
		logger.Error(
			"could not resolve commit hash of pull request, skipping retry attempt",
			logfields.Event("build_retry_skipped"),
		)

		return
	}

	statuses, err := m.bb.BuildStatuses(ctx, pr.CommitHash)
	if err != nil {
		logger.Error(
			"fetching build statuses failed, skipping retry attempt",
			logfields.Event("build_retry_skipped"),
			zap.Error(err),
		)

		return
	}

	for _, build := range statuses {
		if build.State != bitbucketclt.BuildStateFailed {
			continue
		}

		if !m.retryTrigger.MatchString(build.Name) {
			continue
		}

		blogger := logger.With(
			logfields.Build(build.Name),
			logfields.BuildURL(build.URL),
		)

		if !m.policy.ShouldRetryNow(pr.CommitHash) {
			blogger.Debug(
				"rebuild not permitted by backoff policy",
				logfields.Event("build_retry_denied"),
			)

			continue
		}

		blogger.Info("triggering rebuild", logfields.Event("build_retry_triggered"))

		if err := m.ci.Rebuild(ctx, build.URL); err != nil {
			blogger.Error(
				"triggering rebuild failed",
				logfields.Event("build_retry_failed"),
				zap.Error(err),
			)

			continue
		}

		metrics.BuildRetriesInc()
		blogger.Info("rebuild triggered", logfields.Event("build_retry_succeeded"))
	}
}
