package merger

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/mergeordinator/internal/bitbucketclt"
	"github.com/simplesurance/mergeordinator/internal/logfields"
)

// filterMatches evaluates the configured jq filter query against the raw
// JSON representation of the pull request.
// The query must produce exactly one boolean result. Evaluation failures
// are logged and exclude the pull request from the sweep.
func (m *Merger) filterMatches(ctx context.Context, logger *zap.Logger, pr *bitbucketclt.PullRequest) bool {
	if m.filterQuery == nil {
		return true
	}

	var prUn any

	if err := json.Unmarshal(pr.Raw, &prUn); err != nil {
		logger.Error(
			"unmarshaling pull request json for filter query failed",
			logfields.Event("filter_query_failed"),
			zap.Error(err),
		)

		return false
	}

	var results []any

	iter := m.filterQuery.RunWithContext(ctx, prUn)
	for {
		res, ok := iter.Next()
		if !ok {
			break
		}

		if err, isErr := res.(error); isErr {
			logger.Error(
				"filter query evaluation failed",
				logfields.Event("filter_query_failed"),
				zap.Error(err),
			)

			return false
		}

		results = append(results, res)
	}

	if len(results) != 1 {
		logger.Error(
			"filter query returned an unexpected number of results, expected exactly 1",
			logfields.Event("filter_query_failed"),
			zap.Int("result_count", len(results)),
		)

		return false
	}

	match, ok := results[0].(bool)
	if !ok {
		logger.Error(
			"filter query returned a non-boolean result",
			logfields.Event("filter_query_failed"),
			zap.String("result_type", fmt.Sprintf("%T", results[0])),
		)

		return false
	}

	return match
}
