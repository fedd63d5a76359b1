package bitbucketclt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// BuildState is the outcome of a CI build as reported by Bitbucket.
type BuildState string

const (
	BuildStatePassed     BuildState = "SUCCESSFUL"
	BuildStateFailed     BuildState = "FAILED"
	BuildStateInProgress BuildState = "INPROGRESS"
	BuildStateUnknown    BuildState = "UNKNOWN"
)

func parseBuildState(val string) BuildState {
	switch BuildState(val) {
	case BuildStatePassed, BuildStateFailed, BuildStateInProgress:
		return BuildState(val)
	default:
		return BuildStateUnknown
	}
}

// BuildStatus is the CI status of one build for a commit.
type BuildStatus struct {
	Name  string
	URL   string
	State BuildState
}

type buildStatusJSON struct {
	State string `json:"state"`
	Key   string `json:"key"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// BuildStatuses returns all build statuses reported for the commit hash.
func (clt *Client) BuildStatuses(ctx context.Context, commitHash string) ([]*BuildStatus, error) {
	raw, err := clt.getPaged(ctx, "/rest/build-status/1.0/commits/"+url.PathEscape(commitHash), nil)
	if err != nil {
		return nil, fmt.Errorf("listing build statuses of commit %s failed: %w", commitHash, err)
	}

	result := make([]*BuildStatus, 0, len(raw))

	for _, rawStatus := range raw {
		var status buildStatusJSON

		if err := json.Unmarshal(rawStatus, &status); err != nil {
			return nil, fmt.Errorf("decoding build status of commit %s failed: %w", commitHash, err)
		}

		name := status.Name
		if name == "" {
			name = status.Key
		}

		result = append(result, &BuildStatus{
			Name:  name,
			URL:   status.URL,
			State: parseBuildState(status.State),
		})
	}

	return result, nil
}
