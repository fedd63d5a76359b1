package bitbucketclt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type mergeabilityJSON struct {
	CanMerge bool `json:"canMerge"`
	Vetoes   []struct {
		SummaryMessage string `json:"summaryMessage"`
	} `json:"vetoes"`
}

// canMerge runs the server-side mergeability pre-check for the pull
// request. When the PR can not be merged the returned reason contains the
// veto summaries of the server.
func (clt *Client) canMerge(ctx context.Context, pr *PullRequest) (ok bool, reason string, err error) {
	body, err := clt.get(ctx, clt.prEndpoint(pr, "/merge"))
	if err != nil {
		return false, "", err
	}

	var result mergeabilityJSON
	if err := json.Unmarshal(body, &result); err != nil {
		return false, "", fmt.Errorf("decoding mergeability response failed: %w", err)
	}

	if result.CanMerge {
		return true, "", nil
	}

	vetoes := make([]string, 0, len(result.Vetoes))
	for _, veto := range result.Vetoes {
		vetoes = append(vetoes, veto.SummaryMessage)
	}

	return false, strings.Join(vetoes, "; "), nil
}

// Merge merges the pull request.
// The server-side mergeability pre-check is consulted first, a doomed merge
// request is not submitted. Errors contain the pull request URL.
func (clt *Client) Merge(ctx context.Context, pr *PullRequest) error {
	ok, reason, err := clt.canMerge(ctx, pr)
	if err != nil {
		return fmt.Errorf("mergeability check for %s failed: %w", pr.URL(), err)
	}

	if !ok {
		if reason == "" {
			reason = "server reported canMerge=false"
		}

		return fmt.Errorf("%s is not ready to merge: %s", pr.URL(), reason)
	}

	resp, body, err := clt.postJSON(ctx, clt.prEndpoint(pr, "/merge"), struct {
		Version int `json:"version"`
	}{Version: pr.Version})
	if err != nil {
		return fmt.Errorf("merging %s failed: %w", pr.URL(), err)
	}

	if err := clt.responseError(resp.StatusCode, pr.URL(), body); err != nil {
		return fmt.Errorf("merging failed: %w", err)
	}

	return nil
}
