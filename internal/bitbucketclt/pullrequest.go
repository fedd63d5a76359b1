package bitbucketclt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// PullRequest is a pull request returned by the dashboard endpoint.
// It is immutable within one sweep, the Version token is required by the
// server to perform an optimistic-concurrency merge.
type PullRequest struct {
	ID          int
	Version     int
	Description string
	Author      string
	ProjectKey  string
	RepoSlug    string
	// CommitHash is the latest commit of the PR source branch. It may be
	// empty when the server omits the field, build retries are then not
	// possible for this PR.
	CommitHash string
	// SelfURL is the browser URL of the pull request, used in log
	// messages and errors.
	SelfURL string
	// Raw is the unparsed pull request JSON, it is matched against the
	// configured filter query.
	Raw json.RawMessage
}

// URL returns a human readable URL identifying the pull request.
func (pr *PullRequest) URL() string {
	if pr.SelfURL != "" {
		return pr.SelfURL
	}

	return fmt.Sprintf("%s/%s/pull-requests/%d", pr.ProjectKey, pr.RepoSlug, pr.ID)
}

type prJSON struct {
	ID          int    `json:"id"`
	Version     int    `json:"version"`
	Description string `json:"description"`

	Author struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	} `json:"author"`

	FromRef struct {
		LatestCommit string `json:"latestCommit"`
	} `json:"fromRef"`

	ToRef struct {
		Repository struct {
			Slug    string `json:"slug"`
			Project struct {
				Key string `json:"key"`
			} `json:"project"`
		} `json:"repository"`
	} `json:"toRef"`

	Links struct {
		Self []struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"links"`
}

func parsePullRequest(raw json.RawMessage) (*PullRequest, error) {
	var pr prJSON

	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("decoding pull request failed: %w", err)
	}

	result := PullRequest{
		ID:          pr.ID,
		Version:     pr.Version,
		Description: pr.Description,
		Author:      pr.Author.User.Name,
		ProjectKey:  pr.ToRef.Repository.Project.Key,
		RepoSlug:    pr.ToRef.Repository.Slug,
		CommitHash:  pr.FromRef.LatestCommit,
		Raw:         raw,
	}

	if len(pr.Links.Self) > 0 {
		result.SelfURL = pr.Links.Self[0].Href
	}

	return &result, nil
}

// DashboardPullRequests lists pull requests of the authenticated user's
// dashboard. params filters the result set, the server supports the keys
// state, role and participantStatus.
// Paging is handled transparently.
func (clt *Client) DashboardPullRequests(ctx context.Context, params url.Values) ([]*PullRequest, error) {
	raw, err := clt.getPaged(ctx, "/rest/api/1.0/dashboard/pull-requests", params)
	if err != nil {
		return nil, fmt.Errorf("listing dashboard pull requests failed: %w", err)
	}

	result := make([]*PullRequest, 0, len(raw))
	for _, rawPR := range raw {
		pr, err := parsePullRequest(rawPR)
		if err != nil {
			return nil, err
		}

		result = append(result, pr)
	}

	return result, nil
}

func (clt *Client) prEndpoint(pr *PullRequest, suffix string) string {
	return fmt.Sprintf(
		"%s/rest/api/1.0/projects/%s/repos/%s/pull-requests/%d%s",
		clt.baseURL,
		url.PathEscape(pr.ProjectKey),
		url.PathEscape(pr.RepoSlug),
		pr.ID,
		suffix,
	)
}

type commentJSON struct {
	Text   string `json:"text"`
	Author struct {
		Name string `json:"name"`
	} `json:"author"`
	Comments []commentJSON `json:"comments"`
}

type activityJSON struct {
	Action  string       `json:"action"`
	Comment *commentJSON `json:"comment"`
}

// flatten appends the comment text and the text of all its nested replies
// that were written by author.
func (c *commentJSON) flatten(author string, result []string) []string {
	if author == "" || c.Author.Name == author {
		result = append(result, c.Text)
	}

	for i := range c.Comments {
		result = c.Comments[i].flatten(author, result)
	}

	return result
}

// Comments returns the text of all comments on the pull request written by
// author, including replies in nested comment threads.
// If author is empty, all comments are returned.
func (clt *Client) Comments(ctx context.Context, pr *PullRequest, author string) ([]string, error) {
	raw, err := clt.getPaged(ctx, fmt.Sprintf(
		"/rest/api/1.0/projects/%s/repos/%s/pull-requests/%d/activities",
		url.PathEscape(pr.ProjectKey), url.PathEscape(pr.RepoSlug), pr.ID,
	), nil)
	if err != nil {
		return nil, fmt.Errorf("listing activities of %s failed: %w", pr.URL(), err)
	}

	var result []string

	for _, rawActivity := range raw {
		var activity activityJSON

		if err := json.Unmarshal(rawActivity, &activity); err != nil {
			return nil, fmt.Errorf("decoding activity of %s failed: %w", pr.URL(), err)
		}

		if activity.Action != "COMMENTED" || activity.Comment == nil {
			continue
		}

		result = activity.Comment.flatten(author, result)
	}

	return result, nil
}
