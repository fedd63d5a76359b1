package bitbucketclt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/mergeordinator/internal/mergerr"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(srv.URL, "api-token")
}

const prPayload = `{
	"id": 42,
	"version": 7,
	"description": "fixes the flux capacitor\n:shipit:",
	"author": {"user": {"name": "mmustermann"}},
	"fromRef": {"latestCommit": "8d7696fca16eff2b26b04e9eda8b4f2ffded1c33"},
	"toRef": {"repository": {"slug": "flux", "project": {"key": "SIS"}}},
	"links": {"self": [{"href": "https://bitbucket.example.com/projects/SIS/repos/flux/pull-requests/42"}]}
}`

func TestDashboardPullRequestsFollowsPaging(t *testing.T) {
	var starts []string

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/1.0/dashboard/pull-requests", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer api-token", r.Header.Get("Authorization"))
		assert.Equal(t, "open", r.URL.Query().Get("state"))

		start := r.URL.Query().Get("start")
		starts = append(starts, start)

		switch start {
		case "0":
			fmt.Fprintf(w, `{"isLastPage": false, "nextPageStart": 1, "values": [%s]}`, prPayload)
		case "1":
			fmt.Fprintf(w, `{"isLastPage": true, "values": [%s]}`, prPayload)
		default:
			t.Errorf("unexpected start parameter: %q", start)
		}
	})

	clt := newTestClient(t, mux)

	prs, err := clt.DashboardPullRequests(context.Background(), url.Values{"state": {"open"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "1"}, starts)
	require.Len(t, prs, 2)

	pr := prs[0]
	assert.Equal(t, 42, pr.ID)
	assert.Equal(t, 7, pr.Version)
	assert.Equal(t, "mmustermann", pr.Author)
	assert.Equal(t, "SIS", pr.ProjectKey)
	assert.Equal(t, "flux", pr.RepoSlug)
	assert.Equal(t, "8d7696fca16eff2b26b04e9eda8b4f2ffded1c33", pr.CommitHash)
	assert.Contains(t, pr.URL(), "/pull-requests/42")
	assert.NotEmpty(t, pr.Raw)
}

func TestCommentsFlattensReplyThreadsAndFiltersByAuthor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/1.0/projects/SIS/repos/flux/pull-requests/42/activities", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"isLastPage": true, "values": [
			{"action": "COMMENTED", "comment": {
				"text": "looks good",
				"author": {"name": "reviewer"},
				"comments": [
					{"text": ":shipit:", "author": {"name": "mmustermann"}, "comments": [
						{"text": "thanks!", "author": {"name": "mmustermann"}, "comments": []}
					]}
				]
			}},
			{"action": "MERGED"},
			{"action": "COMMENTED", "comment": {"text": "unrelated", "author": {"name": "somebody"}, "comments": []}}
		]}`)
	})

	clt := newTestClient(t, mux)

	pr := &PullRequest{ID: 42, ProjectKey: "SIS", RepoSlug: "flux"}

	comments, err := clt.Comments(context.Background(), pr, "mmustermann")
	require.NoError(t, err)
	assert.Equal(t, []string{":shipit:", "thanks!"}, comments)
}

func TestMergeSubmitsVersionToken(t *testing.T) {
	var merged bool

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/1.0/projects/SIS/repos/flux/pull-requests/42/merge", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"canMerge": true}`)
		case http.MethodPost:
			var body struct {
				Version int `json:"version"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 7, body.Version)
			merged = true
			fmt.Fprint(w, `{}`)
		}
	})

	clt := newTestClient(t, mux)

	pr := &PullRequest{ID: 42, Version: 7, ProjectKey: "SIS", RepoSlug: "flux"}

	require.NoError(t, clt.Merge(context.Background(), pr))
	assert.True(t, merged)
}

func TestMergeFailsWithVetoReasonAndPRURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/1.0/projects/SIS/repos/flux/pull-requests/42/merge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			t.Error("merge must not be submitted when the pre-check vetoes it")
			return
		}

		fmt.Fprint(w, `{"canMerge": false, "vetoes": [{"summaryMessage": "requires 2 approvals"}]}`)
	})

	clt := newTestClient(t, mux)

	pr := &PullRequest{
		ID: 42, ProjectKey: "SIS", RepoSlug: "flux",
		SelfURL: "https://bitbucket.example.com/projects/SIS/repos/flux/pull-requests/42",
	}

	err := clt.Merge(context.Background(), pr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires 2 approvals")
	assert.Contains(t, err.Error(), pr.SelfURL)
}

func TestBuildStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/build-status/1.0/commits/8d7696f", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"isLastPage": true, "values": [
			{"state": "FAILED", "key": "ci-lint", "name": "lint", "url": "https://jenkins.example.com/job/lint/3/"},
			{"state": "SUCCESSFUL", "key": "ci-test", "url": "https://jenkins.example.com/job/test/9/"},
			{"state": "SOMETHING_NEW", "key": "ci-x", "url": "https://jenkins.example.com/job/x/1/"}
		]}`)
	})

	clt := newTestClient(t, mux)

	statuses, err := clt.BuildStatuses(context.Background(), "8d7696f")
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, "lint", statuses[0].Name)
	assert.Equal(t, BuildStateFailed, statuses[0].State)
	// name falls back to the key when the server omits it
	assert.Equal(t, "ci-test", statuses[1].Name)
	assert.Equal(t, BuildStatePassed, statuses[1].State)
	assert.Equal(t, BuildStateUnknown, statuses[2].State)
}

func TestWhoami(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/plugins/servlet/applinks/whoami", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "mmustermann\n")
	})

	clt := newTestClient(t, mux)

	username, err := clt.Whoami(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mmustermann", username)
}

func TestResponseErrorClassification(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := New("https://bitbucket.example.com", "")

	var retryable *mergerr.RetryableError

	err := clt.responseError(http.StatusBadGateway, "https://bitbucket.example.com/x", nil)
	require.Error(t, err)
	assert.ErrorAs(t, err, &retryable)

	err = clt.responseError(http.StatusTooManyRequests, "https://bitbucket.example.com/x", nil)
	require.Error(t, err)
	assert.ErrorAs(t, err, &retryable)

	err = clt.responseError(http.StatusNotFound, "https://bitbucket.example.com/x", []byte("no such repo"))
	require.Error(t, err)
	assert.False(t, errors.As(err, &retryable), "404 must not be retryable")
	assert.Contains(t, err.Error(), "no such repo")

	assert.NoError(t, clt.responseError(http.StatusOK, "https://bitbucket.example.com/x", nil))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
