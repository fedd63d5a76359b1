// Package merger implements the concurrent pull request merge sweep.
//
// A sweep fetches two independent sets of open pull requests, the ones
// authored by the authenticated user and the ones the user approved. Every
// pull request is evaluated for the merge trigger and merged when it is
// present. For merges that fail, rebuilds of failed CI builds can be
// triggered, limited by a durable per-commit backoff policy.
package merger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"github.com/simplesurance/mergeordinator/internal/bitbucketclt"
	"github.com/simplesurance/mergeordinator/internal/history"
	"github.com/simplesurance/mergeordinator/internal/logfields"
	"github.com/simplesurance/mergeordinator/internal/trigger"
)

const loggerName = "merger"

// ErrNoAuthor is returned when a non-empty pull request result set does not
// contain a resolvable author username.
var ErrNoAuthor = errors.New("pull request has no author")

//go:generate mockgen -package mocks -destination mocks/clients.go -source merger.go BitbucketClient,CIClient

// BitbucketClient is the interface of the Bitbucket Server adapter that the
// Merger consumes.
type BitbucketClient interface {
	DashboardPullRequests(ctx context.Context, params url.Values) ([]*bitbucketclt.PullRequest, error)
	Whoami(ctx context.Context) (string, error)
	Comments(ctx context.Context, pr *bitbucketclt.PullRequest, author string) ([]string, error)
	Merge(ctx context.Context, pr *bitbucketclt.PullRequest) error
	BuildStatuses(ctx context.Context, commitHash string) ([]*bitbucketclt.BuildStatus, error)
}

// CIClient triggers rebuilds of CI builds.
type CIClient interface {
	Rebuild(ctx context.Context, buildURL string) error
}

// Merger runs merge sweeps over the authenticated user's pull requests.
type Merger struct {
	bb BitbucketClient
	// ci is nil when the CI retry subsystem is not configured, build
	// retries are then skipped
	ci CIClient

	trigger *trigger.Matcher
	// retryTrigger selects failed builds by name that may be retried,
	// nil disables build retries
	retryTrigger *regexp.Regexp
	// filterQuery optionally restricts the sweep to pull requests whose
	// JSON representation matches the query
	filterQuery *gojq.Query

	checkDescription bool
	checkComments    bool

	store              history.Store
	policy             *history.Policy
	stalenessThreshold time.Duration

	logger *zap.Logger
}

type Opt func(*Merger)

// WithCIClient enables triggering rebuilds of failed CI builds whose name
// matches retryTrigger.
func WithCIClient(ci CIClient, retryTrigger *regexp.Regexp) Opt {
	return func(m *Merger) {
		m.ci = ci
		m.retryTrigger = retryTrigger
	}
}

// WithFilterQuery restricts the sweep to pull requests for which the jq
// query evaluates to true.
func WithFilterQuery(query *gojq.Query) Opt {
	return func(m *Merger) {
		m.filterQuery = query
	}
}

// WithDescriptionCheck enables or disables searching pull request
// descriptions for the merge trigger.
func WithDescriptionCheck(enabled bool) Opt {
	return func(m *Merger) {
		m.checkDescription = enabled
	}
}

// WithCommentCheck enables or disables searching the user's own pull
// request comments for the merge trigger.
func WithCommentCheck(enabled bool) Opt {
	return func(m *Merger) {
		m.checkComments = enabled
	}
}

// WithStalenessThreshold overrides the age at which retry records are
// garbage collected.
func WithStalenessThreshold(threshold time.Duration) Opt {
	return func(m *Merger) {
		m.stalenessThreshold = threshold
	}
}

func New(
	bb BitbucketClient,
	store history.Store,
	policy *history.Policy,
	mergeTrigger *trigger.Matcher,
	opts ...Opt,
) *Merger {
	m := Merger{
		bb:                 bb,
		store:              store,
		policy:             policy,
		trigger:            mergeTrigger,
		checkDescription:   true,
		checkComments:      true,
		stalenessThreshold: history.DefStalenessThreshold,
		logger:             zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&m)
	}

	return &m
}

// Result contains the outcome of one sweep.
// A scope error means the pull request list of that scope could not be
// fetched, the other scope is unaffected.
type Result struct {
	OwnChecked      int
	ApprovedChecked int

	OwnErr      error
	ApprovedErr error
}

// RunSweep garbage collects stale retry records, then checks and merges the
// pull requests of both scopes concurrently.
// Failures of individual pull requests are logged and counted, they never
// abort the sweep.
func (m *Merger) RunSweep(ctx context.Context) *Result {
	metrics.SweepsInc()
	m.store.Sweep(m.stalenessThreshold)

	var result Result
	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		defer m.recoverPanic()
		result.OwnChecked, result.OwnErr = m.sweepOwnPRs(ctx)
	}()

	go func() {
		defer wg.Done()
		defer m.recoverPanic()
		result.ApprovedChecked, result.ApprovedErr = m.sweepApprovedPRs(ctx)
	}()

	wg.Wait()

	if result.OwnErr != nil {
		metrics.ScopeErrorsInc(scopeOwn)
		m.logger.Error(
			"checking own pull requests failed",
			logfields.Event("sweep_scope_failed"),
			logfields.Scope(scopeOwn),
			zap.Error(result.OwnErr),
		)
	}

	if result.ApprovedErr != nil {
		metrics.ScopeErrorsInc(scopeApproved)
		m.logger.Error(
			"checking approved pull requests failed",
			logfields.Event("sweep_scope_failed"),
			logfields.Scope(scopeApproved),
			zap.Error(result.ApprovedErr),
		)
	}

	m.logger.Info(
		"sweep finished",
		logfields.Event("sweep_finished"),
		zap.Int("own_prs_checked", result.OwnChecked),
		zap.Int("approved_prs_checked", result.ApprovedChecked),
	)

	return &result
}

// sweepOwnPRs checks the open pull requests authored by the authenticated
// user and returns how many were checked.
// The acting username is derived from the author field of the first result.
func (m *Merger) sweepOwnPRs(ctx context.Context) (int, error) {
	params := url.Values{
		"state": {"open"},
		"role":  {"author"},
	}

	m.logger.Debug("fetching own pull requests", logfields.Scope(scopeOwn))

	prs, err := m.bb.DashboardPullRequests(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("fetching own pull requests failed: %w", err)
	}

	if len(prs) == 0 {
		return 0, nil
	}

	username := prs[0].Author
	if username == "" {
		return 0, fmt.Errorf("deriving acting username from first result failed: %w", ErrNoAuthor)
	}

	m.logger.Debug(
		"checking own pull requests",
		logfields.Scope(scopeOwn),
		zap.String("username", username),
		zap.Int("pr_count", len(prs)),
	)

	m.checkPRs(ctx, scopeOwn, prs, username)

	return len(prs), nil
}

// sweepApprovedPRs checks the open pull requests the authenticated user
// approved and returns how many were checked.
// The pull request list and the acting username are fetched concurrently.
func (m *Merger) sweepApprovedPRs(ctx context.Context) (int, error) {
	params := url.Values{
		"state":             {"open"},
		"role":              {"reviewer"},
		"participantStatus": {"approved"},
	}

	m.logger.Debug("fetching approved pull requests", logfields.Scope(scopeApproved))

	var wg sync.WaitGroup
	var prs []*bitbucketclt.PullRequest
	var username string
	var prsErr, usernameErr error

	wg.Add(2)

	go func() {
		defer wg.Done()
		prs, prsErr = m.bb.DashboardPullRequests(ctx, params)
	}()

	go func() {
		defer wg.Done()
		username, usernameErr = m.bb.Whoami(ctx)
	}()

	wg.Wait()

	if prsErr != nil {
		return 0, fmt.Errorf("fetching approved pull requests failed: %w", prsErr)
	}

	if usernameErr != nil {
		return 0, fmt.Errorf("fetching authenticated username failed: %w", usernameErr)
	}

	if len(prs) == 0 {
		return 0, nil
	}

	m.logger.Debug(
		"checking approved pull requests",
		logfields.Scope(scopeApproved),
		zap.String("username", username),
		zap.Int("pr_count", len(prs)),
	)

	m.checkPRs(ctx, scopeApproved, prs, username)

	return len(prs), nil
}

// checkPRs evaluates and acts on all pull requests concurrently, one
// goroutine per pull request, and waits until all finished.
// The fan-out is unbounded, it is limited by the number of open pull
// requests.
func (m *Merger) checkPRs(ctx context.Context, scope string, prs []*bitbucketclt.PullRequest, username string) {
	var wg sync.WaitGroup

	for _, pr := range prs {
		pr := pr

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.recoverPanic()

			m.checkPR(ctx, scope, pr, username)
		}()
	}

	wg.Wait()
}

func (m *Merger) checkPR(ctx context.Context, scope string, pr *bitbucketclt.PullRequest, username string) {
	metrics.CheckedPRsInc(scope)

	logger := m.logger.With(
		logfields.Scope(scope),
		logfields.PullRequest(pr.ID),
		logfields.PullRequestURL(pr.URL()),
		logfields.Repository(pr.RepoSlug),
		logfields.Commit(pr.CommitHash),
	)

	if !m.filterMatches(ctx, logger, pr) {
		logger.Debug("pull request does not match filter query", logfields.Event("pr_filtered"))
		return
	}

	if !m.shouldMerge(ctx, logger, pr, username) {
		logger.Debug("no merge trigger found", logfields.Event("merge_trigger_not_found"))
		return
	}

	if err := m.bb.Merge(ctx, pr); err != nil {
		metrics.MergesInc(false)
		logger.Error(
			"merging pull request failed",
			logfields.Event("pr_merge_failed"),
			zap.Error(err),
		)

		m.retryFailedBuilds(ctx, logger, pr)

		return
	}

	metrics.MergesInc(true)
	logger.Info("pull request merged", logfields.Event("pr_merged"))

	// the revision merged, future retries for it are meaningless
	if pr.CommitHash != "" {
		if err := m.store.Delete(pr.CommitHash); err != nil {
			logger.Warn(
				"deleting retry record of merged pull request failed",
				logfields.Event("retry_record_delete_failed"),
				zap.Error(err),
			)
		}
	}
}

func (m *Merger) recoverPanic() {
	if r := recover(); r != nil {
		m.logger.Error(
			"panic while checking pull requests",
			logfields.Event("sweep_panic"),
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)
	}
}
